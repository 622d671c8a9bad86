package ide

// prepareAddress writes the sector-count/LBA (or CHS) registers for one
// chunk of up to Drive.maxChunk() sectors, per the drive's chosen
// addressing mode, and returns the command byte to issue.
func prepareAddress(c *Channel, drive int, info DriveInfo, lba uint32, count uint16, readCmd, writeCmd uint8, isWrite bool) uint8 {
	switch info.AddrMode {
	case CHS:
		cyl, head, sector := lbaToCHS(info, lba)
		c.selectDrive(drive, head&0x0F)
		outb(c.CommandBase+regSecCount, uint8(count))
		outb(c.CommandBase+regLBALow, sector)
		outb(c.CommandBase+regLBAMid, uint8(cyl))
		outb(c.CommandBase+regLBAHigh, uint8(cyl>>8))

	case LBA28:
		c.selectDrive(drive, driveHeadLBA|uint8((lba>>24)&0x0F))
		outb(c.CommandBase+regSecCount, uint8(count))
		outb(c.CommandBase+regLBALow, uint8(lba))
		outb(c.CommandBase+regLBAMid, uint8(lba>>8))
		outb(c.CommandBase+regLBAHigh, uint8(lba>>16))

	case LBA48:
		c.selectDrive(drive, driveHeadLBA)
		// Two-wave sequence: high sector-count, high LBA half, then low
		// sector-count, low LBA half.
		outb(c.CommandBase+regSecCount, uint8(count>>8))
		outb(c.CommandBase+regLBALow, uint8(lba>>24))
		outb(c.CommandBase+regLBAMid, 0)
		outb(c.CommandBase+regLBAHigh, 0)
		outb(c.CommandBase+regSecCount, uint8(count))
		outb(c.CommandBase+regLBALow, uint8(lba))
		outb(c.CommandBase+regLBAMid, uint8(lba>>8))
		outb(c.CommandBase+regLBAHigh, uint8(lba>>16))
	}

	if info.AddrMode == LBA48 {
		if isWrite {
			return writeCmd
		}
		return readCmd
	}

	if isWrite {
		return writeCmd
	}
	return readCmd
}

func commandsFor(mode AddressMode, dma bool) (readCmd, writeCmd uint8) {
	switch {
	case dma && mode == LBA48:
		return cmdReadDMA48, cmdWriteDMA48
	case dma:
		return cmdReadDMA28, cmdWriteDMA28
	case mode == LBA48:
		return cmdReadPIO48, cmdWritePIO48
	default:
		return cmdReadPIO28, cmdWritePIO28
	}
}

// performATAPIO performs one PIO transfer chunk of up to count sectors
// starting at lba, using drive's identified geometry/address mode, reading
// into or writing from buf. It returns the number of whole sectors actually
// transferred: if an intermediate DRDY wait times out mid-transfer, it
// breaks early and reports however many whole sectors completed.
func performATAPIO(c *Channel, drive int, lba uint32, count uint16, buf []byte, isWrite bool) uint16 {
	info := c.Drives[drive]
	readCmd, writeCmd := commandsFor(info.AddrMode, false)
	cmd := prepareAddress(c, drive, info, lba, count, readCmd, writeCmd, isWrite)
	outb(c.CommandBase+regCommand, cmd)

	if err := c.waitForDRQ(); err != nil {
		return 0
	}

	wordsPerSector := int(info.SectorSize) / 2
	var done uint16
	for sector := uint16(0); sector < count; sector++ {
		if sector > 0 {
			if err := c.waitWhileBusy(); err != nil {
				return done
			}
			if inb(c.CommandBase+regStatus)&statusDRDY == 0 {
				return done
			}
		}

		base := int(sector) * int(info.SectorSize)
		for w := 0; w < wordsPerSector; w++ {
			if isWrite {
				lo := buf[base+w*2]
				hi := buf[base+w*2+1]
				outw(c.CommandBase+regData, uint16(lo)|uint16(hi)<<8)
			} else {
				word := inw(c.CommandBase + regData)
				buf[base+w*2] = uint8(word)
				buf[base+w*2+1] = uint8(word >> 8)
			}
		}
		done++
	}

	return done
}
