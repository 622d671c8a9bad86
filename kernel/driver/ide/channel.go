package ide

import (
	"corvid/kernel"
	"corvid/kernel/cpu"
	"corvid/kernel/sync"
)

var (
	// inb/outb/inw/outw/inl/outl are substituted by tests so the channel
	// logic can be exercised without real port I/O.
	inb  = cpu.Inb
	outb = cpu.Outb
	inw  = cpu.Inw
	outw = cpu.Outw
	inl  = cpu.Inl
	outl = cpu.Outl

	// systimeMsFn stands in for the monotonic clock the IDE DMA/PIO
	// deadlines are measured against; it is an external collaborator the
	// core does not implement (see spec's Timer interface).
	systimeMsFn = defaultSystimeMs

	resetWaitMsFn = busyWaitMs
)

// statusTimeoutMs bounds how long the channel waits for BSY to clear or DRQ
// to assert before giving up.
const statusTimeoutMs = 30000

var (
	errStatusTimeout = &kernel.Error{Module: "ide", Message: "timed out waiting for drive status"}
	errDMATimeout    = &kernel.Error{Module: "ide", Message: "timed out waiting for DMA interrupt"}
)

// Channel is one of a controller's two channels: a command port block, a
// control port block, an optional bus-master (DMA) port block, and the two
// drive slots it can address.
type Channel struct {
	lock sync.Spinlock

	CommandBase uint16
	ControlBase uint16
	BusMasterBase uint16 // 0 if the controller does not support DMA
	IRQLine       uint8

	receivedInterrupt bool
	lastCtrl          uint8
	selected          int // -1 if nothing selected yet

	Drives [2]DriveInfo
}

func newChannel(commandBase, controlBase, busMasterBase uint16, irq uint8) *Channel {
	return &Channel{
		CommandBase:   commandBase,
		ControlBase:   controlBase,
		BusMasterBase: busMasterBase,
		IRQLine:       irq,
		selected:      -1,
	}
}

// HandleInterrupt is the channel's interrupt handler. It does no work
// beyond atomically raising the flag; completion detection is the
// transfer routine's responsibility.
func (c *Channel) HandleInterrupt() {
	c.receivedInterrupt = true
}

func (c *Channel) writeCtrl(value uint8) {
	outb(c.ControlBase+regAltStatusCtrl, value)
	c.lastCtrl = value
}

func (c *Channel) readAltStatus() uint8 {
	return inb(c.ControlBase + regAltStatusCtrl)
}

// selectDrive selects drive (0=master, 1=slave) via the drive/head
// register, with the LBA bit and any high address bits the caller
// supplies, and records it as the selected drive. The register is written
// on every call, even when that drive is already selected.
func (c *Channel) selectDrive(drive int, headBits uint8) {
	value := driveHeadFixed | headBits
	if drive == 1 {
		value |= driveHeadSlave
	}
	outb(c.CommandBase+regDriveHead, value)
	c.selected = drive
}

// waitWhileBusy busy-waits (yielding to the caller's timeout clock) until
// BSY clears, returning errStatusTimeout if it does not within
// statusTimeoutMs.
func (c *Channel) waitWhileBusy() *kernel.Error {
	deadline := systimeMsFn() + statusTimeoutMs
	for inb(c.CommandBase+regStatus)&statusBSY != 0 {
		if systimeMsFn() > deadline {
			return errStatusTimeout
		}
	}
	return nil
}

// waitForDRQ busy-waits until DRQ asserts or ERR/DF is set, returning
// errStatusTimeout on timeout.
func (c *Channel) waitForDRQ() *kernel.Error {
	deadline := systimeMsFn() + statusTimeoutMs
	for {
		status := inb(c.CommandBase + regStatus)
		if status&(statusERR|statusDF) != 0 {
			return errStatusTimeout
		}
		if status&statusDRQ != 0 {
			return nil
		}
		if systimeMsFn() > deadline {
			return errStatusTimeout
		}
	}
}

func busyWaitMs(ms uint64) {
	deadline := systimeMsFn() + ms
	for systimeMsFn() < deadline {
	}
}

func defaultSystimeMs() uint64 {
	return uint64(cpu.ReadCR2()) // placeholder monotonic source pending a real timer driver
}

// Reset performs the drive reset sequence for drive (0 or 1): select it,
// assert software reset for >=5ms, deassert and disable interrupts, then
// read back the error/signature registers and classify the drive. Failures
// mark the slot Other and return nil; the channel remains usable for the
// other slot.
func (c *Channel) Reset(drive int) *kernel.Error {
	c.lock.Acquire()
	defer c.lock.Release()

	c.selectDrive(drive, 0)

	c.writeCtrl(ctrlSRST)
	resetWaitMsFn(5)
	c.writeCtrl(ctrlNIEN)

	errReg := inb(c.CommandBase + regError)
	if errReg != 0x00 && errReg != 0x01 {
		c.Drives[drive] = DriveInfo{Channel: 0, Drive: drive, Type: Other}
		return nil
	}

	secCount := inb(c.CommandBase + regSecCount)
	secNum := inb(c.CommandBase + regLBALow)
	if secCount != 0x01 || secNum != 0x01 {
		c.Drives[drive] = DriveInfo{Drive: drive, Type: Other}
		return nil
	}

	cylLow := inb(c.CommandBase + regLBAMid)
	cylHigh := inb(c.CommandBase + regLBAHigh)

	c.Drives[drive] = DriveInfo{Drive: drive, Type: classify(cylLow, cylHigh)}
	return nil
}

// Identify issues IDENTIFY_ATA or IDENTIFY_ATAPI for drive (as determined
// by the drive's classified Type from a prior Reset) and fills in the rest
// of its DriveInfo.
func (c *Channel) Identify(drive int) *kernel.Error {
	c.lock.Acquire()
	defer c.lock.Release()

	driveType := c.Drives[drive].Type
	if driveType != ATA && driveType != ATAPI {
		return nil
	}

	c.selectDrive(drive, 0)

	cmd := uint8(cmdIdentifyATA)
	if driveType == ATAPI {
		cmd = cmdIdentifyATAPI
	}
	outb(c.CommandBase+regCommand, cmd)

	if err := c.waitForDRQ(); err != nil {
		c.Drives[drive] = DriveInfo{Drive: drive, Type: Other}
		return nil
	}

	var words [256]uint16
	for i := range words {
		words[i] = inw(c.CommandBase + regData)
	}

	info := parseIdentify(words, 0, drive, driveType)
	info.SectorSize = c.probeSectorSize(drive, info)
	c.Drives[drive] = info
	return nil
}

// probeSectorSize determines sector size empirically, per spec, by
// counting the 16-bit words popped from the data register for a one-sector
// PIO read before DRQ deasserts or times out, rather than trusting any
// IDENTIFY field.
func (c *Channel) probeSectorSize(drive int, info DriveInfo) uint16 {
	c.selectDrive(drive, driveHeadLBA)
	outb(c.CommandBase+regSecCount, 1)
	outb(c.CommandBase+regLBALow, 0)
	outb(c.CommandBase+regLBAMid, 0)
	outb(c.CommandBase+regLBAHigh, 0)
	outb(c.CommandBase+regCommand, cmdReadPIO28)

	if err := c.waitForDRQ(); err != nil {
		return 512
	}

	var words uint16
	for inb(c.CommandBase+regStatus)&statusDRQ != 0 {
		inw(c.CommandBase + regData)
		words++
		if words > 4096 {
			break
		}
	}
	return words * 2
}
