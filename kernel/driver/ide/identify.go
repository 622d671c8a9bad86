package ide

// DriveInfo is a per-drive identity snapshot. It is immutable once computed
// at identification time, until the controller is reset.
type DriveInfo struct {
	Channel int
	Drive   int

	Type DriveType

	Cylinders, Heads, SectorsPerTrack uint16

	LBA28Sectors uint32
	LBA48Sectors uint64
	AddrMode     AddressMode

	SectorSize uint16

	DMACapable bool

	Model, Serial, Firmware string
}

// classify interprets the two cylinder register values left over after a
// drive reset, per the spec's drive-type table.
func classify(cylLow, cylHigh uint8) DriveType {
	switch {
	case cylLow == 0x14 && cylHigh == 0xEB:
		return ATAPI
	case cylLow == 0x69 && cylHigh == 0x96:
		return ATAPI
	case cylLow == 0x00 && cylHigh == 0x00:
		return ATA
	default:
		return Other
	}
}

// swapWordBytes un-swaps the byte-swapped ASCII fields (model, serial,
// firmware) IDENTIFY returns, and trims the trailing padding.
func swapWordBytes(words []uint16) string {
	buf := make([]byte, 0, len(words)*2)
	for _, w := range words {
		buf = append(buf, byte(w>>8), byte(w))
	}

	end := len(buf)
	for end > 0 && (buf[end-1] == ' ' || buf[end-1] == 0) {
		end--
	}
	return string(buf[:end])
}

// parseIdentify decodes the 256-word buffer returned by an IDENTIFY
// command into a DriveInfo. ch and drive are stamped into the result but
// otherwise play no part in decoding.
func parseIdentify(words [256]uint16, ch, drive int, driveType DriveType) DriveInfo {
	info := DriveInfo{
		Channel:          ch,
		Drive:            drive,
		Type:             driveType,
		Cylinders:        words[1],
		Heads:            words[3],
		SectorsPerTrack:  words[6],
		Serial:           swapWordBytes(words[10:20]),
		Firmware:         swapWordBytes(words[23:27]),
		Model:            swapWordBytes(words[27:47]),
		LBA28Sectors:     uint32(words[60]) | uint32(words[61])<<16,
		LBA48Sectors:     uint64(words[100]) | uint64(words[101])<<16 | uint64(words[102])<<32 | uint64(words[103])<<48,
	}

	capabilities := words[49]
	commandSet1 := words[83]

	lba28Supported := capabilities&(1<<9) != 0
	lba48Supported := commandSet1&(1<<10) != 0

	switch {
	case lba48Supported:
		info.AddrMode = LBA48
	case lba28Supported:
		info.AddrMode = LBA28
	default:
		info.AddrMode = CHS
	}

	// Word 49 bit 8 advertises DMA support.
	info.DMACapable = capabilities&(1<<8) != 0

	return info
}

// lbaToCHS converts a linear block address into a (cylinder, head, sector)
// tuple using the drive's identified geometry.
func lbaToCHS(info DriveInfo, lba uint32) (cyl uint16, head uint8, sector uint8) {
	heads := uint32(info.Heads)
	spt := uint32(info.SectorsPerTrack)
	if heads == 0 {
		heads = 16
	}
	if spt == 0 {
		spt = 63
	}

	cyl = uint16(lba / (heads * spt))
	head = uint8((lba / spt) % heads)
	sector = uint8(lba%spt) + 1
	return
}
