package ide

import (
	"corvid/kernel"
	"corvid/kernel/mem/pmm/allocator"
)

// allocFn/freeFn back performATADMA's scratch buffer allocation. They are
// substituted by tests.
var (
	allocFn = allocator.Alloc
	freeFn  = allocator.Free
)

// Drive adapts one identified drive on a Channel to kernel/blockdev.Device.
type Drive struct {
	channel *Channel
	slot    int
}

// NewDrive wraps slot (0=master, 1=slave) of channel as a block device. The
// channel must already have identified the drive via Reset+Identify.
func NewDrive(channel *Channel, slot int) *Drive {
	return &Drive{channel: channel, slot: slot}
}

func (d *Drive) info() DriveInfo {
	return d.channel.Drives[d.slot]
}

// SectorCount returns the drive's addressable sector count, per its chosen
// addressing mode.
func (d *Drive) SectorCount() uint64 {
	info := d.info()
	if info.AddrMode == LBA48 {
		return info.LBA48Sectors
	}
	return uint64(info.LBA28Sectors)
}

// SectorSize returns the drive's empirically probed sector size.
func (d *Drive) SectorSize() uint16 {
	return d.info().SectorSize
}

func (d *Drive) maxChunk() uint16 {
	if d.info().AddrMode == LBA48 {
		return maxSectorsLBA48
	}
	return maxSectorsOther
}

// Read reads count sectors starting at sector into buf, chunking the
// transfer to the drive's addressing mode's maximum sector count per
// perform_ata_io call and stopping early if any chunk transfers short.
func (d *Drive) Read(sector uint64, count uint16, buf []byte) (uint16, error) {
	return d.performIO(sector, count, buf, false)
}

// Write writes count sectors starting at sector from buf, with the same
// chunking behavior as Read.
func (d *Drive) Write(sector uint64, count uint16, buf []byte) (uint16, error) {
	return d.performIO(sector, count, buf, true)
}

func (d *Drive) performIO(sector uint64, count uint16, buf []byte, isWrite bool) (uint16, error) {
	sectorSize := uint64(d.info().SectorSize)
	maxChunk := d.maxChunk()

	var done uint16
	for done < count {
		remaining := count - done
		chunk := remaining
		if chunk > maxChunk {
			chunk = maxChunk
		}

		lba := uint32(sector + uint64(done))
		chunkBuf := buf[uint64(done)*sectorSize : uint64(done+chunk)*sectorSize]

		n, err := d.performChunk(lba, chunk, chunkBuf, isWrite)
		done += n
		if err != nil {
			return done, err
		}
		if n < chunk {
			break
		}
	}

	return done, nil
}

func (d *Drive) performChunk(lba uint32, count uint16, buf []byte, isWrite bool) (uint16, error) {
	d.channel.lock.Acquire()
	defer d.channel.lock.Release()

	info := d.channel.Drives[d.slot]
	if info.DMACapable && d.channel.BusMasterBase != 0 {
		n, err := performATADMA(d.channel, d.slot, lba, count, buf, isWrite, allocFn, freeFn)
		return n, asError(err)
	}

	return performATAPIO(d.channel, d.slot, lba, count, buf, isWrite), nil
}

// asError converts a *kernel.Error to a plain error, preserving nil rather
// than wrapping it in a non-nil interface holding a nil pointer.
func asError(err *kernel.Error) error {
	if err == nil {
		return nil
	}
	return err
}
