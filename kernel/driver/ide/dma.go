package ide

import (
	"reflect"
	"unsafe"

	"corvid/kernel"
	"corvid/kernel/mem"
	"corvid/kernel/mem/pmm"
	"corvid/kernel/mem/vmm"
)

// dmaDeadlineMs bounds how long performATADMA waits for the completion
// interrupt before giving up and freeing its buffers.
const dmaDeadlineMs = 5000

// mapTemporaryFn/unmapFn are substituted by tests so DMA buffer setup can be
// exercised without a live page-table hierarchy.
var (
	mapTemporaryFn = vmm.MapTemporary
	unmapFn        = vmm.Unmap
)

func sliceAt(addr uintptr, length int) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  length,
		Cap:  length,
	}))
}

func prdTableAt(addr uintptr, length int) []PRD {
	return *(*[]PRD)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  length,
		Cap:  length,
	}))
}

// buildPRDTable fills a PRD table for a run of DMA buffer pages, each
// PageSize bytes, with every entry but the last describing one full page
// and the last carrying the end-of-transmission flag.
func buildPRDTable(pages []pmm.Frame) []PRD {
	table := make([]PRD, len(pages))
	for i, frame := range pages {
		table[i] = PRD{Base: uint32(frame.Address()), ByteCount: uint16(mem.PageSize)}
	}
	if len(table) > 0 {
		table[len(table)-1].Flags |= prdEndOfTransmission
	}
	return table
}

// performATADMA performs one DMA transfer chunk of up to count sectors
// starting at lba. It allocates scratch DMA buffer pages and a PRD table
// page via allocFn, programs the channel's bus-master registers, and
// spin-waits (with a timeout) for the completion interrupt. On timeout the
// scratch pages are freed and 0 sectors are reported.
func performATADMA(c *Channel, drive int, lba uint32, count uint16, buf []byte, isWrite bool, allocFn func(uint64) pmm.Range, freeFn func(pmm.Range)) (uint16, *kernel.Error) {
	info := c.Drives[drive]

	byteCount := uint64(count) * uint64(info.SectorSize)
	numPages := (byteCount + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)

	dmaFrames := allocFn(numPages)
	prdFrames := allocFn(1)
	defer func() {
		freeFn(dmaFrames)
		freeFn(prdFrames)
	}()

	dmaPage, err := mapTemporaryFn(dmaFrames.Start)
	if err != nil {
		return 0, err
	}
	dmaBuf := sliceAt(dmaPage.Address(), int(byteCount))

	if isWrite {
		copy(dmaBuf, buf[:byteCount])
	}

	frames := make([]pmm.Frame, numPages)
	for i := uint64(0); i < numPages; i++ {
		frames[i] = dmaFrames.Start + pmm.Frame(i)
	}
	prdEntries := buildPRDTable(frames)

	prdPage, err := mapTemporaryFn(prdFrames.Start)
	if err != nil {
		return 0, err
	}
	copy(prdTableAt(prdPage.Address(), len(prdEntries)), prdEntries)

	outl(c.BusMasterBase+dmaPRDAddr, uint32(prdFrames.Start.Address()))

	dmaCmd := uint8(0)
	if isWrite {
		dmaCmd = dmaCmdWrite
	}
	outb(c.BusMasterBase+dmaStatus, dmaStatusError|dmaStatusInterrupt)

	readCmd, writeCmd := commandsFor(info.AddrMode, true)
	cmd := prepareAddress(c, drive, info, lba, count, readCmd, writeCmd, isWrite)
	outb(c.CommandBase+regCommand, cmd)

	if err := c.waitForDRQ(); err != nil {
		unmapFn(dmaPage)
		unmapFn(prdPage)
		return 0, nil
	}

	c.receivedInterrupt = false
	outb(c.BusMasterBase+dmaCommand, dmaCmd|dmaCmdStart)

	deadline := systimeMsFn() + dmaDeadlineMs
	for !c.receivedInterrupt {
		if systimeMsFn() > deadline {
			outb(c.BusMasterBase+dmaCommand, dmaCmd)
			unmapFn(dmaPage)
			unmapFn(prdPage)
			return 0, errDMATimeout
		}
	}
	c.receivedInterrupt = false

	status := inb(c.BusMasterBase + dmaStatus)
	outb(c.BusMasterBase+dmaCommand, dmaCmd)

	if status&dmaStatusError != 0 {
		unmapFn(dmaPage)
		unmapFn(prdPage)
		return 0, errDMATimeout
	}

	if !isWrite {
		copy(buf[:byteCount], dmaBuf)
	}

	unmapFn(dmaPage)
	unmapFn(prdPage)

	return count, nil
}
