package vmm

import (
	"unsafe"

	"corvid/kernel"
	"corvid/kernel/cpu"
	"corvid/kernel/mem"
	"corvid/kernel/mem/pmm"
)

var (
	// nextAddrFn is used by tests to override the nextTableAddr
	// calculation performed by Map. When compiling the kernel this
	// function is automatically inlined.
	nextAddrFn = func(entryAddr uintptr) uintptr {
		return entryAddr
	}

	// flushTLBEntryFn is substituted by tests to avoid calling the real
	// (privileged) TLB flush instruction.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// mapTemporaryFn and unmapFn are indirections over MapTemporary and
	// Unmap so that callers elsewhere in the package (and tests) can
	// substitute them.
	mapTemporaryFn = MapTemporary
	unmapFn        = Unmap

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// ReservedZeroedFrame is a zero-filled physical frame set up by Init. It
// backs on-demand allocation: a range can be mapped read-only against this
// single frame with FlagCopyOnWrite, and the first write to any of those
// pages triggers a page fault that allocates and installs a private copy.
var ReservedZeroedFrame pmm.Frame

var protectReservedZeroedPage bool

var errAttemptToRWMapReservedFrame = &kernel.Error{Module: "vmm", Message: "reserved blank frame cannot be mapped with a RW flag"}

// Map establishes a mapping between a virtual page and a physical frame
// using the currently active address space, allocating intermediate page
// tables on demand via the registered frame allocator.
func Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if protectReservedZeroedPage && frame == ReservedZeroedFrame && (flags&FlagRW) != 0 {
		return errAttemptToRWMapReservedFrame
	}

	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			var newTableFrame pmm.Frame
			newTableFrame, err = frameAllocator()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)

			nextTableAddr := uintptr(unsafe.Pointer(pte)) << pageLevelBits[pteLevel+1]
			mem.Memset(nextAddrFn(nextTableAddr), 0, mem.PageSize)
		}

		return true
	})

	return err
}

// MapTemporary establishes a temporary RW mapping of a physical frame to a
// fixed virtual address, overwriting any previous mapping there. It backs
// the short-lived accesses the kernel needs when initializing an inactive
// page table.
func MapTemporary(frame pmm.Frame) (Page, *kernel.Error) {
	if protectReservedZeroedPage && frame == ReservedZeroedFrame {
		return 0, errAttemptToRWMapReservedFrame
	}

	if err := Map(PageFromAddress(tempMappingAddr), frame, FlagRW); err != nil {
		return 0, err
	}

	return PageFromAddress(tempMappingAddr), nil
}

// Unmap removes a mapping previously installed via Map or MapTemporary.
func Unmap(page Page) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return err
}
