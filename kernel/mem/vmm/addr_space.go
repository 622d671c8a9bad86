package vmm

import (
	"unsafe"

	"corvid/kernel"
	"corvid/kernel/cpu"
	"corvid/kernel/mem"
	"corvid/kernel/mem/pmm"
	"corvid/kernel/sync"
)

// Range describes a half-open, contiguous range of virtual pages
// [Start, Start+Count).
type Range struct {
	Start Page
	Count uint64
}

// End returns the (exclusive) page that follows the last page in the range.
func (r Range) End() Page {
	return r.Start + Page(r.Count)
}

// FreeFn returns a physical frame range to the frame allocator; it is the
// shape of kernel/mem/pmm/allocator.Free, passed in rather than imported
// directly so this package stays free of an import cycle with the
// allocator it ultimately runs on top of.
type FreeFn func(pmm.Range)

// AddressSpace generalizes the single global page directory the kernel boots
// with into a value any number of tasks can own. Each AddressSpace tracks
// its own root table frame and its own RWSpinlock. The lock is taken only by
// FromOther (read side) and DropTable (write side); the package-level Map,
// Unmap, SetFlags, MapPhysical and Translate functions take no lock at all.
// Page-table-walking helpers (walk, Map, Unmap, Translate) rely on the
// recursive self-mapping trick and therefore only see whichever
// AddressSpace is currently loaded via Load; copyTable and DropTable instead
// reach arbitrary (possibly inactive) table frames through MapTemporary.
type AddressSpace struct {
	root  pmm.Frame
	depth uint8
	lock  sync.RWSpinlock
}

// NewAddressSpace allocates and zeroes a fresh root table for a D-level
// address space.
func NewAddressSpace(depth uint8) (*AddressSpace, *kernel.Error) {
	root, err := frameAllocator()
	if err != nil {
		return nil, err
	}

	tmp, err := mapTemporaryFn(root)
	if err != nil {
		return nil, err
	}
	mem.Memset(tmp.Address(), 0, mem.PageSize)
	unmapFn(tmp)

	return &AddressSpace{root: root, depth: depth}, nil
}

// PageTableAddress returns the physical address of the root table, suitable
// for loading into the MMU base register without taking the lock.
func (as *AddressSpace) PageTableAddress() uintptr {
	return as.root.Address()
}

// Load installs this address space as the currently active one.
func (as *AddressSpace) Load() {
	cpu.SwitchPDT(as.root.Address())
}

// FromOther clones another address space by sharing leaf frames: every
// intermediate table is duplicated (so the two spaces can diverge at the
// page-table level) but the underlying physical pages themselves are never
// copied. This is the shared-leaf clone used to establish a kernel mirror
// across address spaces; it is explicitly not copy-on-write.
func FromOther(other *AddressSpace) (*AddressSpace, *kernel.Error) {
	other.lock.RLock()
	defer other.lock.RUnlock()

	newRoot, err := copyTable(other.root, other.depth)
	if err != nil {
		return nil, err
	}

	return &AddressSpace{root: newRoot, depth: other.depth}, nil
}

func tableEntriesAt(addr uintptr) *[mem.PageSize / 8]pageTableEntry {
	return (*[mem.PageSize / 8]pageTableEntry)(unsafe.Pointer(addr))
}

// copyTable recursively clones the table rooted at srcFrame. At levels above
// the leaf level it allocates a fresh intermediate frame per present entry
// and recurses; at the leaf level it copies entries verbatim so the two
// trees end up pointing at the same data frames.
func copyTable(srcFrame pmm.Frame, level uint8) (pmm.Frame, *kernel.Error) {
	dstFrame, err := frameAllocator()
	if err != nil {
		return pmm.InvalidFrame, err
	}

	srcPage, err := mapTemporaryFn(srcFrame)
	if err != nil {
		return pmm.InvalidFrame, err
	}
	srcEntries := tableEntriesAt(srcPage.Address())

	var dstEntries [mem.PageSize / 8]pageTableEntry

	for i, srcEntry := range srcEntries {
		if !srcEntry.HasFlags(FlagPresent) {
			continue
		}

		if level == 1 {
			dstEntries[i] = srcEntry
			continue
		}

		childFrame, err := copyTable(srcEntry.Frame(), level-1)
		if err != nil {
			unmapFn(srcPage)
			return pmm.InvalidFrame, err
		}

		entry := srcEntry
		entry.SetFrame(childFrame)
		dstEntries[i] = entry
	}
	unmapFn(srcPage)

	dstPage, err := mapTemporaryFn(dstFrame)
	if err != nil {
		return pmm.InvalidFrame, err
	}
	*tableEntriesAt(dstPage.Address()) = dstEntries
	unmapFn(dstPage)

	return dstFrame, nil
}

// DropTable performs the post-order traversal that frees every intermediate
// table frame owned by this address space and finally the root itself. It
// must not be called while the address space is loaded.
func (as *AddressSpace) DropTable(free FreeFn) *kernel.Error {
	as.lock.Lock()
	defer as.lock.Unlock()

	if err := dropTable(as.root, as.depth, free); err != nil {
		return err
	}
	free(pmm.Range{Start: as.root, Count: 1})
	return nil
}

func dropTable(frame pmm.Frame, level uint8, free FreeFn) *kernel.Error {
	if level == 1 {
		return nil
	}

	page, err := mapTemporaryFn(frame)
	if err != nil {
		return err
	}
	entries := tableEntriesAt(page.Address())

	for _, entry := range entries {
		if !entry.HasFlags(FlagPresent) {
			continue
		}

		if err := dropTable(entry.Frame(), level-1, free); err != nil {
			unmapFn(page)
			return err
		}

		free(pmm.Range{Start: entry.Frame(), Count: 1})
	}
	unmapFn(page)

	return nil
}

// SetFlags walks to the leaf level for every page in pages and overwrites
// its flag bits, leaving the mapped physical address untouched.
func SetFlags(pages Range, flags PageTableEntryFlag) *kernel.Error {
	for page := pages.Start; page < pages.End(); page++ {
		pte, err := pteForAddress(page.Address())
		if err != nil {
			return err
		}
		pte.ClearFlags(^PageTableEntryFlag(0) &^ FlagGlobal)
		pte.SetFlags(flags | FlagPresent)
		flushTLBEntryFn(page.Address())
	}
	return nil
}

// MapPhysical maps pages one-to-one against the frames in an externally
// supplied physical range, consuming one frame per page.
func MapPhysical(pages Range, frames pmm.Range, flags PageTableEntryFlag) *kernel.Error {
	if pages.Count != frames.Count {
		return errRangeSizeMismatch
	}

	frame := frames.Start
	for page := pages.Start; page < pages.End(); page, frame = page+1, frame+1 {
		if err := Map(page, frame, flags); err != nil {
			return err
		}
	}
	return nil
}

// MapIO maps pages one-to-one against frames, forcing an uncached mapping
// suitable for device memory regardless of the flags requested by the
// caller.
func MapIO(pages Range, frames pmm.Range, flags PageTableEntryFlag) *kernel.Error {
	return MapPhysical(pages, frames, flags|FlagDoNotCache)
}

var errRangeSizeMismatch = &kernel.Error{Module: "vmm", Message: "page range and frame range have different lengths"}
