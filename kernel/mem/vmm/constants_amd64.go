package vmm

import "math"

const (
	// pageLevels indicates the number of page table levels supported by
	// the amd64 architecture (PML4, PDPT, PD, PT).
	pageLevels = 4

	// ptePhysPageMask extracts the physical frame address encoded in a
	// page table entry. On amd64, bits 12-51 hold it.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// tempMappingAddr is a reserved virtual page used for establishing
	// short-lived mappings of physical frames (e.g. to initialize a
	// freshly allocated page table). It decodes to page level indices
	// 510, 511, 511, 511.
	tempMappingAddr = uintptr(0xffffff7ffffff000)
)

var (
	// pdtVirtualAddr exploits the recursive mapping installed in the
	// last entry of the root table: setting every page-level index bit
	// to 1 makes the MMU walk back into the root table itself at every
	// level, giving software a virtual address through which it can
	// inspect and edit the currently active page tables.
	pdtVirtualAddr = uintptr(math.MaxUint64 &^ ((1 << 12) - 1))

	// pageLevelBits is the number of virtual address bits consumed by
	// each page table level; amd64 uses 9 bits (512 entries) per level.
	pageLevelBits = [pageLevels]uint8{9, 9, 9, 9}

	// pageLevelShifts is the bit shift needed to extract each level's
	// index from a virtual address.
	pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
)

const (
	// FlagPresent is set when the page is resident in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage indicates a 2MiB page instead of a 4KiB page.
	FlagHugePage

	// FlagGlobal prevents the TLB entry for this page from being flushed
	// on a CR3 reload.
	FlagGlobal

	// FlagCopyOnWrite is used to implement copy-on-write. Mutually
	// exclusive with FlagRW.
	FlagCopyOnWrite = 1 << 9

	// FlagNoExecute marks a page as containing non-executable data.
	FlagNoExecute = 1 << 63
)
