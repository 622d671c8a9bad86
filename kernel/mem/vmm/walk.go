package vmm

import (
	"unsafe"

	"corvid/kernel/mem"
)

var (
	// ptePtrFn returns a pointer to the page table entry at the supplied
	// virtual address. It is substituted by tests so walk() can be
	// exercised against plain Go arrays standing in for page tables; the
	// compiler inlines it away when building the kernel.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableWalker is invoked by walk with the page table entry at each
// level, starting at the root (level 0) and ending at the leaf (level
// pageLevels-1). If it returns false, the walk stops at that level.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a recursive-descent page table walk for virtAddr, calling
// walkFn with the entry at each level. The walk uses the recursive mapping
// installed at pdtVirtualAddr: dereferencing that address (with all index
// bits set to 1) always lands on the currently active root table, and
// shifting in each successive level's index yields the virtual address of
// the next table down.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		level                            uint8
		tableAddr, entryAddr, entryIndex uintptr
	)

	for level, tableAddr = 0, pdtVirtualAddr; level < pageLevels; level, tableAddr = level+1, entryAddr {
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr = tableAddr + (entryIndex << mem.PointerShift)

		if !walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}

		entryAddr <<= pageLevelBits[level]
	}
}
