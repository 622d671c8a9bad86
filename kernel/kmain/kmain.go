package kmain

import (
	"corvid/kernel"
	"corvid/kernel/driver/ide"
	"corvid/kernel/driver/pci"
	"corvid/kernel/hal"
	"corvid/kernel/hal/multiboot"
	"corvid/kernel/mem/pmm"
	"corvid/kernel/mem/pmm/allocator"
	"corvid/kernel/mem/vmm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// allocFrame adapts the free-list allocator's Alloc(n) to the single-frame
// signature vmm.SetFrameAllocator expects.
func allocFrame() (pmm.Frame, *kernel.Error) {
	r := allocator.Alloc(1)
	return r.Start, nil
}

// seedAllocator walks the bootloader-reported memory map, inserting every
// available region into the frame allocator's free list, then reserves the
// frames the running kernel image itself occupies so they are never handed
// back out from under it.
func seedAllocator(kernelStart, kernelEnd uintptr) {
	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Type == multiboot.MemAvailable {
			allocator.Insert(pmm.Range{
				Start: pmm.FrameFromAddress(uintptr(entry.PhysAddress)),
				Count: uint64(entry.Length) >> 12,
			})
		}
		return true
	})

	kernelStartFrame := pmm.FrameFromAddress(kernelStart)
	kernelEndFrame := pmm.FrameFromAddress(kernelEnd)
	allocator.Reserve(pmm.Range{
		Start: kernelStartFrame,
		Count: uint64(kernelEndFrame-kernelStartFrame) + 1,
	})
}

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.InitTerminal()
	hal.ActiveTerminal.Clear()

	seedAllocator(kernelStart, kernelEnd)
	vmm.SetFrameAllocator(allocFrame)

	if err := vmm.Init(); err != nil {
		panic(err)
	}

	ide.Discover(pci.EnumerateClass)

	// Use kernel.Panic instead of panic to prevent the compiler from
	// treating kernel.Panic as dead-code and eliminating it.
	kernel.Panic(errKmainReturned)
}
