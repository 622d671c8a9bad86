// Package pmm contains the types shared by the physical frame allocator and
// its clients. It does not itself track which frames are free; see
// kernel/mem/pmm/allocator for that.
package pmm

import (
	"math"

	"corvid/kernel/mem"
)

// Frame describes a physical memory page index. Frame 0 always corresponds
// to physical address 0.
type Frame uint64

const (
	// InvalidFrame is returned by page allocators when they fail to
	// reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Non page-aligned addresses are rounded down to the frame that
// contains them.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> mem.PageShift)
}

// Range describes a half-open, contiguous range of physical frames
// [Start, Start+Count).
type Range struct {
	Start Frame
	Count uint64
}

// End returns the (exclusive) frame that follows the last frame in the range.
func (r Range) End() Frame {
	return r.Start + Frame(r.Count)
}
