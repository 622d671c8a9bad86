// Package allocator implements the kernel's physical frame allocator: a
// sorted, coalescing free list of physical frame ranges. Free-list node
// headers are stored inside the first bytes of the frame they describe, so
// the allocator requires no side-table of its own; see freeRegion for the
// details of that trick.
package allocator

import (
	"bytes"
	"unsafe"

	"corvid/kernel"
	"corvid/kernel/kfmt"
	"corvid/kernel/mem"
	"corvid/kernel/mem/pmm"
	"corvid/kernel/sync"
)

var (
	lock sync.Spinlock

	// head points to the lowest-addressed free region, or nil if the
	// free list is empty.
	head *freeRegion

	// physLimit tracks the highest physical frame ever reported via
	// Insert, regardless of its current free/allocated state.
	physLimit pmm.Frame

	// regionAtFn resolves a frame to the address its freeRegion header
	// should be read from/written to. It defaults to an identity mapping
	// (the kernel keeps an identity map for all frames below PhysLimit)
	// and is substituted by tests with a mapping into a Go-managed
	// buffer standing in for physical memory.
	regionAtFn = func(f pmm.Frame) unsafe.Pointer {
		return unsafe.Pointer(f.Address())
	}

	errOutOfMemory = &kernel.Error{Module: "frame_allocator", Message: "out of memory"}
	errDoubleFree  = &kernel.Error{Module: "frame_allocator", Message: "double free or corrupted free list"}

	// panicFn is substituted by tests so structural-violation paths can
	// be exercised without actually halting the test binary.
	panicFn = kernel.Panic
)

// freeRegion is the in-place header for one entry of the free list. Its own
// address is always equal to region.start.Address(): the allocator writes
// this struct into the first bytes of the first frame of the region it
// describes, trading a side table for the requirement that every free frame
// is treated as memory the allocator may clobber.
type freeRegion struct {
	start  pmm.Frame
	length uint64
	next   *freeRegion
}

func regionAt(f pmm.Frame) *freeRegion {
	return (*freeRegion)(regionAtFn(f))
}

// writeRegion installs a freeRegion header at start describing [start,
// start+length) and linking to next.
func writeRegion(start pmm.Frame, length uint64, next *freeRegion) *freeRegion {
	r := regionAt(start)
	r.start = start
	r.length = length
	r.next = next
	return r
}

func (r *freeRegion) end() pmm.Frame {
	return r.start + pmm.Frame(r.length)
}

// PhysLimit returns the highest physical frame ever reported to the
// allocator via Insert. It is monotonically non-decreasing.
func PhysLimit() pmm.Frame {
	return physLimit
}

func bumpPhysLimit(end pmm.Frame) {
	if end > physLimit {
		physLimit = end
	}
}

// Insert adds a range of frames discovered during boot to the free list. If
// the range starts at physical frame 0, that first frame is permanently
// dropped so that address 0 is never allocatable (reserved for catching null
// pointer dereferences). PhysLimit is updated to the range's end regardless
// of whether the first frame was dropped.
func Insert(r pmm.Range) {
	lock.Acquire()
	defer lock.Release()

	if r.Count == 0 {
		return
	}
	bumpPhysLimit(r.End())

	if r.Start == 0 {
		r.Start++
		r.Count--
		if r.Count == 0 {
			return
		}
	}

	insertCoalescing(r.Start, r.Count, false)
}

// Alloc performs a first-fit search of the sorted free list for a region
// with at least n free frames. The leading n frames of the first such region
// are removed and returned; any remainder is re-inserted into the list. If
// no region is large enough, Alloc raises a fatal out-of-memory condition:
// per the kernel's memory-management invariants there is no graceful
// recovery from this state.
func Alloc(n uint64) pmm.Range {
	lock.Acquire()
	defer lock.Release()

	var prev *freeRegion
	for cur := head; cur != nil; prev, cur = cur, cur.next {
		if cur.length < n {
			continue
		}

		allocStart := cur.start
		remainingStart := cur.start + pmm.Frame(n)
		remainingLength := cur.length - n

		var replacement *freeRegion
		if remainingLength > 0 {
			// The node must be rewritten at its new home: the
			// frames that used to hold the header are now handed
			// out to the caller.
			replacement = writeRegion(remainingStart, remainingLength, cur.next)
		} else {
			replacement = cur.next
		}

		if prev == nil {
			head = replacement
		} else {
			prev.next = replacement
		}

		return pmm.Range{Start: allocStart, Count: n}
	}

	panicFn(errOutOfMemory)
	return pmm.Range{}
}

// Free returns a previously allocated range of frames to the free list,
// coalescing with the predecessor region if it is directly adjacent below
// and with the successor region if it is directly adjacent above. Freeing a
// range that overlaps any currently-free region is a double-free: this is a
// structural invariant violation and halts the system immediately.
func Free(r pmm.Range) {
	if r.Count == 0 {
		return
	}

	lock.Acquire()
	defer lock.Release()

	insertCoalescing(r.Start, r.Count, true)
}

// insertCoalescing links a new [start, start+length) region into the sorted
// free list, merging it with an immediately adjacent predecessor and/or
// successor. When detectOverlap is true (the Free path), any overlap with an
// existing region panics instead of being silently merged, since it implies
// the caller freed frames that were never actually allocated.
func insertCoalescing(start pmm.Frame, length uint64, detectOverlap bool) {
	end := start + pmm.Frame(length)

	var prev *freeRegion
	cur := head
	for cur != nil && cur.start < start {
		prev = cur
		cur = cur.next
	}

	if detectOverlap {
		if prev != nil && prev.end() > start {
			panicFn(errDoubleFree)
			return
		}
		if cur != nil && end > cur.start {
			panicFn(errDoubleFree)
			return
		}
	}

	// Absorb an adjacent predecessor: the merged region now starts where
	// the predecessor did, so its header stays at the predecessor's
	// address.
	newStart, newLength := start, length
	if prev != nil && prev.end() == start {
		newStart = prev.start
		newLength = uint64(end - newStart)
	}

	// Absorb an adjacent successor.
	newEnd := newStart + pmm.Frame(newLength)
	newNext := cur
	if cur != nil && newEnd == cur.start {
		newLength = uint64(cur.end() - newStart)
		newNext = cur.next
	}

	if prev != nil && prev.start == newStart {
		// Merging in place: the predecessor's header already lives
		// at newStart, just extend it.
		prev.length = newLength
		prev.next = newNext
		return
	}

	node := writeRegion(newStart, newLength, newNext)
	if prev == nil {
		head = node
	} else {
		prev.next = node
	}
}

// Reserve permanently excludes a range of frames from the free list, even if
// it straddles or is fully contained within one or more existing free
// regions. It is typically used once at boot to carve out the kernel image
// from the regions reported by the firmware.
func Reserve(r pmm.Range) {
	if r.Count == 0 {
		return
	}

	lock.Acquire()
	defer lock.Release()

	rStart, rEnd := r.Start, r.End()

	var prev *freeRegion
	cur := head
	for cur != nil {
		curEnd := cur.end()

		switch {
		case curEnd <= rStart:
			// Strictly below; move on.
			prev = cur
			cur = cur.next

		case cur.start >= rEnd:
			// Strictly above; nothing further in the sorted list
			// can overlap R, so stop scanning.
			return

		case cur.start >= rStart && curEnd <= rEnd:
			// Fully contained; drop the node entirely.
			next := cur.next
			if prev == nil {
				head = next
			} else {
				prev.next = next
			}
			cur = next

		case cur.start < rStart && curEnd > rEnd:
			// R is fully inside cur: split into a left remainder
			// (kept in place) and a right remainder (new node).
			leftLength := uint64(rStart - cur.start)
			rightNode := writeRegion(rEnd, uint64(curEnd-rEnd), cur.next)
			cur.length = leftLength
			cur.next = rightNode
			prev = rightNode
			cur = rightNode.next

		case cur.start < rStart:
			// Straddles the low boundary of R: trim the tail off.
			cur.length = uint64(rStart - cur.start)
			prev = cur
			cur = cur.next

		default:
			// Straddles the high boundary of R: the remaining
			// frames start at rEnd, so the header must move.
			next := cur.next
			newNode := writeRegion(rEnd, uint64(curEnd-rEnd), next)
			if prev == nil {
				head = newNode
			} else {
				prev.next = newNode
			}
			prev = newNode
			cur = next
		}
	}
}

// Dump returns a formatted snapshot of every free region together with the
// total amount of available memory.
func Dump() string {
	lock.Acquire()
	defer lock.Release()

	var (
		buf   bytes.Buffer
		total mem.Size
	)
	for cur := head; cur != nil; cur = cur.next {
		kfmt.Fprintf(&buf, "[0x%x - 0x%x) (%d frames)\n", uint64(cur.start.Address()), uint64(cur.end().Address()), uint64(cur.length))
		total += mem.Size(cur.length) * mem.PageSize
	}
	kfmt.Fprintf(&buf, "available: %d KiB\n", uint64(total/mem.Kb))
	return buf.String()
}
