package allocator

import (
	"strings"
	"testing"
	"unsafe"

	"corvid/kernel"
	"corvid/kernel/mem"
	"corvid/kernel/mem/pmm"
)

// withFakePhysicalMemory backs every freeRegion header read/write with a Go
// byte slice standing in for physical memory, resets all allocator package
// state, and returns a teardown func. This mirrors the teacher's pattern of
// substituting package-level "...Fn" indirections with test doubles.
func withFakePhysicalMemory(t *testing.T, frames uint64) func() {
	t.Helper()

	buf := make([]byte, (frames+1)*uint64(mem.PageSize))
	base := uintptr(unsafe.Pointer(&buf[0]))

	origRegionAtFn, origHead, origLimit, origPanicFn := regionAtFn, head, physLimit, panicFn
	regionAtFn = func(f pmm.Frame) unsafe.Pointer {
		return unsafe.Pointer(base + uintptr(f)*uintptr(mem.PageSize))
	}
	head = nil
	physLimit = 0

	return func() {
		regionAtFn = origRegionAtFn
		head = origHead
		physLimit = origLimit
		panicFn = origPanicFn
	}
}

func freeListSnapshot() []pmm.Range {
	var out []pmm.Range
	for cur := head; cur != nil; cur = cur.next {
		out = append(out, pmm.Range{Start: cur.start, Count: cur.length})
	}
	return out
}

func assertRanges(t *testing.T, got []pmm.Range, want ...pmm.Range) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d free regions; got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("region %d: expected %+v; got %+v", i, want[i], got[i])
		}
	}
}

// TestScenario1 exercises the concrete example from the spec: insert [0,16),
// alloc(4), then free the allocated range.
func TestScenario1(t *testing.T) {
	defer withFakePhysicalMemory(t, 16)()

	Insert(pmm.Range{Start: 0, Count: 16})
	assertRanges(t, freeListSnapshot(), pmm.Range{Start: 1, Count: 15})

	r := Alloc(4)
	if r != (pmm.Range{Start: 1, Count: 4}) {
		t.Fatalf("expected alloc to return [1,5); got %+v", r)
	}
	assertRanges(t, freeListSnapshot(), pmm.Range{Start: 5, Count: 11})

	Free(r)
	assertRanges(t, freeListSnapshot(), pmm.Range{Start: 1, Count: 15})
}

func TestInsertDropsFrameZero(t *testing.T) {
	defer withFakePhysicalMemory(t, 4)()

	Insert(pmm.Range{Start: 0, Count: 1})
	assertRanges(t, freeListSnapshot())
	if PhysLimit() != 1 {
		t.Errorf("expected phys limit 1; got %d", PhysLimit())
	}
}

func TestInsertCoalescesAdjacentRegions(t *testing.T) {
	defer withFakePhysicalMemory(t, 32)()

	Insert(pmm.Range{Start: 10, Count: 5})
	Insert(pmm.Range{Start: 20, Count: 5})
	assertRanges(t, freeListSnapshot(),
		pmm.Range{Start: 10, Count: 5},
		pmm.Range{Start: 20, Count: 5},
	)

	// Bridge the gap; all three regions should coalesce into one.
	Insert(pmm.Range{Start: 15, Count: 5})
	assertRanges(t, freeListSnapshot(), pmm.Range{Start: 10, Count: 15})
}

func TestAllocFirstFit(t *testing.T) {
	defer withFakePhysicalMemory(t, 64)()

	Insert(pmm.Range{Start: 10, Count: 2})
	Insert(pmm.Range{Start: 20, Count: 10})

	r := Alloc(5)
	if r != (pmm.Range{Start: 20, Count: 5}) {
		t.Fatalf("expected first-fit to skip the too-small region; got %+v", r)
	}
	assertRanges(t, freeListSnapshot(),
		pmm.Range{Start: 10, Count: 2},
		pmm.Range{Start: 25, Count: 5},
	)
}

func TestAllocOutOfMemoryIsFatal(t *testing.T) {
	defer withFakePhysicalMemory(t, 8)()

	var panicked *kernel.Error
	panicFn = func(e interface{}) { panicked, _ = e.(*kernel.Error) }

	Insert(pmm.Range{Start: 1, Count: 2})
	_ = Alloc(10)

	if panicked == nil {
		t.Fatal("expected out-of-memory to raise a fatal condition")
	}
}

func TestFreeOverlapIsDoubleFreeAndFatal(t *testing.T) {
	defer withFakePhysicalMemory(t, 32)()

	var panicked *kernel.Error
	panicFn = func(e interface{}) { panicked, _ = e.(*kernel.Error) }

	Insert(pmm.Range{Start: 10, Count: 10})
	Free(pmm.Range{Start: 15, Count: 2})

	if panicked == nil {
		t.Fatal("expected overlapping free to raise a fatal double-free condition")
	}
}

func TestReserveStrictlyBelowAndAbove(t *testing.T) {
	defer withFakePhysicalMemory(t, 64)()

	Insert(pmm.Range{Start: 10, Count: 5})
	Insert(pmm.Range{Start: 30, Count: 5})

	Reserve(pmm.Range{Start: 20, Count: 2})
	assertRanges(t, freeListSnapshot(),
		pmm.Range{Start: 10, Count: 5},
		pmm.Range{Start: 30, Count: 5},
	)
}

func TestReserveStraddlesLowBoundary(t *testing.T) {
	defer withFakePhysicalMemory(t, 64)()

	Insert(pmm.Range{Start: 10, Count: 10})
	Reserve(pmm.Range{Start: 15, Count: 10})
	assertRanges(t, freeListSnapshot(), pmm.Range{Start: 10, Count: 5})
}

func TestReserveStraddlesHighBoundary(t *testing.T) {
	defer withFakePhysicalMemory(t, 64)()

	Insert(pmm.Range{Start: 10, Count: 10})
	Reserve(pmm.Range{Start: 5, Count: 10})
	assertRanges(t, freeListSnapshot(), pmm.Range{Start: 15, Count: 5})
}

func TestReserveFullyContained(t *testing.T) {
	defer withFakePhysicalMemory(t, 64)()

	Insert(pmm.Range{Start: 10, Count: 10})
	Reserve(pmm.Range{Start: 10, Count: 10})
	assertRanges(t, freeListSnapshot())
}

func TestReserveSplitsRegionInTwo(t *testing.T) {
	defer withFakePhysicalMemory(t, 64)()

	Insert(pmm.Range{Start: 10, Count: 10})
	Reserve(pmm.Range{Start: 13, Count: 2})
	assertRanges(t, freeListSnapshot(),
		pmm.Range{Start: 10, Count: 3},
		pmm.Range{Start: 15, Count: 5},
	)
}

func TestReserveThenAllocNeverReturnsReservedFrames(t *testing.T) {
	defer withFakePhysicalMemory(t, 64)()

	Insert(pmm.Range{Start: 10, Count: 10})
	Reserve(pmm.Range{Start: 12, Count: 4})

	for i := 0; i < 6; i++ {
		r := Alloc(1)
		if r.Start >= 12 && r.Start < 16 {
			t.Fatalf("allocated a reserved frame: %+v", r)
		}
	}
}

func TestDumpReportsAvailableMemory(t *testing.T) {
	defer withFakePhysicalMemory(t, 64)()

	Insert(pmm.Range{Start: 1, Count: 10})
	out := Dump()
	if !strings.Contains(out, "available:") {
		t.Errorf("expected dump output to report available memory; got %q", out)
	}
}

func TestPhysLimitIsMonotonic(t *testing.T) {
	defer withFakePhysicalMemory(t, 64)()

	Insert(pmm.Range{Start: 0, Count: 10})
	if PhysLimit() != 10 {
		t.Fatalf("expected phys limit 10; got %d", PhysLimit())
	}

	Insert(pmm.Range{Start: 20, Count: 5})
	if PhysLimit() != 25 {
		t.Fatalf("expected phys limit 25; got %d", PhysLimit())
	}

	// A smaller, later region must not move the limit backwards.
	Insert(pmm.Range{Start: 21, Count: 1})
	if PhysLimit() != 25 {
		t.Fatalf("expected phys limit to remain 25; got %d", PhysLimit())
	}
}
