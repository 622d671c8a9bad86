// Package vma decides where in a virtual address space a new region goes. It
// keeps the sorted, non-overlapping list of reservations for one address
// space and mediates between placement requests and the page-table manager
// that actually installs entries, mirroring the frame allocator's sorted
// free list (kernel/mem/pmm/allocator) turned inside-out: instead of a free
// list of holes, a sorted list of holdings.
package vma

import (
	"bytes"

	"corvid/kernel"
	"corvid/kernel/errors"
	"corvid/kernel/kfmt"
	"corvid/kernel/mem/pmm"
	"corvid/kernel/mem/vmm"
	"corvid/kernel/sync"
)

// Space identifies which half of the address space a VMA lives in.
type Space uint8

const (
	// Kernel VMAs may be placed anywhere below kernelEnd; first-fit
	// placement starts at page 0.
	Kernel Space = iota
	// User VMAs live in the user-addressable range.
	User
)

// Kind classifies what a VMA is used for.
type Kind uint8

const (
	Code Kind = iota
	Heap
	Stack
	Device
	Environment
)

const (
	// userStart is the lowest virtual page index usable by a User VMA.
	userStart = vmm.Page(0x10000)

	// userEnd is the exclusive upper bound for a User VMA: half of the
	// canonical 48-bit virtual address space.
	userEnd = vmm.Page(1 << (48 - 1 - 12))

	// kernelEnd is the exclusive upper bound for a Kernel VMA.
	kernelEnd = vmm.Page(uintptr(1) << (64 - 12))
)

var (
	errOverlap       = errors.KernelError("requested range overlaps an existing VMA")
	errOutOfRange    = errors.KernelError("requested range falls outside the usable range for its address space")
	errNoGap         = errors.KernelError("no gap large enough for the requested range was found")
	errSubrange      = errors.KernelError("sub-range is not fully contained in the VMA")
	errCountMismatch = errors.KernelError("frame count does not match page count")
)

// asError converts a *kernel.Error into a plain error, preserving nil rather
// than boxing a nil pointer into a non-nil interface value.
func asError(err *kernel.Error) error {
	if err == nil {
		return nil
	}
	return err
}

// VMA describes one reserved, page-aligned virtual range inside a Manager.
type VMA struct {
	Range vmm.Range
	Space Space
	Kind  Kind
	Tag   string
	Flags vmm.PageTableEntryFlag
}

func (v *VMA) contains(r vmm.Range) bool {
	return r.Start >= v.Range.Start && r.End() <= v.Range.End()
}

// Manager owns the sorted VMA list for a single AddressSpace.
type Manager struct {
	lock sync.RWSpinlock
	vmas []*VMA
}

// AllocVMA reserves a new VMA. If start is non-nil the VMA is placed at
// exactly that page (overlap and out-of-range are still rejected);
// otherwise the manager first-fit scans the sorted list for a gap of at
// least nPages starting from the usable base for space. No page-table
// entries are created.
func (m *Manager) AllocVMA(start *vmm.Page, nPages uint64, space Space, kind Kind, tag string) (*VMA, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	var rng vmm.Range
	if start != nil {
		rng = vmm.Range{Start: *start, Count: nPages}
		if !m.inRange(rng, space) {
			return nil, errOutOfRange
		}
		if m.overlaps(rng) {
			return nil, errOverlap
		}
	} else {
		gap, err := m.firstFit(nPages, space)
		if err != nil {
			return nil, err
		}
		rng = gap
	}

	v := &VMA{Range: rng, Space: space, Kind: kind, Tag: tag}
	m.insert(v)
	return v, nil
}

func (m *Manager) lowerBound(space Space) vmm.Page {
	if space == User {
		return userStart
	}
	return 0
}

func (m *Manager) upperBound(space Space) vmm.Page {
	if space == User {
		return userEnd
	}
	return kernelEnd
}

func (m *Manager) inRange(rng vmm.Range, space Space) bool {
	return rng.Start >= m.lowerBound(space) && rng.End() <= m.upperBound(space)
}

func (m *Manager) overlaps(rng vmm.Range) bool {
	for _, v := range m.vmas {
		if rng.Start < v.Range.End() && v.Range.Start < rng.End() {
			return true
		}
	}
	return false
}

// firstFit scans the sorted list for the first gap, of at least nPages,
// starting from the usable base for space.
func (m *Manager) firstFit(nPages uint64, space Space) (vmm.Range, error) {
	cur := m.lowerBound(space)
	upper := m.upperBound(space)

	for _, v := range m.vmas {
		if v.Space != space {
			continue
		}
		if v.Range.Start < cur {
			continue
		}
		if uint64(v.Range.Start-cur) >= nPages {
			return vmm.Range{Start: cur, Count: nPages}, nil
		}
		if v.Range.End() > cur {
			cur = v.Range.End()
		}
	}

	if uint64(upper-cur) >= nPages {
		return vmm.Range{Start: cur, Count: nPages}, nil
	}
	return vmm.Range{}, errNoGap
}

// insert keeps m.vmas sorted ascending by Range.Start.
func (m *Manager) insert(v *VMA) {
	i := 0
	for ; i < len(m.vmas); i++ {
		if m.vmas[i].Range.Start > v.Range.Start {
			break
		}
	}
	m.vmas = append(m.vmas, nil)
	copy(m.vmas[i+1:], m.vmas[i:])
	m.vmas[i] = v
}

// AllocPfrForVMA allocates backing frames for the whole VMA via allocFn.
func AllocPfrForVMA(v *VMA, allocFn func(uint64) pmm.Range) pmm.Range {
	return allocFn(v.Range.Count)
}

// AllocPfrForPartialVMA allocates backing frames for a sub-range of v. It
// rejects a sub-range that is not fully contained in the VMA.
func AllocPfrForPartialVMA(v *VMA, sub vmm.Range, allocFn func(uint64) pmm.Range) (pmm.Range, error) {
	if !v.contains(sub) {
		return pmm.Range{}, errSubrange
	}
	return allocFn(sub.Count), nil
}

// reconcileFlags forces the present bit and folds in any flag the VMA
// itself mandates (user-access for User-space VMAs, no-cache for Device
// VMAs) regardless of what the caller requested.
func reconcileFlags(v *VMA, flags vmm.PageTableEntryFlag) vmm.PageTableEntryFlag {
	flags |= vmm.FlagPresent
	if v.Space == User {
		flags |= vmm.FlagUserAccessible
	}
	if v.Kind == Device {
		flags |= vmm.FlagDoNotCache
	}
	return flags
}

// MapPfrForVMA installs page-table mappings for the whole VMA. The frame
// count must equal the VMA's page count.
func MapPfrForVMA(v *VMA, frames pmm.Range, flags vmm.PageTableEntryFlag) error {
	if frames.Count != v.Range.Count {
		return errCountMismatch
	}
	return asError(vmm.MapPhysical(v.Range, frames, reconcileFlags(v, flags)))
}

// MapPfrForPartialVMA installs page-table mappings for a sub-range of
// pages inside v, backed by frames. The sub-range must lie inside the VMA
// and the frame count must equal the page count.
func MapPfrForPartialVMA(v *VMA, frames pmm.Range, pages vmm.Range, flags vmm.PageTableEntryFlag) error {
	if !v.contains(pages) {
		return errSubrange
	}
	if frames.Count != pages.Count {
		return errCountMismatch
	}
	return asError(vmm.MapPhysical(pages, frames, reconcileFlags(v, flags)))
}

// MapPartialVMA is a combined allocate-and-map for a sub-range, used for
// demand-style growth such as stack extension.
func MapPartialVMA(v *VMA, pages vmm.Range, flags vmm.PageTableEntryFlag, allocFn func(uint64) pmm.Range) error {
	frames, err := AllocPfrForPartialVMA(v, pages, allocFn)
	if err != nil {
		return err
	}
	return MapPfrForPartialVMA(v, frames, pages, flags)
}

// IterVMAs returns a snapshot of the current VMA list, safe to hold across
// scheduling.
func (m *Manager) IterVMAs() []*VMA {
	m.lock.RLock()
	defer m.lock.RUnlock()

	snapshot := make([]*VMA, len(m.vmas))
	copy(snapshot, m.vmas)
	return snapshot
}

// Teardown unmaps every VMA, returning all of its backing frames to freeFn,
// and clears the manager. It is invoked when the owning AddressSpace is
// dropped.
func (m *Manager) Teardown(freeFn vmm.FreeFn) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, v := range m.vmas {
		for page := v.Range.Start; page < v.Range.End(); page++ {
			physAddr, err := vmm.Translate(page.Address())
			if err != nil {
				continue
			}
			freeFn(pmm.Range{Start: pmm.FrameFromAddress(physAddr), Count: 1})
			vmm.Unmap(page)
		}
	}
	m.vmas = nil
}

// Dump returns a formatted snapshot of every VMA currently held by the
// manager, one line per reservation, mirroring the frame allocator's Dump.
func (m *Manager) Dump() string {
	m.lock.RLock()
	defer m.lock.RUnlock()

	var buf bytes.Buffer
	for _, v := range m.vmas {
		kfmt.Fprintf(&buf, "[0x%x - 0x%x) space=%d kind=%d tag=%s\n",
			uint64(v.Range.Start.Address()), uint64(v.Range.End().Address()), uint64(v.Space), uint64(v.Kind), v.Tag)
	}
	return buf.String()
}
