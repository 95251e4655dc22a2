package vmm

import (
	"bootcore/kernel"
	"bootcore/kernel/mm"
	"bootcore/kernel/sync"
)

var errNoSpace = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}

// RegionReserver hands out page-aligned virtual ranges from [base, top).
// Reservations are carved downwards starting at top and are never returned.
type RegionReserver struct {
	lock     sync.IRQSpinlock
	base     uintptr
	lastUsed uintptr
}

// NewRegionReserver returns a RegionReserver for the range [base, top).
func NewRegionReserver(base, top uintptr) *RegionReserver {
	r := new(RegionReserver)
	r.Init(base, top)
	return r
}

// Init resets r to hand out ranges from [base, top). It allows reservers to
// live in static storage.
func (r *RegionReserver) Init(base, top uintptr) {
	r.lock.Acquire()
	r.base = mm.PageAlignUp(base)
	r.lastUsed = mm.PageAlignDown(top)
	r.lock.Release()
}

// Reserve returns the start address of a fresh virtual range of at least
// size bytes. Sizes are rounded up to a multiple of mm.PageSize.
func (r *RegionReserver) Reserve(size uintptr) (uintptr, *kernel.Error) {
	size = mm.PageAlignUp(size)

	r.lock.Acquire()
	defer r.lock.Release()

	if size == 0 || size > r.lastUsed-r.base {
		return 0, errNoSpace
	}

	r.lastUsed -= size
	return r.lastUsed, nil
}

// Remaining returns the number of bytes still available for reservation.
func (r *RegionReserver) Remaining() uintptr {
	r.lock.Acquire()
	defer r.lock.Release()
	return r.lastUsed - r.base
}
