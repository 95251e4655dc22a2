// Package heap implements the kernel's dynamic memory allocator: a first-fit
// chunk allocator over a virtual range that grows on demand by mapping fresh
// physical frames.
package heap

import (
	"bootcore/kernel"
	"bootcore/kernel/kfmt"
	"bootcore/kernel/mm"
	"bootcore/kernel/mm/vmm"
	"bootcore/kernel/sync"
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errNotReady     = &kernel.Error{Module: "heap", Message: "heap used before initialization"}
	errLimitReached = &kernel.Error{Module: "heap", Message: "heap has reached its size limit"}
	errBadConfig    = &kernel.Error{Module: "heap", Message: "invalid heap configuration"}
)

// Config describes the virtual range managed by a Heap.
type Config struct {
	// Start is the page-aligned virtual address of the heap.
	Start uintptr

	// InitialSize is the size of the range that must already be mapped
	// when Init is invoked.
	InitialSize uintptr

	// GrowthSize is the number of bytes mapped by each expansion. It must
	// be a multiple of mm.PageSize.
	GrowthSize uintptr

	// Limit is the address that the end of the heap may never exceed.
	Limit uintptr
}

// Heap is the kernel allocation surface. It owns a ChunkAllocator and maps
// additional memory behind the current end of its range whenever an
// allocation cannot be satisfied. All methods are safe for concurrent use.
type Heap struct {
	lock sync.IRQSpinlock

	cfg    Config
	chunks ChunkAllocator
	frames vmm.FrameSource
	mapper vmm.Mapper

	end   uintptr
	used  uintptr
	ready bool
}

// New returns a Heap that draws frames from frames and installs them with
// mapper. The heap must be initialized with Init before use.
func New(cfg Config, frames vmm.FrameSource, mapper vmm.Mapper) *Heap {
	h := new(Heap)
	h.Setup(cfg, frames, mapper)
	return h
}

// Setup is the in-place equivalent of New for heaps that live in static
// storage, such as the one created before the Go allocator is running. It
// clears any previous state; the heap must be initialized with Init before
// use.
func (h *Heap) Setup(cfg Config, frames vmm.FrameSource, mapper vmm.Mapper) {
	h.lock.Acquire()
	h.cfg, h.frames, h.mapper = cfg, frames, mapper
	h.end, h.used, h.ready = 0, 0, false
	h.lock.Release()
}

// Init configures the heap over [cfg.Start, cfg.Start+cfg.InitialSize) and
// marks it ready.
func (h *Heap) Init() *kernel.Error {
	h.lock.Acquire()
	defer h.lock.Release()

	cfg := h.cfg
	end := cfg.Start + cfg.InitialSize
	if cfg.GrowthSize == 0 || cfg.GrowthSize%mm.PageSize != 0 || end < cfg.Start || end > cfg.Limit {
		return errBadConfig
	}

	if err := h.chunks.Init(cfg.Start, end); err != nil {
		return err
	}

	h.end = end
	h.used = 0
	h.ready = true
	return nil
}

// Alloc returns the address of a block of at least size bytes. The heap is
// expanded as many times as required; running out of memory is fatal.
func (h *Heap) Alloc(size uintptr) uintptr {
	h.lock.Acquire()
	defer h.lock.Release()

	if !h.ready {
		panicFn(errNotReady)
		return 0
	}

	for {
		if addr, ok := h.chunks.Alloc(size); ok {
			if size < MinAllocSize {
				size = MinAllocSize
			}
			h.used += size
			return addr
		}

		if !h.chunks.hasSpareRecord() {
			panicFn(errNoRecords)
			return 0
		}

		if err := h.expand(); err != nil {
			kfmt.Printf("[heap] unable to satisfy allocation of %d bytes (used: %d)\n", size, h.used)
			panicFn(err)
			return 0
		}
	}
}

// Free releases a block returned by Alloc. Freeing an address that was not
// returned by Alloc is fatal.
func (h *Heap) Free(addr uintptr) {
	h.lock.Acquire()
	defer h.lock.Release()

	if !h.ready {
		panicFn(errNotReady)
		return
	}

	size, err := h.chunks.Free(addr)
	if err != nil {
		panicFn(err)
		return
	}
	h.used -= size
}

// Used returns the number of bytes currently allocated.
func (h *Heap) Used() uintptr {
	h.lock.Acquire()
	defer h.lock.Release()
	return h.used
}

// SetLimit moves the address that the end of the heap may never exceed. The
// new limit may not fall below the current end of the heap.
func (h *Heap) SetLimit(limit uintptr) *kernel.Error {
	h.lock.Acquire()
	defer h.lock.Release()

	if limit < h.end || limit < h.cfg.Start+h.cfg.InitialSize {
		return errBadConfig
	}
	h.cfg.Limit = limit
	return nil
}

// Bounds returns the virtual range currently managed by the heap.
func (h *Heap) Bounds() (start, end uintptr) {
	h.lock.Acquire()
	defer h.lock.Release()
	return h.cfg.Start, h.end
}

// expand maps GrowthSize bytes at the end of the heap and hands them to the
// chunk allocator. Pages mapped before a failure are left in place. The
// caller must hold the lock.
func (h *Heap) expand() *kernel.Error {
	if h.end >= h.cfg.Limit || h.cfg.Limit-h.end < h.cfg.GrowthSize {
		return errLimitReached
	}

	if _, err := vmm.MapRegion(h.mapper, h.frames, h.end, h.cfg.GrowthSize>>mm.PageShift, vmm.KernelDataFlags); err != nil {
		return err
	}

	if err := h.chunks.Expand(h.cfg.GrowthSize); err != nil {
		return err
	}

	h.end += h.cfg.GrowthSize
	kfmt.Printf("[heap] expanded to 0x%x - 0x%x\n", h.cfg.Start, h.end)
	return nil
}
