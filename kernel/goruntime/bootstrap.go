// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator. The runtime's requests for off-heap memory are
// served by the kernel heap while its arenas are reserved from a dedicated
// virtual range and backed by frames from the physical allocator.
package goruntime

import (
	"bootcore/kernel"
	"bootcore/kernel/heap"
	"bootcore/kernel/kfmt"
	"bootcore/kernel/mm"
	"bootcore/kernel/mm/vmm"
	"unsafe"
)

// backPtrSize is the size of the word stored in front of each sysAlloc
// block. It holds the address returned by the kernel heap.
const backPtrSize = unsafe.Sizeof(uintptr(0))

var (
	mallocFn        = heap.Malloc
	freeFn          = heap.Free
	ownsFn          = heap.Owns
	memsetFn        = kernel.Memset
	mapRegionFn     = vmm.MapRegion
	reserveFn       = reserveRegion
	panicFn         = kfmt.Panic
	mallocInitFn    = mallocInit
	algInitFn       = algInit
	modulesInitFn   = modulesInit
	typeLinksInitFn = typeLinksInit
	itabsInitFn     = itabsInit

	// mapper, frames and regions back the arena space handed to the
	// runtime. They are set by Init.
	mapper  vmm.Mapper
	frames  vmm.FrameSource
	regions *vmm.RegionReserver

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de

	// clock is advanced by each nanotime call.
	clock int64

	errMissingCollaborator = &kernel.Error{Module: "goruntime", Message: "runtime memory requires a mapper, a frame source and an address range"}
	errNoRegion            = &kernel.Error{Module: "goruntime", Message: "no address range set up for the Go runtime"}
)

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

//go:linkname mSysStatDec runtime.mSysStatDec
func mSysStatDec(*uint64, uintptr)

// physPageSize is normally populated from the auxiliary vector; mallocinit
// refuses to run while it is zero.
//
//go:linkname physPageSize runtime.physPageSize
var physPageSize uintptr

func reserveRegion(size uintptr) (uintptr, *kernel.Error) {
	if regions == nil {
		return 0, errNoRegion
	}
	return regions.Reserve(size)
}

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings. Placement hints cannot be honored; when v
// is not nil the request is declined and the runtime retries without one.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(v unsafe.Pointer, n uintptr) unsafe.Pointer {
	if v != nil {
		return nil
	}

	regionStartAddr, err := reserveFn(mm.PageAlignUp(n))
	if err != nil {
		return nil
	}
	return unsafe.Pointer(regionStartAddr)
}

// sysMap backs a region previously returned by sysReserve with zeroed
// physical frames. Running out of frames is fatal.
//
// This function replaces runtime.sysMap and is required for initializing the
// Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(v unsafe.Pointer, n uintptr, sysStat *uint64) {
	regionStartAddr := mm.PageAlignDown(uintptr(v))
	regionSize := mm.PageAlignUp(uintptr(v)+n) - regionStartAddr

	if _, err := mapRegionFn(mapper, frames, regionStartAddr, regionSize>>mm.PageShift, vmm.KernelDataFlags); err != nil {
		panicFn(err)
		return
	}

	memsetFn(regionStartAddr, 0, regionSize)
	mSysStatInc(sysStat, n)
}

// sysAlloc returns n bytes of zeroed, page-aligned memory carved out of the
// kernel heap. The heap address of the block is stored in the word that
// precedes the returned region so sysFree can release it.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(n uintptr, sysStat *uint64) unsafe.Pointer {
	block := mallocFn(n + backPtrSize + mm.PageSize)
	if block == 0 {
		return nil
	}

	regionStartAddr := mm.PageAlignUp(block + backPtrSize)
	*(*uintptr)(unsafe.Pointer(regionStartAddr - backPtrSize)) = block

	memsetFn(regionStartAddr, 0, n)
	mSysStatInc(sysStat, n)
	return unsafe.Pointer(regionStartAddr)
}

// sysFree returns memory obtained by sysAlloc to the kernel heap. Arena
// space obtained by sysReserve is never released.
//
// This function replaces runtime.sysFree.
//
//go:redirect-from runtime.sysFree
//go:nosplit
func sysFree(v unsafe.Pointer, n uintptr, sysStat *uint64) {
	mSysStatDec(sysStat, n)

	regionStartAddr := uintptr(v)
	if !ownsFn(regionStartAddr) {
		return
	}
	freeFn(*(*uintptr)(unsafe.Pointer(regionStartAddr - backPtrSize)))
}

// sysUnused replaces runtime.sysUnused. Pages handed to the runtime stay
// mapped until they are freed.
//
//go:redirect-from runtime.sysUnused
//go:nosplit
//go:noinline
func sysUnused(_ unsafe.Pointer, _ uintptr) {}

// sysUsed replaces runtime.sysUsed.
//
//go:redirect-from runtime.sysUsed
//go:nosplit
//go:noinline
func sysUsed(_ unsafe.Pointer, _ uintptr) {}

// nanotime returns a monotonically increasing clock value. Each call
// advances the clock by one.
//
// This function replaces runtime.nanotime and is invoked by the Go allocator
// when a span allocation is performed.
//
//go:redirect-from runtime.nanotime
//go:nosplit
//go:noinline
func nanotime() int64 {
	clock++
	return clock
}

// getRandomData populates the given slice with random data. The runtime
// reads a random stream from /dev/urandom but since this is not available,
// we use a prng instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init enables support for various Go runtime features. Arena pages are
// reserved from rsv and backed by frames drawn from fs and mapped with m;
// the remaining runtime memory comes from the installed kernel heap. After
// a call to Init the following runtime features become available for use:
//  - heap memory allocation (new, make e.t.c)
//  - map primitives
//  - interfaces
func Init(m vmm.Mapper, fs vmm.FrameSource, rsv *vmm.RegionReserver) *kernel.Error {
	if m == nil || fs == nil || rsv == nil {
		return errMissingCollaborator
	}

	mapper, frames, regions = m, fs, rsv
	physPageSize = mm.PageSize

	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var (
		stat    uint64
		zeroPtr = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0)
	sysMap(zeroPtr, 0, &stat)
	sysUnused(zeroPtr, 0)
	sysUsed(zeroPtr, 0)
	sysFree(zeroPtr, 0, &stat)
	getRandomData(nil)
	stat = uint64(nanotime())

	// regions is only set by Init, so sysAlloc is referenced but never
	// invoked here.
	if regions != nil {
		sysAlloc(0, &stat)
	}
}
