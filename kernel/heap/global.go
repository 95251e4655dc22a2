package heap

import "bootcore/kernel"

var (
	kernelHeap *Heap

	errNoHeap = &kernel.Error{Module: "heap", Message: "no kernel heap installed"}
)

// Install makes h the heap that serves Malloc and Free.
func Install(h *Heap) { kernelHeap = h }

// Malloc allocates size bytes from the installed kernel heap.
func Malloc(size uintptr) uintptr {
	if kernelHeap == nil {
		panicFn(errNoHeap)
		return 0
	}
	return kernelHeap.Alloc(size)
}

// Free releases memory obtained by Malloc.
func Free(addr uintptr) {
	if kernelHeap == nil {
		panicFn(errNoHeap)
		return
	}
	kernelHeap.Free(addr)
}

// Owns returns true if addr lies inside the range managed by the installed
// kernel heap.
func Owns(addr uintptr) bool {
	if kernelHeap == nil {
		return false
	}
	start, end := kernelHeap.Bounds()
	return addr >= start && addr < end
}
