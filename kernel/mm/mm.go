// Package mm holds the page-granular types and constants shared by the
// physical and virtual memory managers.
package mm

import (
	"bootcore/kernel"
	"math"
)

const (
	// PageShift is log2(PageSize); shifting an address right by PageShift
	// yields its page index.
	PageShift = uintptr(12)

	// PageSize is the size in bytes of a physical frame or virtual page.
	PageSize = uintptr(1 << PageShift)

	// PhysLimit is the first physical address that the frame allocator does
	// not track. Memory above the 32-bit addressable range is ignored.
	PhysLimit = uint64(1) << 32

	// MaxFrames is the number of frames below PhysLimit.
	MaxFrames = uint32(PhysLimit >> PageShift)
)

// Frame is the index of a physical page.
type Frame uintptr

// InvalidFrame is returned by frame allocators that could not satisfy a
// request.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is not InvalidFrame.
func (f Frame) Valid() bool { return f != InvalidFrame }

// Address returns the physical address of the first byte in the frame.
func (f Frame) Address() uintptr { return uintptr(f << PageShift) }

// FrameFromAddress returns the frame containing physAddr.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(PageAlignDown(physAddr) >> PageShift)
}

// Page is the index of a virtual page.
type Page uintptr

// Address returns the virtual address of the first byte in the page.
func (p Page) Address() uintptr { return uintptr(p << PageShift) }

// PageFromAddress returns the page containing virtAddr.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(PageAlignDown(virtAddr) >> PageShift)
}

// PageAlignDown rounds addr down to a page boundary.
func PageAlignDown(addr uintptr) uintptr { return addr &^ (PageSize - 1) }

// PageAlignUp rounds addr up to a page boundary.
func PageAlignUp(addr uintptr) uintptr { return (addr + PageSize - 1) &^ (PageSize - 1) }

// FrameAllocatorFn reserves a physical frame.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// FrameReleaserFn returns a physical frame to its allocator.
type FrameReleaserFn func(Frame) *kernel.Error

var (
	frameAllocator FrameAllocatorFn
	frameReleaser  FrameReleaserFn

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// SetFrameAllocator registers the functions used by AllocFrame and FreeFrame.
func SetFrameAllocator(allocFn FrameAllocatorFn, freeFn FrameReleaserFn) {
	frameAllocator = allocFn
	frameReleaser = freeFn
}

// AllocFrame reserves a frame using the registered frame allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator()
}

// FreeFrame releases a frame using the registered frame allocator.
func FreeFrame(f Frame) *kernel.Error {
	if frameReleaser == nil {
		return errNoFrameAllocator
	}
	return frameReleaser(f)
}
