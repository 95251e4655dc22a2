// Package pmm implements the physical frame allocator and seeds it from the
// memory map supplied by the boot loader.
package pmm

import (
	"bootcore/kernel"
	"bootcore/kernel/mm"
)

// activeAllocator serves the mm frame hooks. The hooks are plain functions
// so that registering them does not require the Go allocator.
var activeAllocator *BitmapAllocator

// Init registers alloc as the frame source used by mm.AllocFrame and
// mm.FreeFrame.
func Init(alloc *BitmapAllocator) {
	activeAllocator = alloc
	mm.SetFrameAllocator(allocFrame, freeFrame)
}

func allocFrame() (mm.Frame, *kernel.Error) { return activeAllocator.AllocFrame() }

func freeFrame(f mm.Frame) *kernel.Error { return activeAllocator.FreeFrame(f) }
