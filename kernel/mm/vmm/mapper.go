// Package vmm defines the contract between the memory subsystems and the
// address-space mapping primitive, and hands out kernel virtual ranges.
package vmm

import (
	"bootcore/kernel"
	"bootcore/kernel/mm"
)

// Mapper establishes page mappings in the active address space. Map must
// either install the mapping or report an error; it never fails silently.
type Mapper interface {
	Map(page mm.Page, frame mm.Frame, tableFlags, pageFlags PageTableEntryFlag) *kernel.Error
}

// MapperFunc adapts a plain function to the Mapper interface.
type MapperFunc func(page mm.Page, frame mm.Frame, tableFlags, pageFlags PageTableEntryFlag) *kernel.Error

// Map implements Mapper.
func (fn MapperFunc) Map(page mm.Page, frame mm.Frame, tableFlags, pageFlags PageTableEntryFlag) *kernel.Error {
	return fn(page, frame, tableFlags, pageFlags)
}

// FrameSource supplies physical frames.
type FrameSource interface {
	AllocFrame() (mm.Frame, *kernel.Error)
}

// MapRegion backs pageCount consecutive pages starting at the page that
// contains start with freshly allocated frames. It stops at the first
// failure and returns the number of pages that were mapped; those mappings
// are left in place.
func MapRegion(mapper Mapper, frames FrameSource, start uintptr, pageCount uintptr, pageFlags PageTableEntryFlag) (uintptr, *kernel.Error) {
	page := mm.PageFromAddress(start)
	for mapped := uintptr(0); mapped < pageCount; mapped, page = mapped+1, page+1 {
		frame, err := frames.AllocFrame()
		if err != nil {
			return mapped, err
		}

		if err = mapper.Map(page, frame, KernelTableFlags, pageFlags); err != nil {
			return mapped, err
		}
	}

	return pageCount, nil
}

// IdentityMapRegion maps the physical range [physAddr, physAddr+size) to the
// same virtual addresses. It is used for firmware tables and memory-mapped
// device registers.
func IdentityMapRegion(mapper Mapper, physAddr, size uintptr, pageFlags PageTableEntryFlag) *kernel.Error {
	end := mm.PageAlignUp(physAddr + size)
	for frame := mm.FrameFromAddress(physAddr); frame.Address() < end; frame++ {
		if err := mapper.Map(mm.Page(frame), frame, KernelTableFlags, pageFlags); err != nil {
			return err
		}
	}
	return nil
}
