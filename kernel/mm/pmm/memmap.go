package pmm

import (
	"bootcore/kernel/hal/multiboot"
	"bootcore/kernel/kfmt"
	"bootcore/kernel/mm"
)

// maxModuleSpans bounds the number of boot modules whose spans are cached
// while releasing memory. Additional modules are still honored but are
// looked up by rescanning the multiboot data.
const maxModuleSpans = 32

type span struct{ start, end uintptr }

type moduleSpans struct {
	spans    [maxModuleSpans]span
	count    int
	overflow bool
}

func (ms *moduleSpans) collect() {
	multiboot.VisitModules(func(mod *multiboot.Module) bool {
		if ms.count == maxModuleSpans {
			ms.overflow = true
			return false
		}
		ms.spans[ms.count] = span{mm.PageAlignDown(mod.Start), mm.PageAlignUp(mod.End)}
		ms.count++
		return true
	})
}

func (ms *moduleSpans) contains(addr uintptr) bool {
	for i := 0; i < ms.count; i++ {
		if addr >= ms.spans[i].start && addr < ms.spans[i].end {
			return true
		}
	}

	if !ms.overflow {
		return false
	}

	var found bool
	multiboot.VisitModules(func(mod *multiboot.Module) bool {
		found = addr >= mm.PageAlignDown(mod.Start) && addr < mm.PageAlignUp(mod.End)
		return !found
	})
	return found
}

// ReleaseAvailableMemory walks the memory map supplied by the boot loader
// and marks every page of the available regions as free in alloc, except for
// pages below kernelEnd, pages above the 32-bit physical limit and pages
// occupied by boot modules. It returns the number of pages released.
//
// ReleaseAvailableMemory must be invoked once, before any frame is
// allocated; subsequent calls release nothing.
func ReleaseAvailableMemory(alloc *BitmapAllocator, kernelEnd uintptr) uint32 {
	if alloc.seeded {
		kfmt.Printf("[pmm] memory map already processed\n")
		return 0
	}
	alloc.seeded = true

	printMemoryMap(kernelEnd)

	var (
		modules  moduleSpans
		released uint32
	)
	modules.collect()

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable || region.PhysAddress >= mm.PhysLimit {
			return true
		}

		// Lengths reaching past PhysLimit are clamped before they are
		// added so the end cannot wrap around.
		regionStart, regionEnd := region.PhysAddress, mm.PhysLimit
		if region.Length < mm.PhysLimit-region.PhysAddress {
			regionEnd = region.PhysAddress + region.Length
		}
		if regionStart < uint64(kernelEnd) {
			regionStart = uint64(kernelEnd)
		}

		pageSizeMinus1 := uint64(mm.PageSize - 1)
		regionStart = (regionStart + pageSizeMinus1) &^ pageSizeMinus1
		regionEnd &^= pageSizeMinus1

		for addr := regionStart; addr < regionEnd; addr += uint64(mm.PageSize) {
			if modules.contains(uintptr(addr)) {
				continue
			}
			if alloc.MarkFree(uintptr(addr)) {
				released++
			}
		}
		return true
	})

	kfmt.Printf("[pmm] released %d pages (%dKb)\n", released, uint64(released)*uint64(mm.PageSize)>>10)
	return released
}

// printMemoryMap logs the memory map supplied by the boot loader and the
// loaded boot modules.
func printMemoryMap(kernelEnd uintptr) {
	kfmt.Printf("[pmm] system memory map:\n")

	var totalFree uint64
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += region.Length
		}
		return true
	})

	multiboot.VisitModules(func(mod *multiboot.Module) bool {
		kfmt.Printf("[pmm] module at 0x%x - 0x%x: %s\n", mod.Start, mod.End, mod.CmdLine)
		return true
	})

	kfmt.Printf("[pmm] available memory: %dKb, kernel reserves memory up to 0x%x\n", totalFree>>10, kernelEnd)
}
