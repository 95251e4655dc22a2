package vmm

import (
	"bootcore/kernel"
	"bootcore/kernel/cpu"
	"bootcore/kernel/mm"
	"math"
	"unsafe"
)

const (
	// pageLevels is the number of paging levels walked by the amd64 MMU.
	pageLevels = 4

	// pageLevelBits is the number of virtual address bits that index the
	// table at each level.
	pageLevelBits = 9

	// pointerShift is log2 of the size of a page table entry.
	pointerShift = 3

	// ptePhysPageMask extracts bits 12-51 of an entry, which hold the
	// physical address of the next table or the mapped frame.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// pdtVirtualAddr reaches the top-level table through the recursive
	// mapping installed in its last entry.
	pdtVirtualAddr = uintptr(math.MaxUint64 &^ (1<<12 - 1))
)

// pageLevelShifts locates the table index for each level in a virtual
// address.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

var (
	// ptePtrFn, nextAddrFn and flushTLBEntryFn are overridden by tests
	// that run the walker against in-memory tables.
	ptePtrFn        = func(entryAddr uintptr) unsafe.Pointer { return unsafe.Pointer(entryAddr) }
	nextAddrFn      = func(entryAddr uintptr) uintptr { return entryAddr }
	flushTLBEntryFn = cpu.FlushTLBEntry

	// ErrInvalidMapping is returned when translating an address that is not
	// mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// pageTableEntry encodes a physical frame address and a set of flags.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uintptr(pte)&uintptr(flags) == uintptr(flags)
}

// SetFlags sets the input flags on the entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) | uintptr(flags))
}

// Frame returns the physical frame this entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame points the entry at frame, keeping its flags.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = pageTableEntry((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// walk visits the entry that translates virtAddr at each paging level,
// starting from the top-level table. The walk stops early if walkFn returns
// false.
func walk(virtAddr uintptr, walkFn func(level uint8, pte *pageTableEntry) bool) {
	var entryAddr uintptr

	for level, tableAddr := uint8(0), pdtVirtualAddr; level < pageLevels; level, tableAddr = level+1, entryAddr {
		entryIndex := (virtAddr >> pageLevelShifts[level]) & (1<<pageLevelBits - 1)
		entryAddr = tableAddr + entryIndex<<pointerShift

		if !walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}

		// Shifting the entry address adds one more trip through the
		// recursive slot, landing on the table the entry points to.
		entryAddr <<= pageLevelBits
	}
}

// RecursiveMapper edits the active page tables through the recursive mapping
// in the last entry of the top-level table. Missing intermediate tables are
// backed by frames drawn from mm.AllocFrame and cleared before use.
type RecursiveMapper struct{}

// Map implements Mapper.
func (RecursiveMapper) Map(page mm.Page, frame mm.Frame, tableFlags, pageFlags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(level uint8, pte *pageTableEntry) bool {
		if level == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(pageFlags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			var tableFrame mm.Frame
			if tableFrame, err = mm.AllocFrame(); err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(tableFrame)
			pte.SetFlags(tableFlags)

			nextTableAddr := uintptr(unsafe.Pointer(pte)) << pageLevelBits
			kernel.Memset(nextAddrFn(nextTableAddr), 0, mm.PageSize)
			return true
		}

		// Existing tables may have been created with narrower flags.
		pte.SetFlags(tableFlags)
		return true
	})

	return err
}

// Translate returns the physical address that virtAddr is mapped to.
func (RecursiveMapper) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	var (
		physAddr uintptr
		err      = ErrInvalidMapping
	)

	walk(virtAddr, func(level uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) || (level < pageLevels-1 && pte.HasFlags(FlagHugePage)) {
			return false
		}

		if level == pageLevels-1 {
			physAddr = pte.Frame().Address() + (virtAddr & (mm.PageSize - 1))
			err = nil
		}
		return true
	})

	return physAddr, err
}
