package smp

import (
	"bootcore/kernel"
	"sync/atomic"
	"unsafe"
)

// Low memory handoff area shared with the trampoline. Each slot is a 32-bit
// word; the trampoline code must use the same addresses.
const (
	// PageDirSlot holds the physical address of the page directory that
	// secondary processors load.
	PageDirSlot = uintptr(0x500)

	// EntryPointSlot holds the kernel entry point for secondary processors.
	EntryPointSlot = uintptr(0x504)

	// StartupCounterSlot is incremented by each secondary processor once it
	// runs kernel code.
	StartupCounterSlot = uintptr(0x508)

	// StackTopBase is the start of an array holding the stack top of each
	// processor, indexed by processor ordinal.
	StackTopBase = uintptr(0x510)

	// MaxProcessors is the number of slots in the stack-top array.
	MaxProcessors = 64

	// TrampolineAddr is where the trampoline code is copied. Secondary
	// processors start executing in real mode at this address.
	TrampolineAddr = uintptr(0x8000)

	// MaxTrampolineSize bounds the trampoline so that it stays below the
	// start of the EBDA.
	MaxTrampolineSize = 0x1000
)

// StackSlot returns the address of the stack-top slot for the processor with
// the given ordinal.
func StackSlot(ordinal int) uintptr {
	return StackTopBase + uintptr(ordinal)*4
}

// LowMemory provides access to the real-mode addressable handoff area.
type LowMemory interface {
	WriteWord(addr uintptr, v uint32)
	ReadWord(addr uintptr) uint32
	Copy(addr uintptr, data []byte)
	Zero(addr, size uintptr)
}

// StartedCount returns the number of secondary processors that reported in.
func StartedCount(mem LowMemory) uint32 {
	return mem.ReadWord(StartupCounterSlot)
}

// IdentityLowMemory accesses low physical memory through an identity
// mapping.
type IdentityLowMemory struct{}

// WriteWord implements LowMemory.
func (IdentityLowMemory) WriteWord(addr uintptr, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), v)
}

// ReadWord implements LowMemory. Words are read atomically so that updates
// made by other processors are observed.
func (IdentityLowMemory) ReadWord(addr uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(addr)))
}

// Copy implements LowMemory.
func (IdentityLowMemory) Copy(addr uintptr, data []byte) {
	if len(data) == 0 {
		return
	}
	kernel.Memcopy(uintptr(unsafe.Pointer(&data[0])), addr, uintptr(len(data)))
}

// Zero implements LowMemory.
func (IdentityLowMemory) Zero(addr, size uintptr) {
	kernel.Memset(addr, 0, size)
}
