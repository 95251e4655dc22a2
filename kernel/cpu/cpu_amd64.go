// Package cpu exposes the privileged x86 instructions used by the boot core.
package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// SaveFlagsAndDisableInterrupts disables interrupt handling and returns the
// RFLAGS value that was active before the call.
func SaveFlagsAndDisableInterrupts() uintptr

// RestoreFlags reloads RFLAGS from a value previously returned by
// SaveFlagsAndDisableInterrupts, re-enabling interrupts only if they were
// enabled at save time.
func RestoreFlags(flags uintptr)

// FlushTLBEntry flushes the TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ID returns information about the CPU and its features. It is implemented as
// a CPUID instruction with EAX=leaf and returns the values in EAX, EBX, ECX
// and EDX.
func ID(leaf uint32) (eax, ebx, ecx, edx uint32)

// LocalAPICID returns the initial local APIC id of the processor executing
// this call as reported by CPUID leaf 1 (EBX bits 24-31).
func LocalAPICID() uint8 {
	_, ebx, _, _ := cpuidFn(1)
	return uint8(ebx >> 24)
}

// HasAPIC returns true if the processor reports an on-chip local APIC.
func HasAPIC() bool {
	_, _, _, edx := cpuidFn(1)
	return edx&(1<<9) != 0
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortWriteDword writes a uint32 value to the requested port.
func PortWriteDword(port uint16, val uint32)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

// PortReadDword reads a uint32 value from the requested port.
func PortReadDword(port uint16) uint32
