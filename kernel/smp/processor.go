// Package smp wakes the secondary processors of the system using the
// INIT-SIPI-SIPI protocol.
package smp

// Processor describes a physical core.
type Processor struct {
	// APICID is the id of the processor's local APIC.
	APICID uint8

	// BSP is set for the processor that booted the system.
	BSP bool
}

// ProcessorList holds the processors of the system in discovery order. The
// position of a processor in the list is its ordinal.
type ProcessorList []Processor

// BSP returns the boot processor.
func (l ProcessorList) BSP() (Processor, bool) {
	for _, p := range l {
		if p.BSP {
			return p, true
		}
	}
	return Processor{}, false
}

// SecondaryCount returns the number of processors that are not the boot
// processor.
func (l ProcessorList) SecondaryCount() int {
	var count int
	for _, p := range l {
		if !p.BSP {
			count++
		}
	}
	return count
}
