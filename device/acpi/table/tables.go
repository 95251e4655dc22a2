// Package table describes the in-memory layout of the ACPI tables used to
// discover processors and interrupt controllers.
package table

// Resolver is implemented by objects that can look up an ACPI table by its
// signature. The resolver must ensure that the entire table is accessible.
type Resolver interface {
	LookupTable(string) *SDTHeader
}

// RSDPDescriptor is the ACPI 1.0 root system descriptor pointer.
type RSDPDescriptor struct {
	// The signature must contain "RSD PTR " (last byte is a space).
	Signature [8]byte

	// A value that when added to the sum of all other bytes contained in
	// this descriptor should result in the value 0.
	Checksum uint8

	OEMID [6]byte

	// 0 for ACPI 1.0 and 2 for ACPI 2.0 and later.
	Revision uint8

	// Physical address of the 32-bit root system descriptor table.
	RSDTAddr uint32
}

// ExtRSDPDescriptor extends RSDPDescriptor for ACPI 2.0 and later.
type ExtRSDPDescriptor struct {
	RSDPDescriptor

	// The size of the descriptor.
	Length uint32

	// Physical address of the 64-bit extended system descriptor table.
	XSDTAddr uint64

	// Checksum over the entire descriptor.
	ExtendedChecksum uint8

	reserved [3]byte
}

const (
	// RSDPSize is the number of bytes covered by the ACPI 1.0 checksum.
	RSDPSize = 20

	// ExtRSDPSize is the number of bytes covered by the extended checksum.
	ExtRSDPSize = 36

	// SDTHeaderSize is the size of SDTHeader as laid out in memory.
	SDTHeaderSize = 36

	// MADTSize is the size of the fixed part of the MADT.
	MADTSize = SDTHeaderSize + 8
)

// SDTHeader defines the common header for all ACPI tables.
type SDTHeader struct {
	// The signature defines the table type.
	Signature [4]byte

	// The length of the table including the header.
	Length uint32

	Revision uint8

	// A value that when added to the sum of all other bytes in the table
	// should result in the value 0.
	Checksum uint8

	// OEM specific information
	OEMID       [6]byte
	OEMTableID  [8]byte
	OEMRevision uint32

	// Information about the ASL compiler that generated this table
	CreatorID       uint32
	CreatorRevision uint32
}

// MADT (Multiple APIC Description Table) describes the installed processors
// and interrupt controllers. It is followed by a sequence of variable sized
// records, each starting with a MADTEntry header.
type MADT struct {
	SDTHeader

	// Physical address of the local APIC of each processor.
	LocalControllerAddress uint32

	// Bit 0 is set if the system also has dual 8259 PICs.
	Flags uint32
}

// MADTFlagPCAT is set in MADT.Flags when legacy 8259 PICs are installed and
// must be disabled before using the APICs.
const MADTFlagPCAT = 1

// MADTEntryType describes the type of a MADT record.
type MADTEntryType uint8

// The list of supported MADT entry types.
const (
	MADTEntryTypeLocalAPIC MADTEntryType = iota
	MADTEntryTypeIOAPIC
	MADTEntryTypeIntSrcOverride
	MADTEntryTypeNMI
)

// MADTEntry is the header shared by all MADT records.
type MADTEntry struct {
	Type   MADTEntryType
	Length uint8
}

// MADTEntryLocalAPIC describes a single processor and its local interrupt
// controller.
type MADTEntryLocalAPIC struct {
	ProcessorID uint8
	APICID      uint8
	Flags       uint32
}

// MADTLocalAPICEnabled is set in MADTEntryLocalAPIC.Flags for usable
// processors.
const MADTLocalAPICEnabled = 1

// MADTEntryIOAPIC describes an I/O APIC.
type MADTEntryIOAPIC struct {
	APICID uint8

	// Address contains the physical address of the controller registers.
	Address uint32

	// SysInterruptBase is the first global system interrupt handled by
	// the controller.
	SysInterruptBase uint32
}

// MADTEntryInterruptSrcOverride maps a legacy ISA IRQ to a global system
// interrupt.
type MADTEntryInterruptSrcOverride struct {
	BusSrc          uint8
	IRQSrc          uint8
	GlobalInterrupt uint32
	Flags           uint16
}
