package acpi

import (
	"bootcore/device/acpi/table"
	"bootcore/kernel/smp"
	"encoding/binary"
	"reflect"
	"unsafe"
)

// IOAPICInfo describes an I/O APIC listed in the MADT.
type IOAPICInfo struct {
	ID uint8

	// Address is the physical address of the controller registers.
	Address uintptr

	// GSIBase is the first global system interrupt served by the controller.
	GSIBase uint32
}

// InterruptOverride records that legacy IRQ is delivered on global system
// interrupt GSI instead of the identically numbered one.
type InterruptOverride struct {
	IRQ   uint8
	GSI   uint32
	Flags uint16
}

// visitMADTEntries invokes visitor with the type and raw bytes (header
// included) of each MADT record until visitor returns false.
func visitMADTEntries(madt *table.MADT, visitor func(table.MADTEntryType, []byte) bool) {
	if madt == nil || madt.Length <= table.MADTSize {
		return
	}

	length := int(madt.Length)
	raw := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: uintptr(unsafe.Pointer(madt)),
		Len:  length,
		Cap:  length,
	}))

	for offset := table.MADTSize; offset+2 <= length; {
		entryLen := int(raw[offset+1])
		if entryLen < 2 || offset+entryLen > length {
			return
		}

		if !visitor(table.MADTEntryType(raw[offset]), raw[offset:offset+entryLen]) {
			return
		}
		offset += entryLen
	}
}

func decodeLocalAPIC(entry []byte) (table.MADTEntryLocalAPIC, bool) {
	if len(entry) < 8 {
		return table.MADTEntryLocalAPIC{}, false
	}
	return table.MADTEntryLocalAPIC{
		ProcessorID: entry[2],
		APICID:      entry[3],
		Flags:       binary.LittleEndian.Uint32(entry[4:]),
	}, true
}

func decodeIOAPIC(entry []byte) (table.MADTEntryIOAPIC, bool) {
	if len(entry) < 12 {
		return table.MADTEntryIOAPIC{}, false
	}
	return table.MADTEntryIOAPIC{
		APICID:           entry[2],
		Address:          binary.LittleEndian.Uint32(entry[4:]),
		SysInterruptBase: binary.LittleEndian.Uint32(entry[8:]),
	}, true
}

func decodeOverride(entry []byte) (table.MADTEntryInterruptSrcOverride, bool) {
	if len(entry) < 10 {
		return table.MADTEntryInterruptSrcOverride{}, false
	}
	return table.MADTEntryInterruptSrcOverride{
		BusSrc:          entry[2],
		IRQSrc:          entry[3],
		GlobalInterrupt: binary.LittleEndian.Uint32(entry[4:]),
		Flags:           binary.LittleEndian.Uint16(entry[8:]),
	}, true
}

// DiscoverProcessors returns the enabled processors listed in the MADT in
// table order. The processor whose local APIC id matches bootAPICID is
// flagged as the boot processor.
func DiscoverProcessors(madt *table.MADT, bootAPICID uint8) smp.ProcessorList {
	var procs smp.ProcessorList
	visitMADTEntries(madt, func(typ table.MADTEntryType, entry []byte) bool {
		if typ != table.MADTEntryTypeLocalAPIC {
			return true
		}

		lapic, ok := decodeLocalAPIC(entry)
		if ok && lapic.Flags&table.MADTLocalAPICEnabled != 0 {
			procs = append(procs, smp.Processor{
				APICID: lapic.APICID,
				BSP:    lapic.APICID == bootAPICID,
			})
		}
		return true
	})
	return procs
}

// DiscoverIOAPICs returns the I/O APICs listed in the MADT.
func DiscoverIOAPICs(madt *table.MADT) []IOAPICInfo {
	var list []IOAPICInfo
	visitMADTEntries(madt, func(typ table.MADTEntryType, entry []byte) bool {
		if typ != table.MADTEntryTypeIOAPIC {
			return true
		}

		if ioapic, ok := decodeIOAPIC(entry); ok {
			list = append(list, IOAPICInfo{
				ID:      ioapic.APICID,
				Address: uintptr(ioapic.Address),
				GSIBase: ioapic.SysInterruptBase,
			})
		}
		return true
	})
	return list
}

// InterruptOverrides returns the ISA interrupt source overrides listed in
// the MADT.
func InterruptOverrides(madt *table.MADT) []InterruptOverride {
	var list []InterruptOverride
	visitMADTEntries(madt, func(typ table.MADTEntryType, entry []byte) bool {
		if typ != table.MADTEntryTypeIntSrcOverride {
			return true
		}

		if ovr, ok := decodeOverride(entry); ok {
			list = append(list, InterruptOverride{
				IRQ:   ovr.IRQSrc,
				GSI:   ovr.GlobalInterrupt,
				Flags: ovr.Flags,
			})
		}
		return true
	})
	return list
}
