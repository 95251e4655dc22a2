// Package acpi locates the ACPI tables supplied by the firmware and extracts
// the processor and interrupt controller topology from the MADT.
package acpi

import (
	"bootcore/device"
	"bootcore/device/acpi/table"
	"bootcore/kernel"
	"bootcore/kernel/kfmt"
	"bootcore/kernel/mm/vmm"
	"io"
	"unsafe"
)

const (
	acpiRev1 uint8 = 0

	madtSignature = "APIC"
)

var (
	errMissingRSDP           = &kernel.Error{Module: "acpi", Message: "could not locate ACPI RSDP"}
	errTableChecksumMismatch = &kernel.Error{Module: "acpi", Message: "detected checksum mismatch while parsing ACPI table header"}

	// The RSDP must be located in the physical memory region 0xe0000 to
	// 0xfffff; tests point these at a buffer.
	rsdpLocationLow uintptr = 0xe0000
	rsdpLocationHi  uintptr = 0xfffff
	rsdpAlignment   uintptr = 16

	rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}

	// tableMapper identity-maps firmware memory before it is accessed. When
	// nil the memory is assumed to be accessible already.
	tableMapper vmm.Mapper
)

// UseMapper registers the mapper used to make firmware tables accessible.
func UseMapper(m vmm.Mapper) { tableMapper = m }

// Driver exposes the ACPI tables found during detection.
type Driver struct {
	// rsdtAddr holds the address to the root system descriptor table.
	rsdtAddr uintptr

	// useXSDT specifies if the driver must use the XSDT or the RSDT table.
	useXSDT bool

	tableMap map[string]*table.SDTHeader
}

// DriverInit implements device.Driver.
func (drv *Driver) DriverInit(w io.Writer) *kernel.Error {
	if err := drv.enumerateTables(w); err != nil {
		return err
	}

	drv.printTableInfo(w)
	return nil
}

// DriverName implements device.Driver.
func (*Driver) DriverName() string {
	return "ACPI"
}

// DriverVersion implements device.Driver.
func (*Driver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// LookupTable implements table.Resolver.
func (drv *Driver) LookupTable(name string) *table.SDTHeader {
	return drv.tableMap[name]
}

// MADT returns the multiple APIC description table or nil if the firmware
// does not provide one.
func (drv *Driver) MADT() *table.MADT {
	header := drv.LookupTable(madtSignature)
	if header == nil {
		return nil
	}
	return (*table.MADT)(unsafe.Pointer(header))
}

func (drv *Driver) printTableInfo(w io.Writer) {
	for name, header := range drv.tableMap {
		kfmt.Fprintf(w, "%s at 0x%16x %6x (%6s %8s)\n",
			name,
			uintptr(unsafe.Pointer(header)),
			header.Length,
			string(header.OEMID[:]),
			string(header.OEMTableID[:]),
		)
	}
}

// enumerateTables maps and validates every table referenced by the RSDT or
// XSDT. Tables with a bad checksum are skipped.
func (drv *Driver) enumerateTables(w io.Writer) *kernel.Error {
	header, err := mapACPITable(drv.rsdtAddr)
	if err != nil {
		return err
	}

	drv.tableMap = make(map[string]*table.SDTHeader)

	// The RSDT stores 4-byte pointers whereas the XSDT stores 8-byte ones.
	ptrSize := uintptr(4)
	if drv.useXSDT {
		ptrSize = 8
	}

	endPtr := drv.rsdtAddr + uintptr(header.Length)
	for curPtr := drv.rsdtAddr + table.SDTHeaderSize; curPtr+ptrSize <= endPtr; curPtr += ptrSize {
		var addr uintptr
		if drv.useXSDT {
			addr = uintptr(*(*uint64)(unsafe.Pointer(curPtr)))
		} else {
			addr = uintptr(*(*uint32)(unsafe.Pointer(curPtr)))
		}

		if header, err = mapACPITable(addr); err != nil {
			if err != errTableChecksumMismatch {
				return err
			}

			kfmt.Fprintf(w, "%s at 0x%16x %6x [checksum mismatch; skipping]\n",
				string(header.Signature[:]), addr, header.Length,
			)
			continue
		}

		drv.tableMap[string(header.Signature[:])] = header
	}

	return nil
}

// mapACPITable makes the table at tableAddr accessible and verifies its
// checksum. On a checksum mismatch the header is still returned.
func mapACPITable(tableAddr uintptr) (*table.SDTHeader, *kernel.Error) {
	if err := identityMap(tableAddr, table.SDTHeaderSize); err != nil {
		return nil, err
	}

	header := (*table.SDTHeader)(unsafe.Pointer(tableAddr))
	if err := identityMap(tableAddr, uintptr(header.Length)); err != nil {
		return nil, err
	}

	if !validTable(tableAddr, header.Length) {
		return header, errTableChecksumMismatch
	}
	return header, nil
}

func identityMap(addr, size uintptr) *kernel.Error {
	if tableMapper == nil {
		return nil
	}
	return vmm.IdentityMapRegion(tableMapper, addr, size, vmm.FlagPresent)
}

// locateRSDT scans [rsdpLocationLow, rsdpLocationHi] for a valid root system
// descriptor pointer. It returns the address of the RSDT, or of the XSDT if
// the firmware supports ACPI 2.0+.
func locateRSDT() (uintptr, bool, *kernel.Error) {
	if err := identityMap(rsdpLocationLow, rsdpLocationHi-rsdpLocationLow); err != nil {
		return 0, false, err
	}

checkNextBlock:
	for curPtr := rsdpLocationLow; curPtr+table.RSDPSize <= rsdpLocationHi; curPtr += rsdpAlignment {
		rsdp := (*table.RSDPDescriptor)(unsafe.Pointer(curPtr))
		for i, b := range rsdpSignature {
			if rsdp.Signature[i] != b {
				continue checkNextBlock
			}
		}

		if rsdp.Revision == acpiRev1 {
			if !validTable(curPtr, table.RSDPSize) {
				continue
			}
			return uintptr(rsdp.RSDTAddr), false, nil
		}

		// ACPI 2.0+ firmware provides an extended RSDP at the same place.
		rsdp2 := (*table.ExtRSDPDescriptor)(unsafe.Pointer(curPtr))
		if !validTable(curPtr, table.ExtRSDPSize) {
			continue
		}
		return uintptr(rsdp2.XSDTAddr), true, nil
	}

	return 0, false, errMissingRSDP
}

// validTable returns true if the bytes of the table sum to zero.
func validTable(tablePtr uintptr, tableLength uint32) bool {
	var sum uint8
	for i := uint32(0); i < tableLength; i++ {
		sum += *(*uint8)(unsafe.Pointer(tablePtr + uintptr(i)))
	}
	return sum == 0
}

func detectACPI() device.Driver {
	if rsdtAddr, useXSDT, err := locateRSDT(); err == nil {
		return &Driver{
			rsdtAddr: rsdtAddr,
			useXSDT:  useXSDT,
		}
	}

	return nil
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderACPI,
		Detect: detectACPI,
	})
}
