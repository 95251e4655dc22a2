package irqchip

import (
	"bootcore/kernel"
	"bootcore/kernel/irq"
	"bootcore/kernel/kfmt"
	"bootcore/kernel/smp"
	"io"
)

// Local APIC register offsets.
const (
	RegLAPICID      = uint32(0x020)
	RegLAPICVersion = uint32(0x030)
	RegEOI          = uint32(0x0b0)
	RegSpurious     = uint32(0x0f0)
	RegLVTLINT0     = uint32(0x350)
	RegLVTLINT1     = uint32(0x360)

	// DefaultLAPICAddress is used when the MADT does not override it.
	DefaultLAPICAddress = uintptr(0xfee00000)

	lapicSoftwareEnable = uint32(1 << 8)
	lvtMasked           = uint32(1 << 16)

	// icrDeliveryPending is set in the low ICR dword until the IPI has been
	// accepted.
	icrDeliveryPending = uint32(1 << 12)
)

// LocalAPIC drives the local APIC of the processor executing the code.
type LocalAPIC struct {
	base uintptr
}

// NewLocalAPIC returns a driver for the local APIC registers mapped at base.
func NewLocalAPIC(base uintptr) *LocalAPIC {
	return &LocalAPIC{base: base}
}

// Read implements smp.LocalAPIC.
func (l *LocalAPIC) Read(reg uint32) uint32 {
	return mmioReadFn(l.base + uintptr(reg))
}

// Write implements smp.LocalAPIC.
func (l *LocalAPIC) Write(reg, val uint32) {
	mmioWriteFn(l.base+uintptr(reg), val)
}

// WaitForSendComplete implements smp.LocalAPIC.
func (l *LocalAPIC) WaitForSendComplete() {
	for l.Read(smp.RegICRLow)&icrDeliveryPending != 0 {
	}
}

// ID returns the id of the local APIC.
func (l *LocalAPIC) ID() uint8 {
	return uint8(l.Read(RegLAPICID) >> 24)
}

// EOI acknowledges the interrupt currently being serviced.
func (l *LocalAPIC) EOI() {
	l.Write(RegEOI, 0)
}

// DriverInit implements device.Driver. It masks the local interrupt pins and
// enables the APIC with irq.SpuriousVector as its spurious vector.
func (l *LocalAPIC) DriverInit(w io.Writer) *kernel.Error {
	l.Write(RegLVTLINT0, lvtMasked)
	l.Write(RegLVTLINT1, lvtMasked)
	l.Write(RegSpurious, lapicSoftwareEnable|uint32(irq.SpuriousVector))

	kfmt.Fprintf(w, "id %d (version 0x%x) at 0x%x\n", l.ID(), uint8(l.Read(RegLAPICVersion)), l.base)
	return nil
}

// DriverName implements device.Driver.
func (*LocalAPIC) DriverName() string {
	return "LAPIC"
}

// DriverVersion implements device.Driver.
func (*LocalAPIC) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}
