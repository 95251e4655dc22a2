package irqchip

import (
	"bootcore/kernel"
	"bootcore/kernel/kfmt"
	"bootcore/kernel/sync"
	"io"
	"sync/atomic"
	"unsafe"
)

const (
	ioregsel = uintptr(0x00)
	iowin    = uintptr(0x10)

	ioapicRegVersion  = uint32(0x01)
	ioapicRegRedirTbl = uint32(0x10)

	// Redirection entry low dword bits. Delivery mode (bits 8-10),
	// destination mode (bit 11), polarity (bit 13) and trigger mode (bit 15)
	// are left zero: fixed, physical, active high, edge.
	redirMasked = uint32(1 << 16)

	redirDestShift = 24
)

var (
	mmioReadFn = func(addr uintptr) uint32 {
		return atomic.LoadUint32((*uint32)(unsafe.Pointer(addr)))
	}
	mmioWriteFn = func(addr uintptr, val uint32) {
		atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), val)
	}

	errLineNotRouted = &kernel.Error{Module: "ioapic", Message: "IRQ line not served by this I/O APIC"}
)

// IOAPIC drives an I/O APIC. Its registers are accessed indirectly through
// a select/window register pair, so every access is serialized.
type IOAPIC struct {
	lock sync.IRQSpinlock

	id      uint8
	base    uintptr
	gsiBase uint32
}

// NewIOAPIC returns a driver for the controller whose registers are mapped
// at base and whose first input serves global interrupt gsiBase.
func NewIOAPIC(id uint8, base uintptr, gsiBase uint32) *IOAPIC {
	return &IOAPIC{id: id, base: base, gsiBase: gsiBase}
}

func (c *IOAPIC) read(reg uint32) uint32 {
	c.lock.Acquire()
	mmioWriteFn(c.base+ioregsel, reg)
	val := mmioReadFn(c.base + iowin)
	c.lock.Release()
	return val
}

func (c *IOAPIC) write(reg, val uint32) {
	c.lock.Acquire()
	mmioWriteFn(c.base+ioregsel, reg)
	mmioWriteFn(c.base+iowin, val)
	c.lock.Release()
}

// MaxRedirectionEntry returns the index of the last redirection entry.
func (c *IOAPIC) MaxRedirectionEntry() uint8 {
	return uint8(c.read(ioapicRegVersion) >> 16)
}

// pin maps an IRQ line to a controller input.
func (c *IOAPIC) pin(irqLine uint8) (uint32, bool) {
	if uint32(irqLine) < c.gsiBase {
		return 0, false
	}

	pin := uint32(irqLine) - c.gsiBase
	if pin > uint32(c.MaxRedirectionEntry()) {
		return 0, false
	}
	return pin, true
}

// Route programs the redirection entry for irqLine to deliver vector to the
// processor with local APIC id destAPIC. The entry is written masked;
// Unmask enables delivery.
func (c *IOAPIC) Route(irqLine, vector, destAPIC uint8) *kernel.Error {
	pin, ok := c.pin(irqLine)
	if !ok {
		return errLineNotRouted
	}

	reg := ioapicRegRedirTbl + 2*pin
	c.write(reg, redirMasked|uint32(vector))
	c.write(reg+1, uint32(destAPIC)<<redirDestShift)
	return nil
}

// Mask implements irq.LineMasker. Lines not served by the controller are
// ignored.
func (c *IOAPIC) Mask(irqLine uint8) {
	if pin, ok := c.pin(irqLine); ok {
		reg := ioapicRegRedirTbl + 2*pin
		c.write(reg, c.read(reg)|redirMasked)
	}
}

// Unmask implements irq.LineMasker.
func (c *IOAPIC) Unmask(irqLine uint8) {
	if pin, ok := c.pin(irqLine); ok {
		reg := ioapicRegRedirTbl + 2*pin
		c.write(reg, c.read(reg)&^redirMasked)
	}
}

// DriverInit implements device.Driver. All redirection entries start out
// masked.
func (c *IOAPIC) DriverInit(w io.Writer) *kernel.Error {
	maxEntry := uint32(c.MaxRedirectionEntry())
	for pin := uint32(0); pin <= maxEntry; pin++ {
		c.write(ioapicRegRedirTbl+2*pin, redirMasked)
	}

	kfmt.Fprintf(w, "id %d at 0x%x serving GSI %d-%d\n", c.id, c.base, c.gsiBase, c.gsiBase+maxEntry)
	return nil
}

// DriverName implements device.Driver.
func (*IOAPIC) DriverName() string {
	return "IOAPIC"
}

// DriverVersion implements device.Driver.
func (*IOAPIC) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}
