// Package irqchip contains drivers for the x86 interrupt controllers: the
// legacy 8259 PIC pair, the I/O APIC and the processor-local APIC.
package irqchip

import (
	"bootcore/device"
	"bootcore/kernel"
	"bootcore/kernel/cpu"
	"bootcore/kernel/irq"
	"bootcore/kernel/kfmt"
	"io"
)

const (
	pic1Command = uint16(0x20)
	pic1Data    = uint16(0x21)
	pic2Command = uint16(0xa0)
	pic2Data    = uint16(0xa1)

	// ICW1: initialization required, ICW4 follows.
	icw1Init = uint8(0x11)

	// ICW4: 8086 mode.
	icw4Mode8086 = uint8(0x01)

	picEOI = uint8(0x20)

	// cascadeLine is the master line the slave PIC is wired to.
	cascadeLine = uint8(2)

	picLines = uint8(16)
)

var (
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
)

// PIC drives the master/slave 8259 programmable interrupt controller pair.
type PIC struct {
	masterBase uint8
	slaveBase  uint8
}

// Remap reprograms the controllers so that master lines are delivered on
// vectors starting at masterBase and slave lines on vectors starting at
// slaveBase. The current line masks are preserved.
func (p *PIC) Remap(masterBase, slaveBase uint8) {
	masterMask := portReadByteFn(pic1Data)
	slaveMask := portReadByteFn(pic2Data)

	portWriteByteFn(pic1Command, icw1Init)
	portWriteByteFn(pic2Command, icw1Init)
	portWriteByteFn(pic1Data, masterBase)
	portWriteByteFn(pic2Data, slaveBase)
	portWriteByteFn(pic1Data, 1<<cascadeLine)
	portWriteByteFn(pic2Data, cascadeLine)
	portWriteByteFn(pic1Data, icw4Mode8086)
	portWriteByteFn(pic2Data, icw4Mode8086)

	portWriteByteFn(pic1Data, masterMask)
	portWriteByteFn(pic2Data, slaveMask)

	p.masterBase, p.slaveBase = masterBase, slaveBase
}

// MaskAll suppresses every line on both controllers.
func (p *PIC) MaskAll() {
	portWriteByteFn(pic1Data, 0xff)
	portWriteByteFn(pic2Data, 0xff)
}

// Mask implements irq.LineMasker. Lines above 15 are ignored.
func (p *PIC) Mask(irqLine uint8) {
	if irqLine >= picLines {
		return
	}

	port, bit := linePort(irqLine)
	portWriteByteFn(port, portReadByteFn(port)|bit)
}

// Unmask implements irq.LineMasker. Unmasking a slave line also unmasks the
// cascade line on the master.
func (p *PIC) Unmask(irqLine uint8) {
	if irqLine >= picLines {
		return
	}

	port, bit := linePort(irqLine)
	portWriteByteFn(port, portReadByteFn(port)&^bit)

	if port == pic2Data {
		portWriteByteFn(pic1Data, portReadByteFn(pic1Data)&^(1<<cascadeLine))
	}
}

// EOI acknowledges an interrupt on irqLine. Slave lines need an
// acknowledgement on both controllers.
func (p *PIC) EOI(irqLine uint8) {
	if irqLine >= 8 {
		portWriteByteFn(pic2Command, picEOI)
	}
	portWriteByteFn(pic1Command, picEOI)
}

func linePort(irqLine uint8) (uint16, uint8) {
	if irqLine < 8 {
		return pic1Data, 1 << irqLine
	}
	return pic2Data, 1 << (irqLine - 8)
}

// DriverInit implements device.Driver. It moves the PIC vectors above the
// processor exception range and masks every line; lines are unmasked when a
// handler is attached.
func (p *PIC) DriverInit(w io.Writer) *kernel.Error {
	p.Remap(irq.IRQBase, irq.IRQBase+8)
	p.MaskAll()

	kfmt.Fprintf(w, "remapped IRQ 0-7 to 0x%x and IRQ 8-15 to 0x%x\n", p.masterBase, p.slaveBase)
	return nil
}

// DriverName implements device.Driver.
func (*PIC) DriverName() string {
	return "8259 PIC"
}

// DriverVersion implements device.Driver.
func (*PIC) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

func detectPIC() device.Driver {
	return &PIC{}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Detect: detectPIC,
	})
}
