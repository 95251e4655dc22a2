package kmain

import (
	"bootcore/device"
	"bootcore/device/acpi"
	"bootcore/kernel"
	"bootcore/kernel/irq"
)

// isaLines is the number of legacy IRQ lines routed through the I/O APICs.
const isaLines = 16

var errLineNotRouted = &kernel.Error{Module: "kmain", Message: "no I/O APIC serves IRQ line"}

// ioapicController is implemented by irqchip.IOAPIC.
type ioapicController interface {
	device.Driver
	irq.LineMasker
	Route(gsiLine, vector, destAPIC uint8) *kernel.Error
}

// ioapicRouter delivers IRQ line n on vector irq.IRQBase+n through the I/O
// APICs, honoring the firmware interrupt source overrides for ISA lines.
type ioapicRouter struct {
	ctrls     []ioapicController
	overrides []acpi.InterruptOverride
}

// gsi returns the global system interrupt that irqLine is wired to.
func (r *ioapicRouter) gsi(irqLine uint8) uint8 {
	if irqLine < isaLines {
		for _, ovr := range r.overrides {
			if ovr.IRQ == irqLine && ovr.GSI <= 0xff {
				return uint8(ovr.GSI)
			}
		}
	}
	return irqLine
}

// shadowed returns true if the GSI matching irqLine is claimed by an
// override for another ISA line.
func (r *ioapicRouter) shadowed(irqLine uint8) bool {
	for _, ovr := range r.overrides {
		if ovr.GSI == uint32(irqLine) && ovr.IRQ != irqLine && r.gsi(irqLine) == irqLine {
			return true
		}
	}
	return false
}

func (r *ioapicRouter) route(irqLine, destAPIC uint8) *kernel.Error {
	gsi := r.gsi(irqLine)
	for _, ctrl := range r.ctrls {
		if ctrl.Route(gsi, irq.IRQBase+irqLine, destAPIC) == nil {
			return nil
		}
	}
	return errLineNotRouted
}

// Mask implements irq.LineMasker.
func (r *ioapicRouter) Mask(irqLine uint8) {
	gsi := r.gsi(irqLine)
	for _, ctrl := range r.ctrls {
		ctrl.Mask(gsi)
	}
}

// Unmask implements irq.LineMasker.
func (r *ioapicRouter) Unmask(irqLine uint8) {
	gsi := r.gsi(irqLine)
	for _, ctrl := range r.ctrls {
		ctrl.Unmask(gsi)
	}
}
