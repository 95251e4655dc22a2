// Package device defines the interface implemented by hardware drivers and
// the registry used to detect them during boot.
package device

import (
	"bootcore/kernel"
	"io"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Drivers log through the
	// supplied io.Writer using kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// DetectFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it or nil if the hardware is
// not present.
type DetectFn func() Driver

// DetectOrder specifies when a driver is detected relative to the others.
type DetectOrder int

const (
	// DetectOrderEarly drivers are detected first. Legacy devices that must
	// be tamed before anything else (e.g. the 8259 PIC) use this order.
	DetectOrderEarly DetectOrder = iota

	// DetectOrderBeforeACPI drivers are detected before ACPI.
	DetectOrderBeforeACPI

	// DetectOrderACPI is used by the ACPI driver.
	DetectOrderACPI

	// DetectOrderLast drivers are detected after all others.
	DetectOrderLast
)

// DriverInfo describes a driver that can be detected.
type DriverInfo struct {
	// Order specifies when the driver is detected.
	Order DetectOrder

	// Detect looks for the hardware handled by the driver.
	Detect DetectFn
}

// DriverInfoList is a list of registered drivers that implements
// sort.Interface so that drivers can be ordered by DetectOrder.
type DriverInfoList []*DriverInfo

// Len implements sort.Interface.
func (l DriverInfoList) Len() int { return len(l) }

// Less implements sort.Interface.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

// Swap implements sort.Interface.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

var registeredDrivers DriverInfoList

// RegisterDriver adds info to the list of drivers detected during boot.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the registered drivers in registration order.
func DriverList() DriverInfoList {
	return registeredDrivers
}
