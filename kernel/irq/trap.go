package irq

const (
	// IRQBase is the vector that IRQ line 0 is delivered on once the legacy
	// PIC has been remapped. IRQ line n arrives on vector IRQBase+n.
	IRQBase = 0x20

	// SyscallVector is the software interrupt vector used for system calls.
	SyscallVector = 0x80

	// TimerIRQ is the line wired to the system timer.
	TimerIRQ = 0

	// SpuriousIRQ is the line reported for interrupts that vanished before
	// they could be acknowledged.
	SpuriousIRQ = 0xff

	// SpuriousVector is the vector the local APIC raises for spurious
	// interrupts. It lies inside the IRQ window but never names a line.
	SpuriousVector = 0xff

	// NumLines is the number of IRQ lines tracked by a Registry.
	NumLines = 256
)

// TrapKind classifies a trap into one of the branches taken by the
// dispatcher.
type TrapKind uint8

const (
	// TrapSyscall is a system call request.
	TrapSyscall TrapKind = iota

	// TrapSpurious is an interrupt on SpuriousVector or SpuriousIRQ.
	TrapSpurious

	// TrapTimer is a tick of the system timer.
	TrapTimer

	// TrapDeviceIRQ is an interrupt on any other IRQ line.
	TrapDeviceIRQ

	// TrapUnhandled is any vector that maps to none of the above.
	TrapUnhandled

	numTrapKinds
)

var trapKindNames = [numTrapKinds]string{
	"syscall",
	"spurious",
	"timer",
	"device irq",
	"unhandled",
}

// String implements fmt.Stringer for TrapKind.
func (k TrapKind) String() string {
	if k >= numTrapKinds {
		return "invalid"
	}
	return trapKindNames[k]
}

// Classify maps a trap vector to its TrapKind. For TrapDeviceIRQ it also
// returns the IRQ line. The system call and spurious vectors take precedence
// over the IRQ lines that share their numbers.
func Classify(vector uint64) (TrapKind, uint8) {
	switch {
	case vector == SyscallVector:
		return TrapSyscall, 0
	case vector == SpuriousVector:
		return TrapSpurious, SpuriousIRQ
	case vector < IRQBase || vector-IRQBase >= NumLines:
		return TrapUnhandled, 0
	}

	line := uint8(vector - IRQBase)
	switch line {
	case SpuriousIRQ:
		return TrapSpurious, line
	case TimerIRQ:
		return TrapTimer, line
	default:
		return TrapDeviceIRQ, line
	}
}
