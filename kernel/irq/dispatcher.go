// Package irq classifies traps and routes them to the scheduler, the system
// call handler or user-level IRQ handler threads.
package irq

import (
	"bootcore/kernel/gate"
	"bootcore/kernel/kfmt"
	"sync/atomic"
)

// Thread is a schedulable unit as seen by the dispatcher.
type Thread interface {
	ID() ThreadID

	// DivertToIRQ arranges for the thread to run its IRQ handler at entry
	// the next time it is scheduled. The handler acknowledges irqLine by
	// invoking callback.
	DivertToIRQ(entry uintptr, irqLine uint8, callback uintptr)
}

// Scheduler selects the thread that runs next.
type Scheduler interface {
	// AdvanceClock accounts for one timer tick.
	AdvanceClock()

	// Schedule picks the thread to resume.
	Schedule() Thread

	// LookupThread returns the thread with the given id if it still exists.
	LookupThread(ThreadID) (Thread, bool)
}

// SyscallHandler services a system call issued by the current thread and
// returns the thread to resume.
type SyscallHandler interface {
	Handle(cur Thread) Thread
}

// Stats holds the number of traps observed per TrapKind.
type Stats [numTrapKinds]uint64

// Count returns the number of traps of the given kind.
func (s Stats) Count(kind TrapKind) uint64 {
	if kind >= numTrapKinds {
		return 0
	}
	return s[kind]
}

// Dispatcher turns traps into scheduling decisions. A Dispatcher may be
// shared by all processors; per-processor serialization of traps is provided
// by the hardware.
type Dispatcher struct {
	registry *Registry
	sched    Scheduler
	syscalls SyscallHandler

	stats Stats
}

// NewDispatcher returns a Dispatcher that routes device IRQs through reg.
func NewDispatcher(reg *Registry, sched Scheduler, syscalls SyscallHandler) *Dispatcher {
	return &Dispatcher{registry: reg, sched: sched, syscalls: syscalls}
}

// Registry returns the IRQ registry used by the dispatcher.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch handles a single trap whose vector is stored in regs.Info. cur is
// the thread that was interrupted. Dispatch returns the thread that should
// resume and the branch that was taken. Unknown and spurious vectors are
// logged and otherwise ignored.
func (d *Dispatcher) Dispatch(regs *gate.Registers, cur Thread) (Thread, TrapKind) {
	kind, irqLine := Classify(regs.Info)
	atomic.AddUint64(&d.stats[kind], 1)

	switch kind {
	case TrapSyscall:
		return d.syscalls.Handle(cur), kind
	case TrapSpurious:
		kfmt.Printf("[irq] spurious interrupt\n")
		return cur, kind
	case TrapTimer:
		d.sched.AdvanceClock()
		return d.sched.Schedule(), kind
	case TrapDeviceIRQ:
		if h, ok := d.registry.Handler(irqLine); ok {
			if owner, alive := d.sched.LookupThread(h.Owner); alive {
				owner.DivertToIRQ(h.Entry, irqLine, h.Callback)
				return d.sched.Schedule(), kind
			}
		}

		d.registry.markPending(irqLine)
		return cur, kind
	default:
		kfmt.Printf("[irq] unhandled trap: vector 0x%x (%s)\n", regs.Info, vectorName(regs.Info))
		regs.DumpTo(kfmt.GetOutputSink())
		return cur, kind
	}
}

// Stats returns a snapshot of the per-kind trap counters.
func (d *Dispatcher) Stats() Stats {
	var s Stats
	for kind := range s {
		s[kind] = atomic.LoadUint64(&d.stats[kind])
	}
	return s
}

func vectorName(vector uint64) string {
	if vector > 0xff {
		return "out of range"
	}
	return gate.InterruptNumber(vector).String()
}
