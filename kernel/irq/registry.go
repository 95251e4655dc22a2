package irq

import (
	"bootcore/kernel/sync"
	"sync/atomic"
)

// ThreadID identifies a schedulable unit.
type ThreadID uint64

// Handler describes a user-level IRQ handler: the owning thread is diverted
// to Entry when the line fires and must acknowledge the interrupt through
// Callback.
type Handler struct {
	Owner    ThreadID
	Entry    uintptr
	Callback uintptr
}

type line struct {
	handler    Handler
	registered bool

	// pending is set when the line fires without a live handler. It is
	// accessed atomically so that PollIRQ never takes the lock.
	pending uint32
}

// Registry maps IRQ lines to handlers and remembers lines that fired while
// nobody was listening. Registry is safe for concurrent use; writers are
// serialized with a lock that also masks interrupts on the local processor.
//
// Registration races with firing. Drivers are expected to mask the line at
// the interrupt controller before calling SetHandler and unmask it only after
// SetHandler returns.
type Registry struct {
	lock  sync.IRQSpinlock
	lines [NumLines]line
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return new(Registry)
}

// SetHandler registers a handler for irqLine, replacing any existing
// registration. It returns the replaced handler, if any.
func (r *Registry) SetHandler(irqLine uint8, owner ThreadID, entry, callback uintptr) (Handler, bool) {
	r.lock.Acquire()
	defer r.lock.Release()

	l := &r.lines[irqLine]
	prev, hadPrev := l.handler, l.registered
	l.handler = Handler{Owner: owner, Entry: entry, Callback: callback}
	l.registered = true
	return prev, hadPrev
}

// ClearHandler removes the registration for irqLine and returns it.
func (r *Registry) ClearHandler(irqLine uint8) (Handler, bool) {
	r.lock.Acquire()
	defer r.lock.Release()

	l := &r.lines[irqLine]
	prev, hadPrev := l.handler, l.registered
	l.handler, l.registered = Handler{}, false
	return prev, hadPrev
}

// Handler returns a copy of the handler registered for irqLine.
func (r *Registry) Handler(irqLine uint8) (Handler, bool) {
	r.lock.Acquire()
	defer r.lock.Release()

	l := &r.lines[irqLine]
	return l.handler, l.registered
}

// PollIRQ reports whether irqLine fired since the last call and clears the
// pending flag.
func (r *Registry) PollIRQ(irqLine uint8) bool {
	return atomic.SwapUint32(&r.lines[irqLine].pending, 0) == 1
}

func (r *Registry) markPending(irqLine uint8) {
	atomic.StoreUint32(&r.lines[irqLine].pending, 1)
}

// LineMasker is implemented by interrupt controllers that can suppress
// delivery of individual IRQ lines.
type LineMasker interface {
	Mask(irqLine uint8)
	Unmask(irqLine uint8)
}

// Attach registers a handler for irqLine while the line is masked at the
// controller so that no interrupt can observe a partially updated entry.
func (r *Registry) Attach(ctrl LineMasker, irqLine uint8, owner ThreadID, entry, callback uintptr) {
	ctrl.Mask(irqLine)
	r.SetHandler(irqLine, owner, entry, callback)
	ctrl.Unmask(irqLine)
}

// Detach masks irqLine at the controller and removes its handler. The line
// is left masked.
func (r *Registry) Detach(ctrl LineMasker, irqLine uint8) (Handler, bool) {
	ctrl.Mask(irqLine)
	return r.ClearHandler(irqLine)
}
