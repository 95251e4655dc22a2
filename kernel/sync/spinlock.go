// Package sync provides the locking primitives used to serialize access to
// state shared between processors and interrupt handlers.
package sync

import "sync/atomic"

// attemptsBeforeYielding is the number of failed acquisition attempts after
// which Acquire invokes yieldFn (if set).
const attemptsBeforeYielding = 256

var (
	// yieldFn is invoked by spinning tasks; tests replace it with
	// runtime.Gosched.
	yieldFn func()

	// Interrupt masking hooks used by IRQSpinlock. They stay no-ops until
	// InstallInterruptMasking is called during boot.
	saveAndDisableFn = func() uintptr { return 0 }
	restoreFn        = func(uintptr) {}
)

// InstallInterruptMasking registers the functions that IRQSpinlock uses to
// disable interrupts on the local processor and later restore the saved
// interrupt state.
func InstallInterruptMasking(saveAndDisable func() uintptr, restore func(uintptr)) {
	saveAndDisableFn = saveAndDisable
	restoreFn = restore
}

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempts := 0; !atomic.CompareAndSwapUint32(&l.state, 0, 1); attempts++ {
		if attempts == attemptsBeforeYielding {
			if yieldFn != nil {
				yieldFn()
			}
			attempts = 0
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// IRQSpinlock is a Spinlock that keeps interrupts disabled on the local
// processor while it is held. It must be used for state that is also
// touched from interrupt handlers; otherwise a handler that fires while the
// lock is held on the same processor would spin forever.
type IRQSpinlock struct {
	lock  Spinlock
	flags uintptr
}

// Acquire disables local interrupts and then acquires the lock.
func (l *IRQSpinlock) Acquire() {
	flags := saveAndDisableFn()
	l.lock.Acquire()
	l.flags = flags
}

// Release releases the lock and restores the interrupt state that was active
// when Acquire was called.
func (l *IRQSpinlock) Release() {
	flags := l.flags
	l.lock.Release()
	restoreFn(flags)
}
