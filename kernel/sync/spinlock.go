// Package sync provides the mutual exclusion primitives used below the
// scheduler: busy-waiting spinlocks and a guarded-value wrapper on top of
// them.
package sync

import (
	"nucleus/kernel/cpu"
	"sync/atomic"
)

// spinsBeforeYield is the number of failed acquisition attempts before
// yieldFn gets invoked.
const spinsBeforeYield = 128

var (
	// yieldFn is called while spinning. There is no scheduler to yield to
	// yet so it stays nil; tests swap in runtime.Gosched.
	yieldFn func()

	// saveFlagsFn and restoreFlagsFn are nil until EnableInterruptMasking
	// is called. Before that point interrupts are still disabled by the
	// boot code and IRQSpinlock behaves like a plain Spinlock.
	saveFlagsFn    func() uintptr
	restoreFlagsFn func(uintptr)
)

// EnableInterruptMasking arms IRQSpinlock so that it disables interrupts for
// the duration of every critical section. It must be called before
// interrupts are enabled for the first time.
func EnableInterruptMasking() {
	saveFlagsFn = cpu.SaveFlagsAndDisableInterrupts
	restoreFlagsFn = cpu.RestoreInterrupts
}

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. Acquisition order is not fair.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for spins := 0; ; spins++ {
		// Spin on a plain load so contending cores do not keep
		// stealing the cache line with locked writes.
		if atomic.LoadUint32(&l.state) == 0 && atomic.CompareAndSwapUint32(&l.state, 0, 1) {
			return
		}

		if spins >= spinsBeforeYield && yieldFn != nil {
			yieldFn()
			spins = 0
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

// IRQSpinlock is a Spinlock that keeps interrupts disabled on the current
// core while it is held. Any lock that an interrupt handler may also take
// must be an IRQSpinlock; otherwise the handler can interrupt the holder and
// spin forever.
type IRQSpinlock struct {
	lock  Spinlock
	flags uintptr
}

// Acquire disables interrupts and then blocks until the lock is acquired.
// The interrupt state in effect before the call is restored by Release.
func (l *IRQSpinlock) Acquire() {
	var flags uintptr
	if saveFlagsFn != nil {
		flags = saveFlagsFn()
	}

	l.lock.Acquire()
	l.flags = flags
}

// TryToAcquire attempts to acquire the lock without spinning. Interrupts
// remain disabled only if the lock was acquired.
func (l *IRQSpinlock) TryToAcquire() bool {
	var flags uintptr
	if saveFlagsFn != nil {
		flags = saveFlagsFn()
	}

	if !l.lock.TryToAcquire() {
		if restoreFlagsFn != nil {
			restoreFlagsFn(flags)
		}
		return false
	}

	l.flags = flags
	return true
}

// Release relinquishes the lock and restores the interrupt state captured by
// the matching Acquire.
func (l *IRQSpinlock) Release() {
	flags := l.flags
	l.lock.Release()

	if restoreFlagsFn != nil {
		restoreFlagsFn(flags)
	}
}
