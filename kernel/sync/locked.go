package sync

import (
	"nucleus/kernel"
	"nucleus/kernel/kfmt"
)

var (
	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	errGuardReleased = &kernel.Error{Module: "sync", Message: "guarded value accessed after its lock was released"}
)

// Locked wraps a value of type T so that it can only be reached while an
// IRQSpinlock is held. The zero value is an unlocked Locked holding the zero
// value of T.
type Locked[T any] struct {
	lock  IRQSpinlock
	value T
}

// Guard grants exclusive access to the value of a Locked until Unlock is
// called.
type Guard[T any] struct {
	owner    *Locked[T]
	released bool
}

// NewLocked returns a Locked wrapping value.
func NewLocked[T any](value T) Locked[T] {
	return Locked[T]{value: value}
}

// Lock busy-waits until the lock is acquired and returns a guard for the
// value. The caller must call Unlock on the returned guard on every exit path
// (typically via defer). Calling Lock while already holding the guard
// deadlocks.
func (l *Locked[T]) Lock() Guard[T] {
	l.lock.Acquire()
	return Guard[T]{owner: l}
}

// TryLock attempts to acquire the lock without spinning. The returned guard
// is only usable if the second result is true.
func (l *Locked[T]) TryLock() (Guard[T], bool) {
	if !l.lock.TryToAcquire() {
		return Guard[T]{}, false
	}
	return Guard[T]{owner: l}, true
}

// Do runs fn with exclusive access to the value. The lock is released when fn
// returns, including when it panics.
func (l *Locked[T]) Do(fn func(*T)) {
	g := l.Lock()
	defer g.Unlock()

	fn(g.Value())
}

// Value returns a pointer to the guarded value. The pointer must not be
// retained past Unlock. Calling Value on a released guard is fatal.
func (g *Guard[T]) Value() *T {
	if g.released || g.owner == nil {
		panicFn(errGuardReleased)
		return nil
	}

	return &g.owner.value
}

// Unlock releases the lock. Only the first call has an effect, so an
// explicit Unlock followed by a deferred one releases the lock exactly once.
func (g *Guard[T]) Unlock() {
	if g.released || g.owner == nil {
		return
	}

	g.released = true
	g.owner.lock.Release()
}
