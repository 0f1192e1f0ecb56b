package sync

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestSpinlock(t *testing.T) {
	// Substitute the yieldFn with runtime.Gosched to avoid deadlocks while testing
	defer func(origYieldFn func()) { yieldFn = origYieldFn }(yieldFn)
	yieldFn = runtime.Gosched

	var (
		sl         Spinlock
		wg         sync.WaitGroup
		numWorkers = 10
	)

	sl.Acquire()

	if sl.TryToAcquire() != false {
		t.Error("expected TryToAcquire to return false when lock is held")
	}

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func(worker int) {
			sl.Acquire()
			sl.Release()
			wg.Done()
		}(i)
	}

	<-time.After(100 * time.Millisecond)
	sl.Release()
	wg.Wait()

	if !sl.TryToAcquire() {
		t.Fatal("expected TryToAcquire to succeed once all workers released the lock")
	}
	sl.Release()
}

func TestSpinlockMutualExclusion(t *testing.T) {
	defer func(origYieldFn func()) { yieldFn = origYieldFn }(yieldFn)
	yieldFn = runtime.Gosched

	var (
		sl         Spinlock
		counter    int
		g          errgroup.Group
		numWorkers = 8
		numIters   = 1000
	)

	for i := 0; i < numWorkers; i++ {
		g.Go(func() error {
			for j := 0; j < numIters; j++ {
				sl.Acquire()
				counter++
				sl.Release()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if exp := numWorkers * numIters; counter != exp {
		t.Fatalf("expected counter to be %d; got %d", exp, counter)
	}
}

func TestIRQSpinlock(t *testing.T) {
	defer func(origSave func() uintptr, origRestore func(uintptr)) {
		saveFlagsFn = origSave
		restoreFlagsFn = origRestore
	}(saveFlagsFn, restoreFlagsFn)

	const flagIF = uintptr(1 << 9)

	var (
		interruptsOn = true
		restoreCalls int
	)

	saveFlagsFn = func() uintptr {
		var flags uintptr
		if interruptsOn {
			flags = flagIF
		}
		interruptsOn = false
		return flags
	}
	restoreFlagsFn = func(flags uintptr) {
		restoreCalls++
		if flags&flagIF != 0 {
			interruptsOn = true
		}
	}

	t.Run("acquire and release", func(t *testing.T) {
		var l IRQSpinlock

		l.Acquire()
		if interruptsOn {
			t.Fatal("expected interrupts to be disabled while the lock is held")
		}

		l.Release()
		if !interruptsOn {
			t.Fatal("expected interrupts to be re-enabled after Release")
		}
	})

	t.Run("nested locks keep interrupts off", func(t *testing.T) {
		var outer, inner IRQSpinlock

		outer.Acquire()
		inner.Acquire()
		inner.Release()
		if interruptsOn {
			t.Fatal("expected interrupts to stay disabled while the outer lock is held")
		}

		outer.Release()
		if !interruptsOn {
			t.Fatal("expected interrupts to be re-enabled after the outer lock was released")
		}
	})

	t.Run("failed try restores flags", func(t *testing.T) {
		var l IRQSpinlock
		l.lock.Acquire()

		restoreCalls = 0
		if l.TryToAcquire() {
			t.Fatal("expected TryToAcquire to fail while the lock is held")
		}

		if restoreCalls != 1 || !interruptsOn {
			t.Fatalf("expected interrupt state to be restored after a failed TryToAcquire; restore calls: %d", restoreCalls)
		}

		l.lock.Release()
		if !l.TryToAcquire() {
			t.Fatal("expected TryToAcquire to succeed")
		}
		if interruptsOn {
			t.Fatal("expected interrupts to be disabled while the lock is held")
		}
		l.Release()
	})
}

func TestIRQSpinlockWithoutMasking(t *testing.T) {
	defer func(origSave func() uintptr, origRestore func(uintptr)) {
		saveFlagsFn = origSave
		restoreFlagsFn = origRestore
	}(saveFlagsFn, restoreFlagsFn)
	saveFlagsFn, restoreFlagsFn = nil, nil

	var l IRQSpinlock
	l.Acquire()
	if l.TryToAcquire() {
		t.Fatal("expected TryToAcquire to return false when lock is held")
	}
	l.Release()

	if !l.TryToAcquire() {
		t.Fatal("expected TryToAcquire to succeed after Release")
	}
	l.Release()
}
