package core

import (
	"context"
	"runtime"
)

// Fibtex is a mutex for tasks. Lock parks the calling fiber instead of
// blocking its worker thread. The zero value is not usable; use NewFibtex.
type Fibtex struct {
	s       *TaskScheduler
	counter *AtomicCounter
}

// NewFibtex creates an unlocked Fibtex bound to s.
func NewFibtex(s *TaskScheduler) *Fibtex {
	return &Fibtex{s: s, counter: NewAtomicCounter(s, 0)}
}

// Lock acquires the mutex, parking the calling task while it is held
// elsewhere. ctx must be the calling task's context.
func (m *Fibtex) Lock(ctx context.Context) {
	for !m.TryLock() {
		m.s.WaitForCounter(ctx, m.counter, 0)
	}
}

// LockSpin acquires the mutex by spinning on the worker thread. With a single
// worker the holder could never run, so it parks like Lock instead.
func (m *Fibtex) LockSpin(ctx context.Context) {
	if m.s.ThreadCount() < 2 {
		m.Lock(ctx)
		return
	}
	for i := 1; !m.TryLock(); i++ {
		if i%spinYieldAfter == 0 {
			runtime.Gosched()
		}
	}
}

// LockSpinIter spins up to iterations times, then falls back to Lock.
func (m *Fibtex) LockSpinIter(ctx context.Context, iterations int) {
	if m.s.ThreadCount() > 1 {
		for range iterations {
			if m.TryLock() {
				return
			}
		}
	}
	m.Lock(ctx)
}

// TryLock acquires the mutex if it is free.
func (m *Fibtex) TryLock() bool {
	return m.counter.CompareExchange(0, 1)
}

// Unlock releases the mutex and wakes tasks parked in Lock. Unlocking an
// unlocked Fibtex is logged and otherwise ignored.
func (m *Fibtex) Unlock() {
	if !m.counter.CompareExchange(1, 0) {
		m.s.logger.Warn("unlock of unlocked fibtex")
	}
}

// Locked reports whether the mutex is currently held.
func (m *Fibtex) Locked() bool {
	return m.counter.Load() != 0
}
