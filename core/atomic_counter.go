package core

import "sync/atomic"

// counterWaiter is a fiber parked until the counter value is at or below target.
type counterWaiter struct {
	fiber  *Fiber
	target int64
	// worker is where the fiber last ran; pinned forbids resuming elsewhere.
	worker int
	pinned bool
}

// AtomicCounter tracks outstanding work and lets task fibers wait on it
// without blocking a worker thread.
//
// Waiter registration and wake-up are made race free by ordering, not by a
// lock on the value: a waiter is appended and the waiter count published
// before the value is re-checked, and every value change is followed by a
// load of the waiter count. With sequentially consistent atomics either the
// registering fiber sees the new value and withdraws, or the writer sees the
// waiter and wakes it. The spin flag only guards the waiter slice.
type AtomicCounter struct {
	scheduler *TaskScheduler
	value     atomic.Int64
	refs      atomic.Int32
	waiting   atomic.Int32
	lock      spinFlag
	waiters   []counterWaiter
}

// NewAtomicCounter creates a counter owned by s with one reference held by
// the caller. s may be nil for counters used outside any scheduler; such a
// counter can be neither waited on nor passed to AddTasks.
func NewAtomicCounter(s *TaskScheduler, initial int64) *AtomicCounter {
	c := &AtomicCounter{scheduler: s}
	if initial < 0 {
		violate(c.logger(), "NewAtomicCounter", "negative initial value %d", initial)
	}
	c.value.Store(initial)
	c.refs.Store(1)
	return c
}

// Load returns the current value.
func (c *AtomicCounter) Load() int64 { return c.value.Load() }

// GetValue returns the current value.
func (c *AtomicCounter) GetValue() int64 { return c.value.Load() }

// Refs returns the current reference count.
func (c *AtomicCounter) Refs() int32 { return c.refs.Load() }

// Retain adds a reference.
func (c *AtomicCounter) Retain() {
	c.retainN(1)
}

func (c *AtomicCounter) retainN(n int32) {
	if prev := c.refs.Add(n) - n; prev <= 0 {
		violate(c.logger(), "AtomicCounter.Retain", "counter already released")
	}
}

// Release drops a reference. Releasing more references than were taken, or
// dropping the last reference while a fiber waits on the counter, is fatal.
func (c *AtomicCounter) Release() {
	n := c.refs.Add(-1)
	if n < 0 {
		violate(c.logger(), "AtomicCounter.Release", "reference count went negative")
	}
	if n == 0 && c.waiting.Load() > 0 {
		violate(c.logger(), "AtomicCounter.Release", "last reference released with %d registered waiters", c.waiting.Load())
	}
}

// Decrement subtracts one and returns the new value.
func (c *AtomicCounter) Decrement() int64 {
	return c.Add(-1)
}

// Add adds delta and returns the new value. The value never goes below zero:
// a delta that would take it negative is a contract violation and leaves the
// value unchanged.
func (c *AtomicCounter) Add(delta int64) int64 {
	c.checkLive("AtomicCounter.Add")
	for {
		old := c.value.Load()
		next := old + delta
		if next < 0 {
			violate(c.logger(), "AtomicCounter.Add", "value %d + %d would go negative", old, delta)
		}
		if c.value.CompareAndSwap(old, next) {
			if delta < 0 {
				c.checkAndWake()
			}
			return next
		}
	}
}

// Store sets the value.
func (c *AtomicCounter) Store(v int64) {
	c.checkLive("AtomicCounter.Store")
	if v < 0 {
		violate(c.logger(), "AtomicCounter.Store", "negative value %d", v)
	}
	c.value.Store(v)
	c.checkAndWake()
}

// CompareExchange sets the value to desired if it equals expected.
func (c *AtomicCounter) CompareExchange(expected, desired int64) bool {
	c.checkLive("AtomicCounter.CompareExchange")
	if desired < 0 {
		violate(c.logger(), "AtomicCounter.CompareExchange", "negative value %d", desired)
	}
	if !c.value.CompareAndSwap(expected, desired) {
		return false
	}
	c.checkAndWake()
	return true
}

// Waiters returns the number of fibers currently registered.
func (c *AtomicCounter) Waiters() int { return int(c.waiting.Load()) }

// registerWaiter records fiber f as waiting for value <= target. It returns
// false when the condition already holds, in which case f must not park.
func (c *AtomicCounter) registerWaiter(f *Fiber, target int64, worker int, pinned bool) bool {
	c.checkLive("AtomicCounter.registerWaiter")
	if c.value.Load() <= target {
		return false
	}

	c.lock.lock()
	c.waiters = append(c.waiters, counterWaiter{fiber: f, target: target, worker: worker, pinned: pinned})
	c.waiting.Add(1)

	// Re-check after publishing; a concurrent writer may have missed us.
	if c.value.Load() <= target {
		c.removeLocked(f)
		c.lock.unlock()
		return false
	}
	c.lock.unlock()
	return true
}

// withdraw removes f from the waiter set if it is still registered.
func (c *AtomicCounter) withdraw(f *Fiber) {
	c.lock.lock()
	c.removeLocked(f)
	c.lock.unlock()
}

// removeLocked drops f from the waiter slice.
func (c *AtomicCounter) removeLocked(f *Fiber) {
	for i := range c.waiters {
		if c.waiters[i].fiber == f {
			last := len(c.waiters) - 1
			c.waiters[i] = c.waiters[last]
			c.waiters[last] = counterWaiter{}
			c.waiters = c.waiters[:last]
			c.waiting.Add(-1)
			return
		}
	}
}

// checkAndWake hands every waiter whose condition now holds back to the
// scheduler. Each waiter is removed under the flag, so it is woken once.
func (c *AtomicCounter) checkAndWake() {
	if c.waiting.Load() == 0 {
		return
	}

	var buf [4]counterWaiter
	ready := buf[:0]

	c.lock.lock()
	v := c.value.Load()
	for i := 0; i < len(c.waiters); {
		if v <= c.waiters[i].target {
			ready = append(ready, c.waiters[i])
			last := len(c.waiters) - 1
			c.waiters[i] = c.waiters[last]
			c.waiters[last] = counterWaiter{}
			c.waiters = c.waiters[:last]
			c.waiting.Add(-1)
			continue
		}
		i++
	}
	c.lock.unlock()

	for _, w := range ready {
		if c.scheduler == nil {
			violate(c.logger(), "AtomicCounter.checkAndWake", "waiter on a counter without a scheduler")
		}
		c.scheduler.readyFiber(w)
	}
}

func (c *AtomicCounter) checkLive(op string) {
	if c.refs.Load() <= 0 {
		violate(c.logger(), op, "counter used after its last reference was released")
	}
}

func (c *AtomicCounter) logger() Logger {
	if c.scheduler != nil {
		return c.scheduler.logger
	}
	return nil
}
