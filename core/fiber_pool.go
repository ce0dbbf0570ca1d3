package core

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// FiberPool is a fixed arena of fibers reused as task execution contexts.
// Slot i always holds the fiber with ID i; each fiber carries its state tag.
//
// The semaphore counts idle fibers, so a successful acquire of a permit
// guarantees an idle slot exists for the scan that follows.
type FiberPool struct {
	fibers []*Fiber
	free   *semaphore.Weighted
	idle   atomic.Int64
	parked atomic.Int64
	logger Logger
	closed atomic.Bool
}

// NewFiberPool eagerly creates size fibers running entry. ctxFor builds the
// context each fiber hands to its tasks.
func NewFiberPool(size, stackSize int, entry FiberEntry, ctxFor func(*Fiber) context.Context, logger Logger) (*FiberPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFiberPoolSize, size)
	}
	if logger == nil {
		logger = NewNoOpLogger()
	}
	p := &FiberPool{
		fibers: make([]*Fiber, size),
		free:   semaphore.NewWeighted(int64(size)),
		logger: logger,
	}
	for i := range size {
		f := NewFiber(i, stackSize, entry)
		if ctxFor != nil {
			f.ctx = ctxFor(f)
		}
		p.fibers[i] = f
	}
	p.idle.Store(int64(size))
	return p, nil
}

// Size returns the pool capacity.
func (p *FiberPool) Size() int { return len(p.fibers) }

// Idle returns the number of fibers currently idle in the pool.
func (p *FiberPool) Idle() int { return int(p.idle.Load()) }

// Parked returns the number of fibers parked on a counter.
func (p *FiberPool) Parked() int { return int(p.parked.Load()) }

// Fiber returns the fiber in slot id.
func (p *FiberPool) Fiber(id int) *Fiber { return p.fibers[id] }

// TryAcquire takes an idle fiber without blocking. cursor is the caller's
// private scan position and is advanced past the slot taken.
func (p *FiberPool) TryAcquire(cursor *int) (*Fiber, bool) {
	if p.closed.Load() || !p.free.TryAcquire(1) {
		return nil, false
	}
	return p.claim(cursor), true
}

// Acquire takes an idle fiber, waiting until one is released or ctx is done.
func (p *FiberPool) Acquire(ctx context.Context, cursor *int) (*Fiber, error) {
	if p.closed.Load() {
		return nil, ErrSchedulerClosed
	}
	if err := p.free.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return p.claim(cursor), nil
}

// claim scans for an idle slot. The caller holds a permit, so one exists.
func (p *FiberPool) claim(cursor *int) *Fiber {
	n := len(p.fibers)
	start := 0
	if cursor != nil {
		start = *cursor
	}
	for i := 0; ; i++ {
		idx := (start + i) % n
		f := p.fibers[idx]
		if f.state.CompareAndSwap(int32(FiberIdle), int32(FiberBound)) {
			p.idle.Add(-1)
			if cursor != nil {
				*cursor = (idx + 1) % n
			}
			return f
		}
	}
}

// Release returns a fiber whose task has completed. Parked fibers are never
// released; they still hold the stack of a task waiting to resume.
func (p *FiberPool) Release(f *Fiber) {
	if !f.state.CompareAndSwap(int32(FiberBound), int32(FiberIdle)) {
		violate(p.logger, "FiberPool.Release", "fiber %d released in state %s", f.id, f.State())
	}
	p.idle.Add(1)
	p.free.Release(1)
}

// park tags a bound fiber as waiting on a counter.
func (p *FiberPool) park(f *Fiber) {
	if !f.state.CompareAndSwap(int32(FiberBound), int32(FiberParked)) {
		violate(p.logger, "FiberPool.park", "fiber %d parked in state %s", f.id, f.State())
	}
	p.parked.Add(1)
}

// unpark tags a parked fiber as bound again before it is switched into.
func (p *FiberPool) unpark(f *Fiber) {
	if !f.state.CompareAndSwap(int32(FiberParked), int32(FiberBound)) {
		violate(p.logger, "FiberPool.unpark", "fiber %d resumed in state %s", f.id, f.State())
	}
	p.parked.Add(-1)
}

// Close destroys every fiber. Only call once no worker can switch into a pool
// fiber any more.
func (p *FiberPool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for _, f := range p.fibers {
		f.destroy()
	}
}
