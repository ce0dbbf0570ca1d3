package core

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

const defaultQueueCap = 64

// WorkStealingQueue is a growable Chase-Lev deque. The owner pushes and pops
// at the bottom (LIFO); any goroutine may steal from the top (FIFO).
//
// Memory ordering: every index and slot access goes through sync/atomic,
// which is sequentially consistent. The contract each operation relies on:
//   - PushBottom stores the slot before publishing bottom+1 (release), so a
//     thief that loads the new bottom (acquire) also sees the slot.
//   - PopBottom stores bottom-1 before loading top, and StealTop loads top
//     before loading bottom. With total ordering at least one side observes
//     the other, and the single remaining element is claimed by CAS on top.
//   - StealTop claims an element only through a successful CAS on top, so two
//     thieves, or a thief and the owner, never both return the same element.
//
// Weakening any of these is a correctness bug, not a tuning knob.
type WorkStealingQueue[T any] struct {
	_      cpu.CacheLinePad
	top    atomic.Int64
	_      cpu.CacheLinePad
	bottom atomic.Int64
	_      cpu.CacheLinePad
	ring   atomic.Pointer[queueRing[T]]
}

type queueRing[T any] struct {
	mask  int64
	slots []atomic.Pointer[T]
}

func newQueueRing[T any](capacity int64) *queueRing[T] {
	return &queueRing[T]{mask: capacity - 1, slots: make([]atomic.Pointer[T], capacity)}
}

func (r *queueRing[T]) capacity() int64     { return r.mask + 1 }
func (r *queueRing[T]) load(i int64) *T     { return r.slots[i&r.mask].Load() }
func (r *queueRing[T]) store(i int64, v *T) { r.slots[i&r.mask].Store(v) }
func (r *queueRing[T]) clear(i int64)       { r.slots[i&r.mask].Store(nil) }

// NewWorkStealingQueue creates a deque whose capacity is rounded up to a power of two.
func NewWorkStealingQueue[T any](capacity int) *WorkStealingQueue[T] {
	size := int64(defaultQueueCap)
	for size < int64(capacity) {
		size <<= 1
	}
	q := &WorkStealingQueue[T]{}
	q.ring.Store(newQueueRing[T](size))
	return q
}

// PushBottom adds v at the bottom. Owner only.
func (q *WorkStealingQueue[T]) PushBottom(v *T) {
	b := q.bottom.Load()
	t := q.top.Load()
	r := q.ring.Load()

	// One slot stays empty so a thief holding the old ring never reads a
	// slot the owner is overwriting.
	if b-t >= r.capacity()-1 {
		r = q.grow(r, t, b)
	}

	r.store(b, v)
	q.bottom.Store(b + 1)
}

// grow copies the live range into a ring twice the size. Thieves still
// holding the old ring read identical values for every index they can claim.
func (q *WorkStealingQueue[T]) grow(old *queueRing[T], t, b int64) *queueRing[T] {
	r := newQueueRing[T](old.capacity() * 2)
	for i := t; i < b; i++ {
		r.store(i, old.load(i))
	}
	q.ring.Store(r)
	return r
}

// PopBottom removes the most recently pushed element. Owner only.
func (q *WorkStealingQueue[T]) PopBottom() (*T, bool) {
	b := q.bottom.Load() - 1
	r := q.ring.Load()
	q.bottom.Store(b)
	t := q.top.Load()

	if t > b {
		// Empty.
		q.bottom.Store(b + 1)
		return nil, false
	}

	v := r.load(b)
	if t < b {
		// More than one element left; thieves cannot reach index b.
		r.clear(b)
		return v, true
	}

	// Last element: race thieves for it.
	won := q.top.CompareAndSwap(t, t+1)
	q.bottom.Store(b + 1)
	if !won {
		return nil, false
	}
	return v, true
}

// StealTop removes the oldest element. Safe from any goroutine. It returns
// false when the deque is empty or when another claimant won the element.
func (q *WorkStealingQueue[T]) StealTop() (*T, bool) {
	t := q.top.Load()
	b := q.bottom.Load()
	if t >= b {
		return nil, false
	}

	r := q.ring.Load()
	v := r.load(t)
	if !q.top.CompareAndSwap(t, t+1) {
		return nil, false
	}
	return v, true
}

// Len returns a snapshot of the number of elements; it may be stale.
func (q *WorkStealingQueue[T]) Len() int {
	n := q.bottom.Load() - q.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// IsEmpty reports whether the deque appeared empty.
func (q *WorkStealingQueue[T]) IsEmpty() bool { return q.Len() == 0 }

// Capacity returns the current ring capacity.
func (q *WorkStealingQueue[T]) Capacity() int { return int(q.ring.Load().capacity()) }
