package core

import (
	"sync"
	"sync/atomic"
)

const (
	injectQueueCap      = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// injectQueue is the FIFO for tasks submitted from outside any worker. Only
// a worker's own fibers may push to its deque, so external submitters go
// through here and workers drain it before stealing. It is off the hot path.
type injectQueue struct {
	mu    sync.Mutex
	items []*taskBundle
	n     atomic.Int32
}

func (q *injectQueue) push(bundles []*taskBundle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, bundles...)
	q.n.Add(int32(len(bundles)))
}

func (q *injectQueue) pop() (*taskBundle, bool) {
	if q.n.Load() == 0 {
		return nil, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	b := q.items[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.items[0] = nil
	q.items = q.items[1:]
	q.n.Add(-1)
	q.maybeCompactLocked()

	return b, true
}

func (q *injectQueue) maybeCompactLocked() {
	n := len(q.items)
	c := cap(q.items)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.items = make([]*taskBundle, 0, injectQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, injectQueueCap), n)

	newSlice := make([]*taskBundle, n, newCap)
	copy(newSlice, q.items)
	q.items = newSlice
}

func (q *injectQueue) len() int { return int(q.n.Load()) }
