package core

import (
	"sync/atomic"

	"github.com/eapache/queue"
)

// readyList holds woken fibers waiting for a worker to switch into them.
// Pushes come from whichever thread decremented the counter; pops come from
// the owning worker or, for unpinned fibers, from idle peers.
type readyList struct {
	lock spinFlag
	q    *queue.Queue
	n    atomic.Int32
}

func newReadyList() *readyList {
	return &readyList{q: queue.New()}
}

func (l *readyList) push(f *Fiber) {
	l.lock.lock()
	l.q.Add(f)
	l.n.Add(1)
	l.lock.unlock()
}

func (l *readyList) pop() (*Fiber, bool) {
	if l.n.Load() == 0 {
		return nil, false
	}
	l.lock.lock()
	if l.q.Length() == 0 {
		l.lock.unlock()
		return nil, false
	}
	f := l.q.Remove().(*Fiber)
	l.n.Add(-1)
	l.lock.unlock()
	return f, true
}

func (l *readyList) len() int { return int(l.n.Load()) }
