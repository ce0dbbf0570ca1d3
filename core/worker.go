package core

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Swind/go-fiber-tasking/thread"
)

const workerQueueCapacity = 256

// worker is one OS thread running a scheduling loop. Its loop fiber is the
// thread's own goroutine; task fibers are switched into from there and
// switch back when they complete or park.
type worker struct {
	index     int
	core      int
	scheduler *TaskScheduler
	thread    *thread.Handle

	queue     *WorkStealingQueue[taskBundle]
	loopFiber *Fiber
	// pinned fibers may only resume here; shared ones may be taken by peers.
	pinned *readyList
	shared *readyList
	wake   chan struct{}

	state   atomic.Int32
	current atomic.Pointer[Fiber]

	executed atomic.Int64
	stolen   atomic.Int64

	// Owned by the loop fiber.
	cursor      int
	victims     []int
	emptyRounds int
	exhausted   int
	timer       *time.Timer
}

func newWorker(s *TaskScheduler, index int) *worker {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &worker{
		index:     index,
		core:      thread.NoAffinity,
		scheduler: s,
		queue:     NewWorkStealingQueue[taskBundle](workerQueueCapacity),
		loopFiber: newThreadFiber(-1 - index),
		pinned:    newReadyList(),
		shared:    newReadyList(),
		wake:      make(chan struct{}, 1),
		victims:   make([]int, 0, len(s.workers)),
		timer:     t,
	}
}

// threadStart is the entry function of every worker thread.
func threadStart(arg any) {
	arg.(*worker).run()
}

// run is the scheduling loop.
func (w *worker) run() {
	s := w.scheduler
	w.state.Store(int32(WorkerExecutingSchedulingLoop))
	s.logger.Debug("worker started", F("worker", w.index), F("core", w.core))

	for !s.stopNow.Load() {
		if w.findWork() {
			w.emptyRounds = 0
			continue
		}
		if s.stopped() {
			break
		}
		w.idle()
	}

	w.state.Store(int32(WorkerIdle))
	s.logger.Debug("worker stopped", F("worker", w.index), F("executed", w.executed.Load()))
}

// findWork runs at most one unit of work and reports whether it found any.
// Order: woken fibers, own deque (LIFO), external submissions, peers' deques
// (FIFO), then peers' woken fibers.
func (w *worker) findWork() bool {
	s := w.scheduler

	if f, ok := w.pinned.pop(); ok {
		w.resume(f)
		return true
	}
	if f, ok := w.shared.pop(); ok {
		w.resume(f)
		return true
	}
	if b, ok := w.queue.PopBottom(); ok {
		w.execute(b)
		return true
	}
	if b, ok := s.inject.pop(); ok {
		w.execute(b)
		return true
	}
	if b, ok := w.steal(); ok {
		w.execute(b)
		return true
	}
	for i := 1; i < len(s.workers); i++ {
		peer := s.workers[(w.index+i)%len(s.workers)]
		if f, ok := peer.shared.pop(); ok {
			w.resume(f)
			return true
		}
	}
	return false
}

func (w *worker) steal() (*taskBundle, bool) {
	s := w.scheduler
	if len(s.workers) < 2 {
		return nil, false
	}

	w.victims = s.policy.Victims(w.victims[:0], w.index, s.queueDepth)
	for _, v := range w.victims {
		if b, ok := s.workers[v].queue.StealTop(); ok {
			s.policy.Stolen(w.index, v)
			w.stolen.Add(1)
			s.stolen.Add(1)
			s.metrics.RecordSteal(w.index, v)
			return b, true
		}
	}
	return nil, false
}

// execute binds b to a pooled fiber and switches into it. With no idle fiber
// the task goes back on the deque and the worker backs off; parked fibers
// resuming elsewhere will free one.
func (w *worker) execute(b *taskBundle) {
	s := w.scheduler
	f, ok := s.pool.TryAcquire(&w.cursor)
	if !ok {
		w.queue.PushBottom(b)
		s.metrics.RecordPoolExhausted(w.index)
		if w.exhausted == 0 {
			s.logger.Warn("fiber pool exhausted", F("worker", w.index), F("fibers", s.pool.Size()), F("parked", s.pool.Parked()))
		}
		if w.pinned.len() == 0 && w.shared.len() == 0 {
			w.sleep(s.cfg.IdleBackoff.delay(w.exhausted))
		}
		w.exhausted++
		return
	}
	w.exhausted = 0
	w.switchInto(f, fiberMessage{host: w, bundle: b})
}

// resume switches into a fiber woken from a counter.
func (w *worker) resume(f *Fiber) {
	w.switchInto(f, fiberMessage{host: w})
}

func (w *worker) switchInto(f *Fiber, msg fiberMessage) {
	w.current.Store(f)
	w.state.Store(int32(WorkerExecutingTask))

	back := SwitchTo(w.loopFiber, f, msg)

	w.current.Store(nil)
	w.state.Store(int32(WorkerExecutingSchedulingLoop))

	// A parked fiber stays out of the pool; its waker owns it now.
	if back.outcome == outcomeCompleted {
		w.scheduler.pool.Release(back.from)
	}
}

// idle is the single backoff point of the scheduling loop.
func (w *worker) idle() {
	s := w.scheduler
	switch EmptyQueueBehavior(s.behavior.Load()) {
	case EmptyQueueSpin:
	case EmptyQueueYield:
		runtime.Gosched()
	default:
		w.sleep(s.cfg.IdleBackoff.delay(w.emptyRounds))
		w.emptyRounds++
	}
}

// sleep parks the worker thread until work is signalled, the scheduler
// stops, or d elapses.
func (w *worker) sleep(d time.Duration) {
	s := w.scheduler
	if d <= 0 {
		runtime.Gosched()
		return
	}
	d = min(d, idleSleepCap)

	w.state.Store(int32(WorkerIdle))
	w.timer.Reset(d)
	select {
	case <-s.signal:
	case <-w.wake:
	case <-s.quit:
	case <-w.timer.C:
	}
	w.timer.Stop()
	w.state.Store(int32(WorkerExecutingSchedulingLoop))
}

// wakeUp interrupts a sleeping worker.
func (w *worker) wakeUp() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) stats() WorkerStats {
	return WorkerStats{
		Index:    w.index,
		Core:     w.core,
		State:    WorkerState(w.state.Load()),
		Queued:   w.queue.Len(),
		Ready:    w.pinned.len() + w.shared.len(),
		Executed: w.executed.Load(),
		Stolen:   w.stolen.Load(),
	}
}
