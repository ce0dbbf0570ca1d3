package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-fiber-tasking/thread"
)

type schedulerState int32

const (
	stateNew schedulerState = iota
	stateRunning
	stateClosing
	stateStopped
)

// drainPollInterval bounds how long Shutdown can miss the final completion.
const drainPollInterval = 10 * time.Millisecond

// TaskScheduler runs tasks on a fixed set of worker threads. Tasks execute on
// pooled fibers and may wait on an AtomicCounter without blocking their
// thread: the fiber parks and the worker moves on to other work.
type TaskScheduler struct {
	cfg          *Config
	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler
	threads      ThreadFactory

	workers []*worker
	pool    *FiberPool
	policy  StealPolicy
	inject  injectQueue
	history *executionHistory

	behavior atomic.Int32
	signal   chan struct{}
	quit     chan struct{}
	drained  chan struct{}

	outstanding atomic.Int64
	executed    atomic.Int64
	stolen      atomic.Int64
	panicked    atomic.Int64
	rejected    atomic.Int64

	lifecycleMu sync.Mutex
	state       atomic.Int32
	// stopNow makes workers leave their loops without draining.
	stopNow atomic.Bool
}

// NewTaskScheduler validates cfg and builds a scheduler with its fiber pool.
// No thread is started until Start. A nil cfg selects DefaultConfig.
func NewTaskScheduler(cfg *Config) (*TaskScheduler, error) {
	rc, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	s := &TaskScheduler{
		cfg:          rc,
		logger:       rc.Logger,
		metrics:      rc.Metrics,
		panicHandler: rc.PanicHandler,
		threads:      rc.ThreadFactory,
		policy:       rc.StealPolicy(rc.ThreadCount),
		history:      newExecutionHistory(rc.TaskHistoryCapacity),
		signal:       make(chan struct{}, rc.ThreadCount*2),
		quit:         make(chan struct{}),
		drained:      make(chan struct{}, 1),
	}
	s.behavior.Store(int32(rc.EmptyQueueBehavior))

	s.workers = make([]*worker, rc.ThreadCount)
	for i := range s.workers {
		s.workers[i] = newWorker(s, i)
	}

	s.pool, err = NewFiberPool(rc.FiberPoolSize, rc.FiberStackSize, s.fiberStart, func(f *Fiber) context.Context {
		return withExecution(context.Background(), s, f)
	}, s.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize builds a scheduler from cfg and starts its workers.
func Initialize(cfg *Config) (*TaskScheduler, error) {
	s, err := NewTaskScheduler(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// Run starts a scheduler, runs main as a task and blocks until it returns.
// The scheduler is then drained and shut down.
func Run(cfg *Config, main TaskFunction, arg any) error {
	s, err := Initialize(cfg)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	err = s.AddTask(context.Background(), Task{
		Name: "main",
		Arg:  arg,
		Function: func(ctx context.Context, arg any) {
			defer close(done)
			main(ctx, arg)
		},
	}, nil)
	if err != nil {
		s.Shutdown()
		return err
	}

	<-done
	s.Shutdown()
	return nil
}

// Start creates one thread per worker. Worker i is pinned to core i when
// PinThreads is set; failing to pin is a configuration error.
func (s *TaskScheduler) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.state.CompareAndSwap(int32(stateNew), int32(stateRunning)) {
		return ErrAlreadyInitialized
	}

	for i, w := range s.workers {
		core := thread.NoAffinity
		if s.cfg.PinThreads {
			core = i
		}
		w.core = core

		h, err := s.threads.CreateThread(s.cfg.ThreadStackSize, threadStart, w, core)
		if err != nil {
			s.logger.Error("failed to start worker", F("worker", i), F("core", core), F("error", err))
			s.abortStart(s.workers[:i])
			return fmt.Errorf("%w: worker %d: %w", ErrAffinity, i, err)
		}
		w.thread = h
	}

	s.logger.Info("scheduler started",
		F("threads", len(s.workers)),
		F("fibers", s.pool.Size()),
		F("pinned", s.cfg.PinThreads),
		F("empty_queue", s.GetEmptyQueueBehavior().String()))
	return nil
}

func (s *TaskScheduler) abortStart(started []*worker) {
	s.stopNow.Store(true)
	s.state.Store(int32(stateStopped))
	close(s.quit)
	for _, w := range started {
		w.wakeUp()
		s.threads.JoinThread(w.thread)
	}
	s.pool.Close()
}

// Shutdown waits for every submitted task to finish, then stops and joins
// the workers. It must not be called from inside a task.
func (s *TaskScheduler) Shutdown() {
	_ = s.shutdown(0)
}

// ShutdownGraceful is Shutdown with a bound on draining. On timeout the
// workers are stopped anyway; fibers still parked are destroyed.
func (s *TaskScheduler) ShutdownGraceful(timeout time.Duration) error {
	return s.shutdown(timeout)
}

func (s *TaskScheduler) shutdown(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	switch schedulerState(s.state.Load()) {
	case stateStopped:
		return nil
	case stateNew:
		s.state.Store(int32(stateStopped))
		close(s.quit)
		s.pool.Close()
		return nil
	}

	s.state.Store(int32(stateClosing))
	err := s.drain(timeout)
	if err != nil {
		s.logger.Warn("forcing shutdown", F("outstanding", s.outstanding.Load()), F("error", err))
		s.stopNow.Store(true)
	}

	s.state.Store(int32(stateStopped))
	close(s.quit)
	for _, w := range s.workers {
		w.wakeUp()
		s.threads.JoinThread(w.thread)
	}
	s.withdrawParked()
	s.pool.Close()

	s.logger.Info("scheduler stopped", F("executed", s.executed.Load()), F("stolen", s.stolen.Load()))
	return err
}

// withdrawParked unregisters every parked fiber from its counter. Destroying
// a fiber unwinds its task's defers, which may release the counter it waits on.
func (s *TaskScheduler) withdrawParked() {
	for i := range s.pool.Size() {
		f := s.pool.Fiber(i)
		if f.State() == FiberParked && f.waitingOn != nil {
			f.waitingOn.withdraw(f)
		}
	}
}

func (s *TaskScheduler) drain(timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for s.outstanding.Load() > 0 {
		select {
		case <-s.drained:
		case <-ticker.C:
		case <-deadline:
			return fmt.Errorf("ftl: shutdown timed out after %v with %d tasks outstanding", timeout, s.outstanding.Load())
		}
	}
	return nil
}

func (s *TaskScheduler) stopped() bool {
	return schedulerState(s.state.Load()) == stateStopped
}

// =============================================================================
// Submission
// =============================================================================

// AddTask submits one task. counter may be nil; otherwise it is incremented
// now and decremented when the task finishes.
func (s *TaskScheduler) AddTask(ctx context.Context, task Task, counter *AtomicCounter) error {
	return s.AddTasks(ctx, []Task{task}, counter)
}

// AddTasks submits tasks sharing counter, which is incremented by len(tasks).
// Called from a task, the tasks go to the calling worker's own queue;
// otherwise they go to the shared inject queue.
func (s *TaskScheduler) AddTasks(ctx context.Context, tasks []Task, counter *AtomicCounter) error {
	if len(tasks) == 0 {
		return nil
	}
	for i := range tasks {
		if tasks[i].Function == nil {
			violate(s.logger, "AddTasks", "task %d has no function", i)
		}
	}

	if counter != nil && counter.scheduler != s {
		violate(s.logger, "AddTasks", "counter belongs to a different scheduler")
	}

	ec := executionFrom(ctx)
	if ec != nil && ec.scheduler != s {
		violate(s.logger, "AddTasks", "context belongs to a different scheduler")
	}
	if ec == nil {
		if st := schedulerState(s.state.Load()); st == stateClosing || st == stateStopped {
			s.rejected.Add(int64(len(tasks)))
			s.metrics.RecordTaskRejected("shutting down")
			return ErrSchedulerClosed
		}
	}

	n := int64(len(tasks))
	if counter != nil {
		counter.retainN(int32(n))
		counter.Add(n)
	}
	s.outstanding.Add(n)

	bundles := make([]*taskBundle, len(tasks))
	for i := range tasks {
		bundles[i] = &taskBundle{id: GenerateTaskID(), task: tasks[i], counter: counter}
	}

	if ec != nil && ec.fiber.host != nil {
		q := ec.fiber.host.queue
		for _, b := range bundles {
			q.PushBottom(b)
		}
	} else {
		s.inject.push(bundles)
	}
	s.notify(len(bundles))
	return nil
}

// SubmitTasks submits tasks under a fresh counter and returns it. The caller
// owns one reference and must Release it once done waiting.
func (s *TaskScheduler) SubmitTasks(ctx context.Context, tasks []Task) (*AtomicCounter, error) {
	c := NewAtomicCounter(s, 0)
	if err := s.AddTasks(ctx, tasks, c); err != nil {
		c.Release()
		return nil, err
	}
	return c, nil
}

// notify wakes up to n sleeping workers.
func (s *TaskScheduler) notify(n int) {
	for range min(n, len(s.workers)) {
		select {
		case s.signal <- struct{}{}:
		default:
			return
		}
	}
}

// =============================================================================
// Waiting
// =============================================================================

// WaitForCounter parks the calling task until c is at or below target. The
// fiber may resume on any worker. ctx must be the context the task was
// started with.
func (s *TaskScheduler) WaitForCounter(ctx context.Context, c *AtomicCounter, target int64) {
	s.wait(ctx, c, target, false, "WaitForCounter")
}

// WaitForCounterPinned is WaitForCounter, but the task resumes on the worker
// that parked it. The pin is to the worker index and its queues, not to an
// OS thread: the fiber's goroutine may run on a different OS thread after
// the wait.
func (s *TaskScheduler) WaitForCounterPinned(ctx context.Context, c *AtomicCounter, target int64) {
	s.wait(ctx, c, target, true, "WaitForCounterPinned")
}

func (s *TaskScheduler) wait(ctx context.Context, c *AtomicCounter, target int64, pinned bool, op string) {
	ec := executionFrom(ctx)
	switch {
	case ec == nil:
		violate(s.logger, op, "called outside a task fiber")
	case ec.scheduler != s:
		violate(s.logger, op, "context belongs to a different scheduler")
	case c == nil:
		violate(s.logger, op, "nil counter")
	case c.scheduler != s:
		violate(s.logger, op, "counter belongs to a different scheduler")
	}

	f := ec.fiber
	if f.State() != FiberBound || f.host == nil {
		violate(s.logger, op, "fiber %d is %s, not running a task", f.id, f.State())
	}
	if c.Load() <= target {
		return
	}

	w := f.host
	s.pool.park(f)
	f.waitingOn = c
	if !c.registerWaiter(f, target, w.index, pinned) {
		f.waitingOn = nil
		s.pool.unpark(f)
		return
	}
	f.parks++
	s.metrics.RecordFiberParked(w.index)

	back := SwitchTo(f, w.loopFiber, fiberMessage{from: f, outcome: outcomeParked})

	f.waitingOn = nil
	f.host = back.host
	s.metrics.RecordFiberResumed(back.host.index, back.host != w)
}

// readyFiber hands a woken waiter to a worker's ready list.
func (s *TaskScheduler) readyFiber(cw counterWaiter) {
	s.pool.unpark(cw.fiber)
	w := s.workers[cw.worker]
	if cw.pinned {
		w.pinned.push(cw.fiber)
		w.wakeUp()
		return
	}
	w.shared.push(cw.fiber)
	w.wakeUp()
	s.notify(1)
}

// =============================================================================
// Task execution
// =============================================================================

// fiberStart is the body of every pool fiber: run the bound task, hand the
// fiber back, wait for the next one.
func (s *TaskScheduler) fiberStart(f *Fiber, msg fiberMessage) {
	for {
		f.host = msg.host
		s.runTask(f, msg.bundle)
		msg = SwitchTo(f, f.host.loopFiber, fiberMessage{from: f, outcome: outcomeCompleted})
	}
}

func (s *TaskScheduler) runTask(f *Fiber, b *taskBundle) {
	start := f.host
	f.parks = 0
	name := resolveTaskName(b.task.Function, b.task.Name)

	startedAt := time.Now()
	panicked := s.invoke(f, b.task, name)
	finishedAt := time.Now()
	elapsed := finishedAt.Sub(startedAt)

	finish := f.host
	finish.executed.Add(1)
	s.executed.Add(1)
	s.metrics.RecordTaskDuration(finish.index, elapsed)
	s.history.Add(TaskExecutionRecord{
		TaskID:       b.id,
		Name:         name,
		StartWorker:  start.index,
		FinishWorker: finish.index,
		Parks:        f.parks,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
		Duration:     elapsed,
		Panicked:     panicked,
	})

	if b.counter != nil {
		b.counter.Decrement()
		b.counter.Release()
	}
	s.finishOutstanding()
}

// invoke runs the task body and recovers ordinary panics. Contract
// violations are re-raised.
func (s *TaskScheduler) invoke(f *Fiber, task Task, name string) (panicked bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if IsContractViolation(r) {
			panic(r)
		}
		panicked = true
		s.panicked.Add(1)
		s.metrics.RecordTaskPanic(f.host.index, r)
		s.panicHandler.HandlePanic(f.ctx, f.host.index, name, r, debug.Stack())
	}()
	task.Function(f.ctx, task.Arg)
	return false
}

func (s *TaskScheduler) finishOutstanding() {
	if s.outstanding.Add(-1) == 0 && schedulerState(s.state.Load()) == stateClosing {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	}
}

// =============================================================================
// Introspection
// =============================================================================

// ThreadCount returns the number of worker threads.
func (s *TaskScheduler) ThreadCount() int { return len(s.workers) }

// FiberCount returns the fiber pool size.
func (s *TaskScheduler) FiberCount() int { return s.pool.Size() }

// CurrentWorkerIndex returns the worker running the task that owns ctx, or -1
// outside a task.
func (s *TaskScheduler) CurrentWorkerIndex(ctx context.Context) int {
	ec := executionFrom(ctx)
	if ec == nil || ec.scheduler != s || ec.fiber.host == nil {
		return -1
	}
	return ec.fiber.host.index
}

// SetEmptyQueueBehavior changes what idle workers do. It takes effect on the
// next idle round.
func (s *TaskScheduler) SetEmptyQueueBehavior(b EmptyQueueBehavior) {
	s.behavior.Store(int32(b))
	if b != EmptyQueueSleep {
		for _, w := range s.workers {
			w.wakeUp()
		}
	}
}

// GetEmptyQueueBehavior returns the current idle behaviour.
func (s *TaskScheduler) GetEmptyQueueBehavior() EmptyQueueBehavior {
	return EmptyQueueBehavior(s.behavior.Load())
}

// RecentTasks returns up to limit execution records, newest first. A limit
// of zero or less returns all retained records.
func (s *TaskScheduler) RecentTasks(limit int) []TaskExecutionRecord {
	return s.history.Recent(limit)
}

// Logger returns the scheduler's logger.
func (s *TaskScheduler) Logger() Logger { return s.logger }

func (s *TaskScheduler) queueDepth(i int) int {
	return s.workers[i].queue.Len()
}

// Stats returns a point-in-time snapshot. Fields are read independently and
// may be mutually inconsistent while tasks run.
func (s *TaskScheduler) Stats() SchedulerStats {
	st := SchedulerStats{
		Threads:      len(s.workers),
		Fibers:       s.pool.Size(),
		IdleFibers:   s.pool.Idle(),
		ParkedFibers: s.pool.Parked(),
		Queued:       s.inject.len(),
		Outstanding:  s.outstanding.Load(),
		Executed:     s.executed.Load(),
		Stolen:       s.stolen.Load(),
		Panicked:     s.panicked.Load(),
		Rejected:     s.rejected.Load(),
		Running:      schedulerState(s.state.Load()) == stateRunning,
		Workers:      make([]WorkerStats, len(s.workers)),
	}
	for i, w := range s.workers {
		ws := w.stats()
		st.Workers[i] = ws
		st.Queued += ws.Queued
		st.ReadyFibers += ws.Ready
	}
	return st
}
