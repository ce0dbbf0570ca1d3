package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// TestScheduler_ManyTasksOneCounter is the end-to-end completion property
// Given: Schedulers with 1, 2 and hardware-count workers
// When: 1000 no-op tasks share one counter and a task waits for it, 100 times
// Then: Every wait returns with the counter at zero and every body has run
func TestScheduler_ManyTasksOneCounter(t *testing.T) {
	const tasks, reps = 1000, 100

	for _, threads := range []int{1, 2, runtime.NumCPU()} {
		t.Run(fmt.Sprintf("threads=%d", threads), func(t *testing.T) {
			cfg := testConfig(threads)
			cfg.TaskHistoryCapacity = -1

			var ran atomic.Int64
			body := func(ctx context.Context, arg any) { ran.Add(1) }

			err := Run(cfg, func(ctx context.Context, _ any) {
				s := FromContext(ctx)
				batch := make([]Task, tasks)
				for i := range batch {
					batch[i] = Task{Function: body}
				}
				for rep := range reps {
					c, err := s.SubmitTasks(ctx, batch)
					if err != nil {
						t.Errorf("rep %d: SubmitTasks() error = %v", rep, err)
						return
					}
					s.WaitForCounter(ctx, c, 0)
					if v := c.GetValue(); v != 0 {
						t.Errorf("rep %d: GetValue() = %d after wait, want 0", rep, v)
					}
					if got, want := ran.Load(), int64((rep+1)*tasks); got != want {
						t.Errorf("rep %d: %d bodies ran, want %d", rep, got, want)
					}
					c.Release()
				}
			}, nil)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := ran.Load(); got != tasks*reps {
				t.Fatalf("%d bodies ran, want %d", got, tasks*reps)
			}
		})
	}
}

// TestScheduler_NestedWaits covers a task waiting on tasks it spawned
// Given: Task A submitting B and C under counter(2) and waiting on it
// When: B and C finish
// Then: A resumes only after both, and the history shows A parked
func TestScheduler_NestedWaits(t *testing.T) {
	// Arrange
	cfg := testConfig(2)
	s := newTestScheduler(t, cfg)

	var (
		mu    sync.Mutex
		order []string
	)
	mark := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}
	child := func(ctx context.Context, arg any) {
		time.Sleep(10 * time.Millisecond)
		mark(arg.(string))
	}

	done := NewAtomicCounter(s, 0)

	// Act
	err := s.AddTask(context.Background(), Task{Name: "A", Function: func(ctx context.Context, _ any) {
		c := NewAtomicCounter(s, 0)
		defer c.Release()
		if err := s.AddTasks(ctx, []Task{
			{Name: "B", Function: child, Arg: "B"},
			{Name: "C", Function: child, Arg: "C"},
		}, c); err != nil {
			t.Errorf("AddTasks() error = %v", err)
		}
		s.WaitForCounter(ctx, c, 0)
		mark("A")
	}}, done)
	if err != nil {
		t.Fatal(err)
	}

	// Assert
	waitForCondition(t, 5*time.Second, func() bool { return done.Load() == 0 })
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[2] != "A" {
		t.Fatalf("completion order = %v, want A last", order)
	}

	var rec *TaskExecutionRecord
	for _, r := range s.RecentTasks(0) {
		if r.Name == "A" {
			rec = &r
			break
		}
	}
	if rec == nil {
		t.Fatal("no history record for A")
	}
	if rec.Parks != 1 {
		t.Errorf("A parked %d times, want 1", rec.Parks)
	}
}

// TestScheduler_WaitCanResumeOnAnotherWorker shows migration across workers
// Given: Two workers, and parent tasks that wait on a child while the parent's
// own worker is kept busy by a long task
// When: The child completes on the other worker
// Then: At least one parent finishes on a different worker than it started
func TestScheduler_WaitCanResumeOnAnotherWorker(t *testing.T) {
	cfg := testConfig(2)
	cfg.EmptyQueueBehavior = EmptyQueueYield
	s := newTestScheduler(t, cfg)

	migrated := func() bool {
		for _, r := range s.RecentTasks(0) {
			if r.Name == "parent" && r.Migrated() {
				return true
			}
		}
		return false
	}

	for attempt := 0; attempt < 50 && !migrated(); attempt++ {
		all := NewAtomicCounter(s, 0)
		parent := func(ctx context.Context, _ any) {
			c := NewAtomicCounter(s, 0)
			defer c.Release()
			// The blocker is pushed last and popped first (LIFO), so it
			// occupies this worker; the child is stolen by the other.
			_ = s.AddTasks(ctx, []Task{{Name: "child", Function: func(context.Context, any) {}}}, c)
			_ = s.AddTask(ctx, Task{Name: "blocker", Function: func(context.Context, any) {
				time.Sleep(20 * time.Millisecond)
			}}, nil)
			s.WaitForCounter(ctx, c, 0)
		}
		if err := s.AddTask(context.Background(), Task{Name: "parent", Function: parent}, all); err != nil {
			t.Fatal(err)
		}
		waitForCondition(t, 5*time.Second, func() bool { return all.Load() == 0 })
		all.Release()
	}

	if !migrated() {
		t.Fatal("no parent task ever resumed on a different worker")
	}
}

// TestScheduler_PinnedWaitResumesOnSameWorker verifies WaitForCounterPinned
// Given: Tasks waiting with WaitForCounterPinned on children
// When: The children complete, possibly on other workers
// Then: Every waiting task finishes on the worker it started on
func TestScheduler_PinnedWaitResumesOnSameWorker(t *testing.T) {
	cfg := testConfig(4)
	cfg.EmptyQueueBehavior = EmptyQueueYield
	s := newTestScheduler(t, cfg)

	var mismatches atomic.Int32
	all := NewAtomicCounter(s, 0)
	pinned := func(ctx context.Context, _ any) {
		before := s.CurrentWorkerIndex(ctx)
		c := NewAtomicCounter(s, 0)
		defer c.Release()
		children := make([]Task, 8)
		for i := range children {
			children[i] = Task{Function: func(context.Context, any) { time.Sleep(time.Millisecond) }}
		}
		_ = s.AddTasks(ctx, children, c)
		s.WaitForCounterPinned(ctx, c, 0)
		if after := s.CurrentWorkerIndex(ctx); after != before {
			mismatches.Add(1)
		}
	}

	batch := make([]Task, 32)
	for i := range batch {
		batch[i] = Task{Name: "pinned", Function: pinned}
	}
	if err := s.AddTasks(context.Background(), batch, all); err != nil {
		t.Fatal(err)
	}
	waitForCondition(t, 10*time.Second, func() bool { return all.Load() == 0 })

	if n := mismatches.Load(); n != 0 {
		t.Fatalf("%d pinned waits resumed on another worker", n)
	}
	for _, r := range s.RecentTasks(0) {
		if r.Name == "pinned" && r.Migrated() {
			t.Fatalf("history shows pinned task migrating: %+v", r)
		}
	}
}

// TestScheduler_WaitOutsideTaskIsViolation verifies the wait precondition
func TestScheduler_WaitOutsideTaskIsViolation(t *testing.T) {
	s := newTestScheduler(t, testConfig(1))
	c := NewAtomicCounter(s, 1)

	v := expectViolation(t, func() { s.WaitForCounter(context.Background(), c, 0) })
	if v.Op != "WaitForCounter" {
		t.Errorf("Op = %q, want WaitForCounter", v.Op)
	}
}

// TestScheduler_SatisfiedWaitReturnsImmediately verifies no park happens
func TestScheduler_SatisfiedWaitReturnsImmediately(t *testing.T) {
	s := newTestScheduler(t, testConfig(1))
	done := NewAtomicCounter(s, 0)

	err := s.AddTask(context.Background(), Task{Name: "waiter", Function: func(ctx context.Context, _ any) {
		c := NewAtomicCounter(s, 3)
		defer c.Release()
		s.WaitForCounter(ctx, c, 3)
		s.WaitForCounter(ctx, c, 5)
	}}, done)
	if err != nil {
		t.Fatal(err)
	}
	waitForCondition(t, 5*time.Second, func() bool { return done.Load() == 0 })

	recent := s.RecentTasks(1)
	if len(recent) != 1 || recent[0].Parks != 0 {
		t.Fatalf("RecentTasks(1) = %+v, want one record with no parks", recent)
	}
}

// TestScheduler_PanicIsRecovered verifies task panic handling
// Given: A task that panics
// When: It runs
// Then: The panic handler is called, the counter is still decremented and
// later tasks keep running
func TestScheduler_PanicIsRecovered(t *testing.T) {
	// Arrange
	handler := &recordingPanicHandler{}
	cfg := testConfig(1)
	cfg.PanicHandler = handler
	s := newTestScheduler(t, cfg)
	c := NewAtomicCounter(s, 0)

	// Act
	err := s.AddTasks(context.Background(), []Task{
		{Name: "boom", Function: func(context.Context, any) { panic("boom") }},
		{Name: "after", Function: func(context.Context, any) {}},
	}, c)
	if err != nil {
		t.Fatal(err)
	}

	// Assert
	waitForCondition(t, 5*time.Second, func() bool { return c.Load() == 0 })
	calls := handler.snapshot()
	if len(calls) != 1 || calls[0].name != "boom" || calls[0].value != "boom" {
		t.Fatalf("panic handler calls = %+v, want one for boom", calls)
	}
	if st := s.Stats(); st.Panicked != 1 {
		t.Fatalf("Stats().Panicked = %d, want 1", st.Panicked)
	}
}

type panicCall struct {
	worker int
	name   string
	value  any
}

type recordingPanicHandler struct {
	mu    sync.Mutex
	calls []panicCall
}

func (h *recordingPanicHandler) HandlePanic(_ context.Context, workerID int, taskName string, panicInfo any, _ []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, panicCall{worker: workerID, name: taskName, value: panicInfo})
}

func (h *recordingPanicHandler) snapshot() []panicCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]panicCall(nil), h.calls...)
}

// TestScheduler_LifecycleErrors verifies Start and submission after shutdown
func TestScheduler_LifecycleErrors(t *testing.T) {
	s, err := Initialize(testConfig(1))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Start(); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyInitialized", err)
	}

	s.Shutdown()
	s.Shutdown()

	err = s.AddTask(context.Background(), Task{Function: func(context.Context, any) {}}, nil)
	if !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("AddTask() after Shutdown error = %v, want ErrSchedulerClosed", err)
	}
	if _, err := s.SubmitTasks(context.Background(), []Task{{Function: func(context.Context, any) {}}}); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("SubmitTasks() after Shutdown error = %v, want ErrSchedulerClosed", err)
	}
	if st := s.Stats(); st.Rejected != 2 || st.Running {
		t.Fatalf("Stats() = %+v, want 2 rejected and not running", st)
	}
}

// TestScheduler_NilFunctionIsViolation verifies task validation
func TestScheduler_NilFunctionIsViolation(t *testing.T) {
	s := newTestScheduler(t, testConfig(1))
	expectViolation(t, func() { _ = s.AddTask(context.Background(), Task{Name: "empty"}, nil) })
}

// TestScheduler_ShutdownDrains verifies Shutdown waits for queued work
// Given: Slow tasks queued ahead of Shutdown
// When: Shutdown returns
// Then: Every task has run
func TestScheduler_ShutdownDrains(t *testing.T) {
	s, err := Initialize(testConfig(2))
	if err != nil {
		t.Fatal(err)
	}

	var ran atomic.Int32
	batch := make([]Task, 20)
	for i := range batch {
		batch[i] = Task{Function: func(context.Context, any) {
			time.Sleep(2 * time.Millisecond)
			ran.Add(1)
		}}
	}
	if err := s.AddTasks(context.Background(), batch, nil); err != nil {
		t.Fatal(err)
	}

	s.Shutdown()

	if ran.Load() != 20 {
		t.Fatalf("%d tasks ran before Shutdown returned, want 20", ran.Load())
	}
}

// TestScheduler_ShutdownGracefulTimeout verifies forced shutdown
// Given: A task parked on a counter nobody will decrement
// When: ShutdownGraceful is called with a short timeout
// Then: It returns an error instead of hanging
func TestScheduler_ShutdownGracefulTimeout(t *testing.T) {
	s, err := Initialize(testConfig(1))
	if err != nil {
		t.Fatal(err)
	}

	never := NewAtomicCounter(s, 1)
	parked := make(chan struct{})
	err = s.AddTask(context.Background(), Task{Function: func(ctx context.Context, _ any) {
		close(parked)
		s.WaitForCounter(ctx, never, 0)
	}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	waitClosed(t, parked, 5*time.Second)
	waitForCondition(t, 5*time.Second, func() bool { return s.Stats().ParkedFibers == 1 })

	if err := s.ShutdownGraceful(50 * time.Millisecond); err == nil {
		t.Fatal("ShutdownGraceful() = nil with a parked task, want timeout error")
	}
}

// TestScheduler_ForcedShutdownUnwindsParkedTask verifies a forced stop is survivable
// Given: A task parked on a counter it releases in a deferred call
// When: ShutdownGraceful times out and destroys the parked fiber
// Then: The timeout error is returned and the deferred Release runs without a violation
func TestScheduler_ForcedShutdownUnwindsParkedTask(t *testing.T) {
	// Arrange
	s, err := Initialize(testConfig(1))
	if err != nil {
		t.Fatal(err)
	}
	gate := NewAtomicCounter(s, 1)
	parked := make(chan struct{})
	err = s.AddTask(context.Background(), Task{Function: func(ctx context.Context, _ any) {
		defer gate.Release()
		close(parked)
		s.WaitForCounter(ctx, gate, 0)
	}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	waitClosed(t, parked, 5*time.Second)
	waitForCondition(t, 5*time.Second, func() bool { return gate.Waiters() == 1 })

	// Act
	err = s.ShutdownGraceful(50 * time.Millisecond)

	// Assert
	if err == nil {
		t.Fatal("ShutdownGraceful() = nil with a parked task, want timeout error")
	}
	if n := gate.Waiters(); n != 0 {
		t.Fatalf("Waiters() = %d after forced shutdown, want 0", n)
	}
	waitForCondition(t, 5*time.Second, func() bool { return gate.Refs() == 0 })
}

// TestScheduler_ForeignCounterWaitIsViolation verifies counters stay with their scheduler
// Given: Two schedulers and a counter owned by the second
// When: A task of the first waits on that counter
// Then: The wait panics with a contract violation before parking
func TestScheduler_ForeignCounterWaitIsViolation(t *testing.T) {
	// Arrange
	a := newTestScheduler(t, testConfig(1))
	b := newTestScheduler(t, testConfig(1))
	foreign := NewAtomicCounter(b, 1)
	orphan := NewAtomicCounter(nil, 1)

	for _, c := range []*AtomicCounter{foreign, orphan} {
		got := make(chan any, 1)

		// Act
		err := a.AddTask(context.Background(), Task{Function: func(ctx context.Context, _ any) {
			defer func() { got <- recover() }()
			a.WaitForCounter(ctx, c, 0)
		}}, nil)
		if err != nil {
			t.Fatal(err)
		}

		// Assert
		var r any
		select {
		case r = <-got:
		case <-time.After(5 * time.Second):
			t.Fatal("task did not finish")
		}
		v, ok := r.(*ContractViolation)
		if !ok {
			t.Fatalf("recovered %v (%T), want *ContractViolation", r, r)
		}
		if v.Op != "WaitForCounter" {
			t.Errorf("Op = %q, want WaitForCounter", v.Op)
		}
		if c.Waiters() != 0 {
			t.Errorf("Waiters() = %d, want 0", c.Waiters())
		}
	}
	if st := a.Stats(); st.ParkedFibers != 0 {
		t.Fatalf("ParkedFibers = %d, want 0", st.ParkedFibers)
	}
}

// TestScheduler_ForeignCounterSubmitIsViolation verifies AddTasks rejects foreign counters
// Given: Two schedulers and a counter owned by the second
// When: Tasks are submitted to the first with that counter
// Then: AddTasks panics with a contract violation and nothing is queued
func TestScheduler_ForeignCounterSubmitIsViolation(t *testing.T) {
	// Arrange
	a := newTestScheduler(t, testConfig(1))
	b := newTestScheduler(t, testConfig(1))
	foreign := NewAtomicCounter(b, 0)
	task := Task{Function: func(context.Context, any) {}}

	// Act
	v := expectViolation(t, func() { _ = a.AddTask(context.Background(), task, foreign) })

	// Assert
	if v.Op != "AddTasks" {
		t.Errorf("Op = %q, want AddTasks", v.Op)
	}
	if foreign.Load() != 0 || foreign.Refs() != 1 {
		t.Fatalf("counter = %d refs %d, want 0 refs 1", foreign.Load(), foreign.Refs())
	}
	if st := a.Stats(); st.Outstanding != 0 {
		t.Fatalf("Outstanding = %d, want 0", st.Outstanding)
	}
	expectViolation(t, func() { _ = a.AddTask(context.Background(), task, NewAtomicCounter(nil, 0)) })
}

// TestScheduler_PoolExhaustionMakesProgress verifies backpressure
// Given: Three fibers for two workers and parents that each wait on a child
// When: Both parents park and the workers race for the last fiber
// Then: The loser backs off and nothing deadlocks
func TestScheduler_PoolExhaustionMakesProgress(t *testing.T) {
	cfg := testConfig(2)
	cfg.FiberPoolSize = 3
	s := newTestScheduler(t, cfg)

	all := NewAtomicCounter(s, 0)
	parent := func(ctx context.Context, _ any) {
		c := NewAtomicCounter(s, 0)
		defer c.Release()
		_ = s.AddTask(ctx, Task{Function: func(context.Context, any) {}}, c)
		s.WaitForCounter(ctx, c, 0)
	}
	// Two parents at a time hold two fibers, leaving one for the children.
	for range 50 {
		batch := []Task{{Function: parent}, {Function: parent}}
		if err := s.AddTasks(context.Background(), batch, all); err != nil {
			t.Fatal(err)
		}
		waitForCondition(t, 5*time.Second, func() bool { return all.Load() == 0 })
	}
	if st := s.Stats(); st.Executed != 200 {
		t.Fatalf("Executed = %d, want 200", st.Executed)
	}
}

// TestScheduler_StatsSnapshot verifies the idle snapshot
func TestScheduler_StatsSnapshot(t *testing.T) {
	cfg := testConfig(2)
	cfg.FiberPoolSize = 8
	s := newTestScheduler(t, cfg)

	c, err := s.SubmitTasks(context.Background(), []Task{
		{Function: func(context.Context, any) {}},
		{Function: func(context.Context, any) {}},
	})
	if err != nil {
		t.Fatal(err)
	}
	waitForCondition(t, 5*time.Second, func() bool { return c.Load() == 0 && s.Stats().IdleFibers == 8 })
	c.Release()

	got := s.Stats()
	want := SchedulerStats{
		Threads:    2,
		Fibers:     8,
		IdleFibers: 8,
		Executed:   2,
		Running:    true,
	}
	opts := cmp.Options{
		cmpopts.IgnoreFields(SchedulerStats{}, "Workers", "Stolen", "Outstanding"),
	}
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
	if len(got.Workers) != 2 || got.Workers[0].Executed+got.Workers[1].Executed != 2 {
		t.Errorf("worker stats = %+v, want 2 executed in total", got.Workers)
	}
}

// TestScheduler_Introspection verifies thread, fiber and worker accessors
func TestScheduler_Introspection(t *testing.T) {
	cfg := testConfig(2)
	cfg.FiberPoolSize = 5
	s := newTestScheduler(t, cfg)

	if s.ThreadCount() != 2 || s.FiberCount() != 5 {
		t.Fatalf("ThreadCount, FiberCount = %d, %d; want 2, 5", s.ThreadCount(), s.FiberCount())
	}
	if got := s.CurrentWorkerIndex(context.Background()); got != -1 {
		t.Fatalf("CurrentWorkerIndex outside a task = %d, want -1", got)
	}

	index := make(chan int, 1)
	_ = s.AddTask(context.Background(), Task{Function: func(ctx context.Context, _ any) {
		if FromContext(ctx) != s {
			t.Error("FromContext() returned a different scheduler")
		}
		index <- s.CurrentWorkerIndex(ctx)
	}}, nil)
	if got := <-index; got < 0 || got >= 2 {
		t.Fatalf("CurrentWorkerIndex inside a task = %d, want 0 or 1", got)
	}
}

// TestScheduler_EmptyQueueBehaviorSwitch verifies run-time switching
// Given: A running scheduler
// When: The idle behaviour is switched through every mode
// Then: Tasks keep completing in each mode
func TestScheduler_EmptyQueueBehaviorSwitch(t *testing.T) {
	s := newTestScheduler(t, testConfig(2))

	for _, b := range []EmptyQueueBehavior{EmptyQueueSpin, EmptyQueueYield, EmptyQueueSleep} {
		s.SetEmptyQueueBehavior(b)
		if s.GetEmptyQueueBehavior() != b {
			t.Fatalf("GetEmptyQueueBehavior() = %s, want %s", s.GetEmptyQueueBehavior(), b)
		}
		c, err := s.SubmitTasks(context.Background(), []Task{{Function: func(context.Context, any) {}}})
		if err != nil {
			t.Fatal(err)
		}
		waitForCondition(t, 5*time.Second, func() bool { return c.Load() == 0 })
		c.Release()
	}
}

// TestScheduler_TaskHistoryDisabled verifies a negative capacity
func TestScheduler_TaskHistoryDisabled(t *testing.T) {
	cfg := testConfig(1)
	cfg.TaskHistoryCapacity = -1
	s := newTestScheduler(t, cfg)

	c, _ := s.SubmitTasks(context.Background(), []Task{{Function: func(context.Context, any) {}}})
	waitForCondition(t, 5*time.Second, func() bool { return c.Load() == 0 })
	c.Release()

	if got := s.RecentTasks(10); len(got) != 0 {
		t.Fatalf("RecentTasks() = %+v with history disabled", got)
	}
}
