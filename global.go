package fibertasking

import (
	"context"
	"sync"

	"github.com/Swind/go-fiber-tasking/core"
)

// =============================================================================
// Global Scheduler Helper (Singleton)
// =============================================================================

var (
	globalScheduler *core.TaskScheduler
	globalMu        sync.Mutex
)

// InitGlobalScheduler initializes and starts the global scheduler. Calling it
// again while a global scheduler exists returns core.ErrAlreadyInitialized.
func InitGlobalScheduler(cfg *Config) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler != nil {
		return core.ErrAlreadyInitialized
	}

	s, err := core.Initialize(cfg)
	if err != nil {
		return err
	}
	globalScheduler = s
	return nil
}

// GlobalScheduler returns the global scheduler.
// It panics if InitGlobalScheduler has not been called.
func GlobalScheduler() *TaskScheduler {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler == nil {
		panic("GlobalScheduler not initialized. Call InitGlobalScheduler() first.")
	}
	return globalScheduler
}

// ShutdownGlobalScheduler drains and stops the global scheduler.
func ShutdownGlobalScheduler() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler != nil {
		globalScheduler.Shutdown()
		globalScheduler = nil
	}
}

// SubmitTasks submits tasks to the scheduler owning ctx, or to the global
// scheduler when ctx does not belong to a task. Without either it returns
// core.ErrNotInitialized.
func SubmitTasks(ctx context.Context, tasks []Task) (*AtomicCounter, error) {
	s := core.FromContext(ctx)
	if s == nil {
		globalMu.Lock()
		s = globalScheduler
		globalMu.Unlock()
	}
	if s == nil {
		return nil, core.ErrNotInitialized
	}
	return s.SubmitTasks(ctx, tasks)
}

// WaitForCounter parks the calling task until counter is at or below target.
func WaitForCounter(ctx context.Context, counter *AtomicCounter, target int64) {
	schedulerFor(ctx).WaitForCounter(ctx, counter, target)
}

// ParallelFor runs fn(ctx, i) for every i in [0, n) as separate tasks and
// waits for all of them. It must be called from inside a task.
func ParallelFor(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	if n <= 0 {
		return nil
	}
	s := schedulerFor(ctx)
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = Task{Arg: i, Function: func(ctx context.Context, arg any) { fn(ctx, arg.(int)) }}
	}
	c, err := s.SubmitTasks(ctx, tasks)
	if err != nil {
		return err
	}
	defer c.Release()
	s.WaitForCounter(ctx, c, 0)
	return nil
}

func schedulerFor(ctx context.Context) *TaskScheduler {
	if s := core.FromContext(ctx); s != nil {
		return s
	}
	return GlobalScheduler()
}
