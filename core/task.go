package core

import (
	"context"
	"strconv"
	"sync/atomic"
)

// TaskFunction is the body of a task. ctx identifies the scheduler and the
// fiber running the task and must be passed to WaitForCounter.
type TaskFunction func(ctx context.Context, arg any)

// Task is the unit of work: a function plus an opaque argument.
// The argument must stay valid until the task's counter reaches its target.
type Task struct {
	Function TaskFunction
	Arg      any

	// Name is optional and only used for task history and logs.
	Name string
}

// TaskID identifies a submitted task in history records.
type TaskID uint64

var lastTaskID atomic.Uint64

// GenerateTaskID returns a process-unique, non-zero task ID.
func GenerateTaskID() TaskID {
	return TaskID(lastTaskID.Add(1))
}

func (id TaskID) IsZero() bool { return id == 0 }

func (id TaskID) String() string {
	return "task-" + strconv.FormatUint(uint64(id), 10)
}

// taskBundle is the queue entry: a task plus the counter to decrement when it
// finishes. The queue holds bundles by pointer and never copies them.
type taskBundle struct {
	id      TaskID
	task    Task
	counter *AtomicCounter
}

// =============================================================================
// Context Helper
// =============================================================================

type fiberKeyType struct{}

var fiberKey fiberKeyType

// executionContext is stored in the task's context. The fiber pointer is what
// WaitForCounter switches away from.
type executionContext struct {
	scheduler *TaskScheduler
	fiber     *Fiber
}

func withExecution(parent context.Context, s *TaskScheduler, f *Fiber) context.Context {
	return context.WithValue(parent, fiberKey, &executionContext{scheduler: s, fiber: f})
}

func executionFrom(ctx context.Context) *executionContext {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(fiberKey).(*executionContext); ok {
		return v
	}
	return nil
}

// FromContext returns the scheduler running the current task, or nil when ctx
// does not belong to a task.
func FromContext(ctx context.Context) *TaskScheduler {
	if ec := executionFrom(ctx); ec != nil {
		return ec.scheduler
	}
	return nil
}
