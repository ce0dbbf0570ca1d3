package core

import (
	"context"
	"time"

	"github.com/Swind/go-fiber-tasking/thread"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
// The task's counter is still decremented after the handler returns.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context the task was running with
	// - workerID: The worker the task was running on when it panicked
	// - taskName: The task name (explicit or derived from the function)
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, workerID int, taskName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics through a Logger.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information at error level.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, workerID int, taskName string, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("worker", workerID),
		F("task", taskName),
		F("panic", panicInfo),
		F("stack", string(stackTrace)))
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called from worker threads and fibers on the hot path; they
// must be non-blocking and fast.
type Metrics interface {
	// RecordTaskDuration records how long a task took from first switch-in to
	// completion, including time spent parked.
	RecordTaskDuration(workerID int, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(workerID int, panicInfo any)

	// RecordSteal records a successful steal.
	RecordSteal(thief, victim int)

	// RecordFiberParked records a fiber parking on a counter.
	RecordFiberParked(workerID int)

	// RecordFiberResumed records a parked fiber resuming. migrated is true
	// when it resumed on a different worker than it parked on.
	RecordFiberResumed(workerID int, migrated bool)

	// RecordPoolExhausted records a worker finding no idle fiber.
	RecordPoolExhausted(workerID int)

	// RecordTaskRejected records that a submission was rejected.
	RecordTaskRejected(reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(workerID int, duration time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(workerID int, panicInfo any)             {}
func (m *NilMetrics) RecordSteal(thief, victim int)                           {}
func (m *NilMetrics) RecordFiberParked(workerID int)                          {}
func (m *NilMetrics) RecordFiberResumed(workerID int, migrated bool)          {}
func (m *NilMetrics) RecordPoolExhausted(workerID int)                        {}
func (m *NilMetrics) RecordTaskRejected(reason string)                        {}

// =============================================================================
// ThreadFactory: the OS thread collaborator
// =============================================================================

// ThreadFactory creates and joins the worker threads. thread.OS is the
// default implementation.
type ThreadFactory interface {
	// CreateThread starts entry(arg) on a new thread pinned to core, or
	// unpinned when core is thread.NoAffinity.
	CreateThread(stackSize int, entry thread.EntryFunc, arg any, core int) (*thread.Handle, error)

	// JoinThread blocks until the thread's entry function returns.
	JoinThread(h *thread.Handle)

	// NumHardwareThreads returns the number of logical cores.
	NumHardwareThreads() int
}
