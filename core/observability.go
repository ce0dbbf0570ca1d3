package core

import "time"

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	TaskID       TaskID
	Name         string
	StartWorker  int
	FinishWorker int
	Parks        int
	StartedAt    time.Time
	FinishedAt   time.Time
	Duration     time.Duration
	Panicked     bool
}

// Migrated reports whether the task finished on a different worker than it started on.
func (r TaskExecutionRecord) Migrated() bool { return r.StartWorker != r.FinishWorker }

// WorkerState is the state of a worker's scheduling loop.
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerExecutingTask
	WorkerExecutingSchedulingLoop
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerExecutingTask:
		return "executing_task"
	case WorkerExecutingSchedulingLoop:
		return "scheduling_loop"
	default:
		return "unknown"
	}
}

// WorkerStats represents runtime observability state for one worker.
type WorkerStats struct {
	Index    int
	Core     int
	State    WorkerState
	Queued   int
	Ready    int
	Executed int64
	Stolen   int64
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	Threads      int
	Fibers       int
	IdleFibers   int
	ParkedFibers int
	Queued       int
	ReadyFibers  int
	Outstanding  int64
	Executed     int64
	Stolen       int64
	Panicked     int64
	Rejected     int64
	Running      bool
	Workers      []WorkerStats
}
