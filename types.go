package fibertasking

import "github.com/Swind/go-fiber-tasking/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the fibertasking package for most use cases.

// Task is the unit of work: a function and its argument.
type Task = core.Task

// TaskFunction is the body of a task.
type TaskFunction = core.TaskFunction

// TaskScheduler runs tasks on fibers across worker threads.
type TaskScheduler = core.TaskScheduler

// AtomicCounter tracks outstanding work and is what tasks wait on.
type AtomicCounter = core.AtomicCounter

// Fibtex is a mutex that parks the waiting fiber.
type Fibtex = core.Fibtex

// Config holds scheduler configuration.
type Config = core.Config

// EmptyQueueBehavior selects what idle workers do.
type EmptyQueueBehavior = core.EmptyQueueBehavior

// SchedulerStats is a point-in-time scheduler snapshot.
type SchedulerStats = core.SchedulerStats

// TaskExecutionRecord is one entry of the task history.
type TaskExecutionRecord = core.TaskExecutionRecord

// Empty queue behaviours
const (
	EmptyQueueSpin  = core.EmptyQueueSpin
	EmptyQueueYield = core.EmptyQueueYield
	EmptyQueueSleep = core.EmptyQueueSleep
)

// Constructors and helpers
var (
	DefaultConfig    = core.DefaultConfig
	ConfigFromEnv    = core.ConfigFromEnv
	NewTaskScheduler = core.NewTaskScheduler
	Initialize       = core.Initialize
	Run              = core.Run
	NewAtomicCounter = core.NewAtomicCounter
	NewFibtex        = core.NewFibtex
	FromContext      = core.FromContext
)
