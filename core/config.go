package core

import (
	"fmt"
	"time"

	"github.com/Swind/go-fiber-tasking/thread"
	"github.com/xyproto/env/v2"
)

const (
	// DefaultFibersPerThread sizes the fiber pool when FiberPoolSize is zero.
	DefaultFibersPerThread = 32

	defaultTaskHistoryCapacity = 100
)

// Config holds configuration options for TaskScheduler.
// Zero values select defaults; all handlers are optional.
type Config struct {
	// ThreadCount is the number of worker threads. 0 means one per hardware thread.
	ThreadCount int

	// FiberPoolSize is the number of pooled task fibers. 0 means
	// ThreadCount * FibersPerThread.
	FiberPoolSize int

	// FibersPerThread is used when FiberPoolSize is 0. Defaults to DefaultFibersPerThread.
	FibersPerThread int

	// FiberStackSize is recorded on every fiber. Goroutine stacks grow on demand.
	FiberStackSize int

	// ThreadStackSize is passed to the ThreadFactory.
	ThreadStackSize int

	// PinThreads pins worker i's scheduling-loop thread to logical core i.
	// Task bodies run on fiber goroutines, which the Go runtime places on any
	// OS thread, so tasks must not rely on thread affinity or thread-local
	// state, before or after a wait.
	PinThreads bool

	// EmptyQueueBehavior selects what idle workers do. Defaults to EmptyQueueSleep.
	EmptyQueueBehavior EmptyQueueBehavior

	// IdleBackoff paces idle workers in EmptyQueueSleep mode and workers
	// waiting for a free fiber.
	IdleBackoff Backoff

	// StealPolicy builds the victim selection policy. Defaults to round robin.
	StealPolicy StealPolicyFactory

	// TaskHistoryCapacity bounds RecentTasks. Negative disables history.
	TaskHistoryCapacity int

	// ThreadFactory creates the worker threads. Defaults to thread.OS.
	ThreadFactory ThreadFactory

	// Logger receives lifecycle and diagnostic logs. Defaults to a zerolog console logger.
	Logger Logger

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record scheduler metrics. Defaults to NilMetrics.
	Metrics Metrics
}

// DefaultConfig returns a config with default handlers.
func DefaultConfig() *Config {
	return &Config{
		FibersPerThread:     DefaultFibersPerThread,
		FiberStackSize:      thread.DefaultStackSize,
		ThreadStackSize:     thread.DefaultStackSize,
		EmptyQueueBehavior:  EmptyQueueSleep,
		IdleBackoff:         DefaultBackoff(),
		StealPolicy:         NewRoundRobinStealPolicy,
		TaskHistoryCapacity: defaultTaskHistoryCapacity,
		ThreadFactory:       thread.OS{},
	}
}

// ConfigFromEnv returns DefaultConfig overlaid with FTL_* environment variables:
//
//	FTL_THREADS        worker thread count
//	FTL_FIBERS         fiber pool size
//	FTL_EMPTY_QUEUE    spin | yield | sleep
//	FTL_STEAL_POLICY   round-robin | random | richest-first
//	FTL_PIN_THREADS    pin workers to cores (true/false)
//	FTL_TASK_HISTORY   task history capacity
func ConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	cfg.ThreadCount = env.Int("FTL_THREADS", cfg.ThreadCount)
	cfg.FiberPoolSize = env.Int("FTL_FIBERS", cfg.FiberPoolSize)
	cfg.PinThreads = env.Bool("FTL_PIN_THREADS")
	cfg.TaskHistoryCapacity = env.Int("FTL_TASK_HISTORY", cfg.TaskHistoryCapacity)

	behavior, err := ParseEmptyQueueBehavior(env.Str("FTL_EMPTY_QUEUE", cfg.EmptyQueueBehavior.String()))
	if err != nil {
		return nil, err
	}
	cfg.EmptyQueueBehavior = behavior

	policy, err := StealPolicyByName(env.Str("FTL_STEAL_POLICY", "round-robin"))
	if err != nil {
		return nil, err
	}
	cfg.StealPolicy = policy

	return cfg, nil
}

// resolve validates cfg and returns a copy with every default filled in.
func (c *Config) resolve() (*Config, error) {
	out := DefaultConfig()
	if c != nil {
		cp := *c
		out = &cp
	}

	if out.ThreadFactory == nil {
		out.ThreadFactory = thread.OS{}
	}
	hw := out.ThreadFactory.NumHardwareThreads()

	switch {
	case out.ThreadCount < 0:
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreadCount, out.ThreadCount)
	case out.ThreadCount == 0:
		out.ThreadCount = hw
	case out.ThreadCount > hw:
		return nil, fmt.Errorf("%w: requested %d, have %d", ErrTooManyThreads, out.ThreadCount, hw)
	}

	if out.FibersPerThread <= 0 {
		out.FibersPerThread = DefaultFibersPerThread
	}
	switch {
	case out.FiberPoolSize < 0:
		return nil, fmt.Errorf("%w: %d", ErrInvalidFiberPoolSize, out.FiberPoolSize)
	case out.FiberPoolSize == 0:
		out.FiberPoolSize = out.ThreadCount * out.FibersPerThread
	}

	if out.FiberStackSize <= 0 {
		out.FiberStackSize = thread.DefaultStackSize
	}
	if out.ThreadStackSize <= 0 {
		out.ThreadStackSize = thread.DefaultStackSize
	}
	if out.IdleBackoff == (Backoff{}) {
		out.IdleBackoff = DefaultBackoff()
	}
	if out.StealPolicy == nil {
		out.StealPolicy = NewRoundRobinStealPolicy
	}
	if out.TaskHistoryCapacity == 0 {
		out.TaskHistoryCapacity = defaultTaskHistoryCapacity
	}
	if out.Logger == nil {
		out.Logger = NewDefaultLogger()
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{Logger: out.Logger}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	return out, nil
}

// idleSleepCap bounds a single idle sleep so a missed signal costs little.
const idleSleepCap = 10 * time.Millisecond
