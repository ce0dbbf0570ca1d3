// Package fibertasking is a fiber-based task scheduler for Go.
//
// A fixed set of worker threads, one per core by default, runs tasks on a
// pool of fibers. A task that needs results from other tasks waits on an
// AtomicCounter; instead of blocking its thread, the task's fiber parks and
// the worker picks up other work. When the counter reaches the target the
// fiber is resumed, possibly on a different worker, right after the wait.
//
// Each worker keeps its own work-stealing deque. Tasks submitted from inside
// a task go to the submitting worker's deque; idle workers steal from peers.
//
// # Quick Start
//
//	err := fibertasking.Run(nil, func(ctx context.Context, _ any) {
//		s := fibertasking.FromContext(ctx)
//
//		tasks := make([]fibertasking.Task, 100)
//		for i := range tasks {
//			tasks[i] = fibertasking.Task{Function: work, Arg: i}
//		}
//		counter, err := s.SubmitTasks(ctx, tasks)
//		if err != nil {
//			return
//		}
//		defer counter.Release()
//
//		// Parks this fiber until all 100 tasks are done.
//		s.WaitForCounter(ctx, counter, 0)
//	}, nil)
//
// # Key Concepts
//
// Task: a function plus an argument. The context passed to the function
// identifies the scheduler and the fiber, and must be handed to
// WaitForCounter.
//
// AtomicCounter: the only synchronisation primitive tasks wait on. Submitting
// tasks with a counter increments it; each finished task decrements it.
// Counters are reference counted; release yours once done waiting.
//
// Fibtex: a mutex whose Lock parks the fiber instead of blocking the thread.
//
// # Misuse
//
// Waiting outside a task, counter underflow and reference count mistakes are
// programming errors and panic with *core.ContractViolation. Task panics are
// recovered and reported through the configured PanicHandler.
package fibertasking
