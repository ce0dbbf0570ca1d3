// Package thread is the OS thread abstraction used by the fiber scheduler.
//
// A "thread" here is a goroutine locked to its own OS thread with
// runtime.LockOSThread. When a core index is given the thread is pinned to
// that logical core before its entry function runs, and the pin holds for the
// remainder of the thread's life. Locked goroutines are never unlocked: when
// the entry function returns the runtime terminates the OS thread instead of
// returning a thread with a modified affinity mask to the shared pool.
//
// Only the goroutine running the entry function is locked. Goroutines it
// hands control to, such as the scheduler's task fibers, are scheduled by the
// Go runtime on any OS thread and do not inherit the pin.
package thread
