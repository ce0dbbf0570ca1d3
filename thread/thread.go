package thread

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// NoAffinity requests a thread that is not pinned to any core.
const NoAffinity = -1

// DefaultStackSize is the nominal worker and fiber stack size. Goroutine stacks
// grow on demand, so the value is recorded on the handle but not reserved.
const DefaultStackSize = 512 * 1024

var ErrUnsupported = errors.New("thread: affinity not supported on this platform")

// EntryFunc is the body of a created thread.
type EntryFunc func(arg any)

// Handle identifies a created thread.
type Handle struct {
	core      int
	stackSize int
	done      chan struct{}
}

// Core returns the logical core the thread is pinned to, or NoAffinity.
func (h *Handle) Core() int { return h.core }

// StackSize returns the stack size requested at creation.
func (h *Handle) StackSize() int { return h.stackSize }

// Done is closed when the thread's entry function has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Create starts a new thread running entry(arg). If core is not NoAffinity the
// thread is pinned to that core before entry runs; a pinning failure is
// returned and entry never runs.
func Create(stackSize int, entry EntryFunc, arg any, core int) (*Handle, error) {
	if entry == nil {
		return nil, errors.New("thread: nil entry function")
	}
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}
	if core < NoAffinity {
		return nil, fmt.Errorf("thread: invalid core index %d", core)
	}

	h := &Handle{core: core, stackSize: stackSize, done: make(chan struct{})}
	started := make(chan error, 1)

	go func() {
		defer close(h.done)
		runtime.LockOSThread()
		// No UnlockOSThread: the OS thread dies with the goroutine.

		if core != NoAffinity {
			if err := SetCurrentThreadAffinity(core); err != nil {
				started <- err
				return
			}
		}
		started <- nil
		entry(arg)
	}()

	if err := <-started; err != nil {
		<-h.done
		return nil, fmt.Errorf("thread: pin to core %d: %w", core, err)
	}
	return h, nil
}

// Join blocks until the thread's entry function returns.
func Join(h *Handle) {
	if h == nil {
		return
	}
	<-h.done
}

// NumHardwareThreads returns the number of logical cores usable by the process.
func NumHardwareThreads() int {
	return runtime.NumCPU()
}

// Sleep suspends the calling thread for the given number of milliseconds.
func Sleep(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// OS is the default thread factory backed by this package.
type OS struct{}

func (OS) CreateThread(stackSize int, entry EntryFunc, arg any, core int) (*Handle, error) {
	return Create(stackSize, entry, arg, core)
}

func (OS) JoinThread(h *Handle) { Join(h) }

func (OS) NumHardwareThreads() int { return NumHardwareThreads() }
