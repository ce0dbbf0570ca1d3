package core

import (
	"context"
	"runtime"
	"sync/atomic"
)

// FiberState is the state tag of a pool fiber. A fiber is in exactly one
// state at a time and moves between them only through FiberPool.
type FiberState int32

const (
	FiberIdle FiberState = iota
	FiberBound
	FiberParked
)

func (s FiberState) String() string {
	switch s {
	case FiberIdle:
		return "idle"
	case FiberBound:
		return "bound"
	case FiberParked:
		return "parked"
	default:
		return "unknown"
	}
}

// switchOutcome tells the scheduling loop what happened to the fiber that
// just switched back into it.
type switchOutcome uint8

const (
	outcomeNone switchOutcome = iota
	outcomeCompleted
	outcomeParked
)

// fiberMessage is passed by value on every switch.
type fiberMessage struct {
	// host is the worker the receiving fiber now runs on.
	host *worker
	// bundle is the task bound to a pool fiber on first switch-in.
	bundle *taskBundle
	// from and outcome describe the fiber switching back to a loop fiber.
	from    *Fiber
	outcome switchOutcome
}

// FiberEntry is the body of a fiber. It receives the message of the first
// switch into the fiber.
type FiberEntry func(f *Fiber, first fiberMessage)

// Fiber is a stackful execution context. It is backed by a goroutine that
// only runs while some other fiber has switched into it; at every other
// moment the goroutine is parked on its resume channel.
type Fiber struct {
	id        int
	stackSize int
	resume    chan fiberMessage
	state     atomic.Int32

	// ctx is handed to every task run on this fiber.
	ctx context.Context

	// Owned by the fiber's goroutine.
	host  *worker
	parks int
	// waitingOn is the counter the fiber is registered on while parked.
	waitingOn *AtomicCounter
}

// NewFiber creates a fiber that will start executing entry on its first
// switch-in. stackSize is recorded only; goroutine stacks grow on demand.
func NewFiber(id, stackSize int, entry FiberEntry) *Fiber {
	f := &Fiber{
		id:        id,
		stackSize: stackSize,
		resume:    make(chan fiberMessage),
		ctx:       context.Background(),
	}
	go func() {
		first, ok := <-f.resume
		if !ok {
			return
		}
		entry(f, first)
	}()
	return f
}

// newThreadFiber wraps the calling goroutine as a fiber so it can switch
// into other fibers and be switched back into.
func newThreadFiber(id int) *Fiber {
	return &Fiber{id: id, resume: make(chan fiberMessage), ctx: context.Background()}
}

// ID returns the fiber's index.
func (f *Fiber) ID() int { return f.id }

// StackSize returns the stack size the fiber was created with.
func (f *Fiber) StackSize() int { return f.stackSize }

// State returns the fiber's current state tag.
func (f *Fiber) State() FiberState { return FiberState(f.state.Load()) }

// SwitchTo hands the thread of control from current to target and parks the
// caller until some fiber switches back into current. It returns the message
// carried by that later switch. The send completes only once target is parked
// at its own switch point, so target can never be entered twice.
//
// If current is destroyed while parked the calling goroutine exits.
func SwitchTo(current, target *Fiber, msg fiberMessage) fiberMessage {
	target.resume <- msg
	back, ok := <-current.resume
	if !ok {
		runtime.Goexit()
	}
	return back
}

// destroy terminates a parked fiber. It must not be called on a running fiber.
func (f *Fiber) destroy() {
	close(f.resume)
}
