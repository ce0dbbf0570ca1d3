package core

import (
	"errors"
	"fmt"
)

// Configuration errors returned by NewTaskScheduler and Initialize.
var (
	ErrInvalidThreadCount   = errors.New("ftl: thread count must be positive")
	ErrTooManyThreads       = errors.New("ftl: thread count exceeds hardware threads")
	ErrInvalidFiberPoolSize = errors.New("ftl: fiber pool size must be positive")
	ErrAlreadyInitialized   = errors.New("ftl: scheduler already initialized")
	ErrNotInitialized       = errors.New("ftl: scheduler not initialized")
	ErrAffinity             = errors.New("ftl: unable to pin worker thread")
	ErrSchedulerClosed      = errors.New("ftl: scheduler is shut down")
)

// ContractViolation is the panic value raised when a caller breaks one of the
// scheduler's invariants. It is never recovered by the scheduler itself.
type ContractViolation struct {
	Op     string
	Reason string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("ftl: contract violation in %s: %s", e.Op, e.Reason)
}

// violate logs the violation and panics with a *ContractViolation.
func violate(logger Logger, op, format string, args ...any) {
	v := &ContractViolation{Op: op, Reason: fmt.Sprintf(format, args...)}
	if logger != nil {
		logger.Error("contract violation", F("op", op), F("reason", v.Reason))
	}
	panic(v)
}

// IsContractViolation reports whether a recovered panic value is a contract violation.
func IsContractViolation(r any) bool {
	_, ok := r.(*ContractViolation)
	return ok
}
