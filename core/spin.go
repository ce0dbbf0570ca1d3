package core

import (
	"runtime"
	"sync/atomic"
)

// spinYieldAfter is the number of failed CAS attempts before a spinning
// caller starts yielding its processor.
const spinYieldAfter = 64

// spinFlag is a CAS-retry critical section for short, non-blocking regions.
type spinFlag struct {
	held atomic.Bool
}

func (s *spinFlag) lock() {
	for i := 0; !s.held.CompareAndSwap(false, true); i++ {
		if i >= spinYieldAfter {
			runtime.Gosched()
		}
	}
}

func (s *spinFlag) unlock() {
	s.held.Store(false)
}
