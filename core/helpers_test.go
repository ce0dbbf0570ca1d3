package core

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/Swind/go-fiber-tasking/thread"
)

// wideHardware reports at least n hardware threads so multi-worker tests run
// on small CI machines. Threads are still real, just not pinned.
type wideHardware struct {
	thread.OS
	n int
}

func (h wideHardware) NumHardwareThreads() int {
	return max(h.n, runtime.NumCPU())
}

func testConfig(threads int) *Config {
	cfg := DefaultConfig()
	cfg.ThreadCount = threads
	cfg.ThreadFactory = wideHardware{n: threads}
	cfg.Logger = NewNoOpLogger()
	return cfg
}

// newTestScheduler starts a scheduler that is shut down when the test ends.
func newTestScheduler(t *testing.T, cfg *Config) *TaskScheduler {
	t.Helper()
	s, err := Initialize(cfg)
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.ShutdownGraceful(10 * time.Second); err != nil {
			t.Errorf("ShutdownGraceful() error = %v", err)
		}
	})
	return s
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// waitClosed fails the test if ch is not closed within timeout.
func waitClosed(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v", timeout)
	}
}

// expectViolation runs fn and returns the contract violation it raised.
func expectViolation(t *testing.T, fn func()) (v *ContractViolation) {
	t.Helper()
	defer func() {
		r := recover()
		cv, ok := r.(*ContractViolation)
		if !ok {
			t.Fatalf("recovered %v (%T), want *ContractViolation", r, r)
		}
		v = cv
	}()
	fn()
	return nil
}

// recordingLogger keeps every message for assertions.
type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, level+": "+msg)
}

func (l *recordingLogger) Debug(msg string, _ ...Field) { l.record("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...Field)  { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...Field)  { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...Field) { l.record("error", msg) }

func (l *recordingLogger) contains(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m == entry {
			return true
		}
	}
	return false
}
