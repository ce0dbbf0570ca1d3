package core

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// TestFibtex_SerializesCriticalSection verifies mutual exclusion
// Given: Many tasks incrementing a plain int under a Fibtex
// When: They run on several workers with each lock flavour
// Then: The final value equals the number of increments
func TestFibtex_SerializesCriticalSection(t *testing.T) {
	const tasks, perTask = 64, 100

	lockers := map[string]func(m *Fibtex, ctx context.Context){
		"Lock":         func(m *Fibtex, ctx context.Context) { m.Lock(ctx) },
		"LockSpin":     func(m *Fibtex, ctx context.Context) { m.LockSpin(ctx) },
		"LockSpinIter": func(m *Fibtex, ctx context.Context) { m.LockSpinIter(ctx, 16) },
	}
	for name, lock := range lockers {
		for _, threads := range []int{1, 4} {
			t.Run(fmt.Sprintf("%s/threads=%d", name, threads), func(t *testing.T) {
				// Arrange
				s := newTestScheduler(t, testConfig(threads))
				m := NewFibtex(s)
				shared := 0

				body := func(ctx context.Context, _ any) {
					for range perTask {
						lock(m, ctx)
						shared++
						m.Unlock()
					}
				}
				batch := make([]Task, tasks)
				for i := range batch {
					batch[i] = Task{Function: body}
				}

				// Act
				c, err := s.SubmitTasks(context.Background(), batch)
				if err != nil {
					t.Fatal(err)
				}
				waitForCondition(t, 10*time.Second, func() bool { return c.Load() == 0 })
				c.Release()

				// Assert
				if shared != tasks*perTask {
					t.Fatalf("shared = %d, want %d", shared, tasks*perTask)
				}
				if m.Locked() {
					t.Fatal("Fibtex still locked after all tasks finished")
				}
			})
		}
	}
}

// TestFibtex_LockParksWhileHeld verifies Lock yields instead of spinning
// Given: A Fibtex held outside any task
// When: A task calls Lock
// Then: The task parks, and acquires the lock once it is released
func TestFibtex_LockParksWhileHeld(t *testing.T) {
	s := newTestScheduler(t, testConfig(1))
	m := NewFibtex(s)
	if !m.TryLock() {
		t.Fatal("TryLock() on a fresh Fibtex failed")
	}

	acquired := make(chan struct{})
	_ = s.AddTask(context.Background(), Task{Function: func(ctx context.Context, _ any) {
		m.Lock(ctx)
		close(acquired)
		m.Unlock()
	}}, nil)

	waitForCondition(t, 5*time.Second, func() bool { return s.Stats().ParkedFibers == 1 })
	select {
	case <-acquired:
		t.Fatal("task acquired a held Fibtex")
	default:
	}

	m.Unlock()
	waitClosed(t, acquired, 5*time.Second)
}

// TestFibtex_DoubleUnlockIsLogged verifies double unlock is not fatal
func TestFibtex_DoubleUnlockIsLogged(t *testing.T) {
	logger := &recordingLogger{}
	cfg := testConfig(1)
	cfg.Logger = logger
	s, err := NewTaskScheduler(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	m := NewFibtex(s)
	m.Unlock()

	if !logger.contains("warn: unlock of unlocked fibtex") {
		t.Fatalf("logged %v, want a double unlock warning", logger.messages)
	}
	if !m.TryLock() {
		t.Fatal("TryLock() failed after a stray Unlock")
	}
}
