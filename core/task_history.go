package core

import (
	"reflect"
	"runtime"
	"sync"
)

type executionHistory struct {
	mu    sync.Mutex
	items []TaskExecutionRecord
	head  int
	count int
}

// newExecutionHistory returns nil when capacity is negative (history disabled).
func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 0 {
		return nil
	}
	if capacity == 0 {
		capacity = defaultTaskHistoryCapacity
	}
	return &executionHistory{items: make([]TaskExecutionRecord, capacity)}
}

func (h *executionHistory) Add(record TaskExecutionRecord) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first.
func (h *executionHistory) Recent(limit int) []TaskExecutionRecord {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TaskExecutionRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func resolveTaskName(fn TaskFunction, explicit string) string {
	if explicit != "" {
		return explicit
	}

	if fn == nil {
		return "anonymous"
	}

	pc := reflect.ValueOf(fn).Pointer()
	if pc == 0 {
		return "anonymous"
	}

	f := runtime.FuncForPC(pc)
	if f == nil || f.Name() == "" {
		return "anonymous"
	}
	return f.Name()
}
