package main

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/Swind/go-fiber-tasking/core"
)

// Workload is a self-checking benchmark body. Run executes inside the main
// task and returns the value it computed and the value it should have.
type Workload struct {
	Name        string
	Description string
	DefaultSize int
	Run         func(ctx context.Context, s *core.TaskScheduler, size int) (got, want int64)
}

var workloads = map[string]Workload{
	"triangle": {
		Name:        "triangle",
		Description: "sum 1..size in batches of 100 on separate tasks",
		DefaultSize: 1_000_000,
		Run:         triangleNumbers,
	},
	"producer-consumer": {
		Name:        "producer-consumer",
		Description: "size producers each spawn 1000 consumers and wait on them",
		DefaultSize: 100,
		Run:         producerConsumer,
	},
	"nested": {
		Name:        "nested",
		Description: "fan-out tree of depth size with 8 children per node, waiting at every level",
		DefaultSize: 5,
		Run:         nestedWaits,
	},
	"fibtex": {
		Name:        "fibtex",
		Description: "size tasks each take a Fibtex 100 times to increment a shared int",
		DefaultSize: 1000,
		Run:         fibtexContention,
	},
}

// workloadNames returns the workload names in sorted order.
func workloadNames() []string {
	names := make([]string, 0, len(workloads))
	for name := range workloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupWorkload(name string) (Workload, error) {
	w, ok := workloads[name]
	if !ok {
		return Workload{}, fmt.Errorf("unknown workload %q (have %v)", name, workloadNames())
	}
	return w, nil
}

const triangleBatch = 100

type triangleRange struct {
	from, to int64
	total    *atomic.Int64
}

func triangleNumbers(ctx context.Context, s *core.TaskScheduler, size int) (int64, int64) {
	var total atomic.Int64
	n := int64(size)

	var tasks []core.Task
	for from := int64(1); from <= n; from += triangleBatch {
		tasks = append(tasks, core.Task{
			Name: "triangle-batch",
			Arg:  &triangleRange{from: from, to: min(from+triangleBatch-1, n), total: &total},
			Function: func(_ context.Context, arg any) {
				r := arg.(*triangleRange)
				var sum int64
				for i := r.from; i <= r.to; i++ {
					sum += i
				}
				r.total.Add(sum)
			},
		})
	}
	waitAll(ctx, s, tasks)
	return total.Load(), n * (n + 1) / 2
}

const consumersPerProducer = 1000

func producerConsumer(ctx context.Context, s *core.TaskScheduler, size int) (int64, int64) {
	var consumed atomic.Int64
	consumer := core.Task{Name: "consumer", Function: func(context.Context, any) { consumed.Add(1) }}

	producers := make([]core.Task, size)
	for i := range producers {
		producers[i] = core.Task{Name: "producer", Function: func(ctx context.Context, _ any) {
			batch := make([]core.Task, consumersPerProducer)
			for j := range batch {
				batch[j] = consumer
			}
			waitAll(ctx, s, batch)
		}}
	}
	waitAll(ctx, s, producers)
	return consumed.Load(), int64(size) * consumersPerProducer
}

const nestedFanOut = 8

func nestedWaits(ctx context.Context, s *core.TaskScheduler, size int) (int64, int64) {
	var leaves atomic.Int64

	var node core.TaskFunction
	node = func(ctx context.Context, arg any) {
		depth := arg.(int)
		if depth == 0 {
			leaves.Add(1)
			return
		}
		children := make([]core.Task, nestedFanOut)
		for i := range children {
			children[i] = core.Task{Name: "node", Function: node, Arg: depth - 1}
		}
		waitAll(ctx, s, children)
	}
	node(ctx, size)

	want := int64(1)
	for range size {
		want *= nestedFanOut
	}
	return leaves.Load(), want
}

const fibtexRounds = 100

func fibtexContention(ctx context.Context, s *core.TaskScheduler, size int) (int64, int64) {
	m := core.NewFibtex(s)
	var shared int64

	tasks := make([]core.Task, size)
	for i := range tasks {
		tasks[i] = core.Task{Name: "fibtex-incr", Function: func(ctx context.Context, _ any) {
			for range fibtexRounds {
				m.Lock(ctx)
				shared++
				m.Unlock()
			}
		}}
	}
	waitAll(ctx, s, tasks)
	return shared, int64(size) * fibtexRounds
}

// waitAll submits tasks and parks the calling task until they finish.
func waitAll(ctx context.Context, s *core.TaskScheduler, tasks []core.Task) {
	c, err := s.SubmitTasks(ctx, tasks)
	if err != nil {
		s.Logger().Error("submit failed", core.F("error", err))
		return
	}
	s.WaitForCounter(ctx, c, 0)
	c.Release()
}
