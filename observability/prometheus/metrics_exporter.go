package prometheus

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Swind/go-fiber-tasking/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	stealTotal          *prom.CounterVec
	fiberParkedTotal    *prom.CounterVec
	fiberResumedTotal   *prom.CounterVec
	poolExhaustedTotal  *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// defaultDurationBuckets suit tasks in the microsecond to second range.
var defaultDurationBuckets = prom.ExponentialBuckets(1e-6, 4, 11)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "ftl"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = defaultDurationBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds, including time spent parked.",
		Buckets:   buckets,
	}, []string{"worker"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"worker"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected submissions.",
	}, []string{"reason"})
	stealVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "steal_total",
		Help:      "Total number of tasks stolen from another worker's queue.",
	}, []string{"thief", "victim"})
	parkedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "fiber_parked_total",
		Help:      "Total number of fibers parked on a counter.",
	}, []string{"worker"})
	resumedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "fiber_resumed_total",
		Help:      "Total number of parked fibers resumed, by whether they changed worker.",
	}, []string{"worker", "migrated"})
	exhaustedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "fiber_pool_exhausted_total",
		Help:      "Total number of times a worker found no idle fiber for a task.",
	}, []string{"worker"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if stealVec, err = registerCollector(reg, stealVec); err != nil {
		return nil, err
	}
	if parkedVec, err = registerCollector(reg, parkedVec); err != nil {
		return nil, err
	}
	if resumedVec, err = registerCollector(reg, resumedVec); err != nil {
		return nil, err
	}
	if exhaustedVec, err = registerCollector(reg, exhaustedVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskPanicTotal:      panicVec,
		taskRejectedTotal:   rejectedVec,
		stealTotal:          stealVec,
		fiberParkedTotal:    parkedVec,
		fiberResumedTotal:   resumedVec,
		poolExhaustedTotal:  exhaustedVec,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(workerID int, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(workerLabel(workerID)).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(workerID int, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(workerLabel(workerID)).Inc()
}

// RecordSteal records a successful steal.
func (m *MetricsExporter) RecordSteal(thief, victim int) {
	if m == nil {
		return
	}
	m.stealTotal.WithLabelValues(workerLabel(thief), workerLabel(victim)).Inc()
}

// RecordFiberParked records a fiber parking on a counter.
func (m *MetricsExporter) RecordFiberParked(workerID int) {
	if m == nil {
		return
	}
	m.fiberParkedTotal.WithLabelValues(workerLabel(workerID)).Inc()
}

// RecordFiberResumed records a parked fiber resuming on workerID.
func (m *MetricsExporter) RecordFiberResumed(workerID int, migrated bool) {
	if m == nil {
		return
	}
	m.fiberResumedTotal.WithLabelValues(workerLabel(workerID), strconv.FormatBool(migrated)).Inc()
}

// RecordPoolExhausted records a worker finding the fiber pool empty.
func (m *MetricsExporter) RecordPoolExhausted(workerID int) {
	if m == nil {
		return
	}
	m.poolExhaustedTotal.WithLabelValues(workerLabel(workerID)).Inc()
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(reason, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func workerLabel(id int) string {
	if id < 0 {
		return "external"
	}
	return strconv.Itoa(id)
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
