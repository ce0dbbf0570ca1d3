package prometheus

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/Swind/go-fiber-tasking/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
// *core.TaskScheduler implements it.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// SnapshotPoller periodically exports scheduler Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	threads      *prom.GaugeVec
	fibers       *prom.GaugeVec
	idleFibers   *prom.GaugeVec
	parkedFibers *prom.GaugeVec
	queued       *prom.GaugeVec
	readyFibers  *prom.GaugeVec
	outstanding  *prom.GaugeVec
	running      *prom.GaugeVec

	workerQueued   *prom.GaugeVec
	workerReady    *prom.GaugeVec
	workerExecuted *prom.GaugeVec
	workerStolen   *prom.GaugeVec
	workerState    *prom.GaugeVec

	stateMu sync.Mutex
	active  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: "ftl", Name: name, Help: help}, labels)
	}
	p := &SnapshotPoller{
		interval:   interval,
		schedulers: make(map[string]SchedulerSnapshotProvider),

		threads:      gauge("scheduler_threads", "Worker threads per scheduler.", "scheduler"),
		fibers:       gauge("scheduler_fibers", "Fiber pool size per scheduler.", "scheduler"),
		idleFibers:   gauge("scheduler_idle_fibers", "Idle pool fibers per scheduler.", "scheduler"),
		parkedFibers: gauge("scheduler_parked_fibers", "Fibers parked on a counter per scheduler.", "scheduler"),
		queued:       gauge("scheduler_queued", "Tasks queued and not yet started per scheduler.", "scheduler"),
		readyFibers:  gauge("scheduler_ready_fibers", "Woken fibers waiting for a worker per scheduler.", "scheduler"),
		outstanding:  gauge("scheduler_outstanding", "Submitted tasks not yet finished per scheduler.", "scheduler"),
		running:      gauge("scheduler_running", "Scheduler running state (1=running, 0=stopped).", "scheduler"),

		workerQueued:   gauge("worker_queued", "Tasks in each worker's queue.", "scheduler", "worker"),
		workerReady:    gauge("worker_ready_fibers", "Woken fibers on each worker's ready lists.", "scheduler", "worker"),
		workerExecuted: gauge("worker_executed_total", "Tasks finished on each worker, snapshot.", "scheduler", "worker"),
		workerStolen:   gauge("worker_stolen_total", "Tasks each worker stole, snapshot.", "scheduler", "worker"),
		workerState:    gauge("worker_state", "Worker state (1 for the current state).", "scheduler", "worker", "state"),
	}

	for _, c := range []**prom.GaugeVec{
		&p.threads, &p.fibers, &p.idleFibers, &p.parkedFibers, &p.queued, &p.readyFibers, &p.outstanding, &p.running,
		&p.workerQueued, &p.workerReady, &p.workerExecuted, &p.workerStolen, &p.workerState,
	} {
		registered, err := registerCollector(reg, *c)
		if err != nil {
			return nil, err
		}
		*c = registered
	}
	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.active {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.active = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.active {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	cancel()
	<-done

	p.stateMu.Lock()
	p.active = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

var workerStates = []core.WorkerState{
	core.WorkerIdle,
	core.WorkerExecutingTask,
	core.WorkerExecutingSchedulingLoop,
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	defer p.schedulersMu.RUnlock()

	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.threads.WithLabelValues(name).Set(float64(stats.Threads))
		p.fibers.WithLabelValues(name).Set(float64(stats.Fibers))
		p.idleFibers.WithLabelValues(name).Set(float64(stats.IdleFibers))
		p.parkedFibers.WithLabelValues(name).Set(float64(stats.ParkedFibers))
		p.queued.WithLabelValues(name).Set(float64(stats.Queued))
		p.readyFibers.WithLabelValues(name).Set(float64(stats.ReadyFibers))
		p.outstanding.WithLabelValues(name).Set(float64(stats.Outstanding))
		p.running.WithLabelValues(name).Set(boolGauge(stats.Running))

		for _, w := range stats.Workers {
			worker := strconv.Itoa(w.Index)
			p.workerQueued.WithLabelValues(name, worker).Set(float64(w.Queued))
			p.workerReady.WithLabelValues(name, worker).Set(float64(w.Ready))
			p.workerExecuted.WithLabelValues(name, worker).Set(float64(w.Executed))
			p.workerStolen.WithLabelValues(name, worker).Set(float64(w.Stolen))
			for _, st := range workerStates {
				p.workerState.WithLabelValues(name, worker, st.String()).Set(boolGauge(w.State == st))
			}
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
