package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Swind/go-fiber-tasking/core"
	obs "github.com/Swind/go-fiber-tasking/observability/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run a workload and report timings",

		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML settings file"},
			&cli.StringFlag{Name: "workload", Aliases: []string{"w"}, Usage: "workload name"},
			&cli.IntFlag{Name: "size", Aliases: []string{"n"}, Usage: "workload size (0 = workload default)"},
			&cli.IntFlag{Name: "repeat", Usage: "number of runs"},
			&cli.IntFlag{Name: "threads", Aliases: []string{"t"}, Usage: "worker threads (0 = GOMAXPROCS)"},
			&cli.IntFlag{Name: "fibers", Usage: "fiber pool size (0 = 32 per thread)"},
			&cli.StringFlag{Name: "empty-queue", Usage: "spin | yield | sleep"},
			&cli.StringFlag{Name: "steal-policy", Usage: "round-robin | random | richest-first"},
			&cli.BoolFlag{Name: "pin", Usage: "pin worker i to core i"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address while running"},
			&cli.StringFlag{Name: "log-level", Usage: "debug | info | warn | error"},
		},

		Action: RunAction,
	}
}

// defaultSettingsFile is read from the working directory when --config is not given.
const defaultSettingsFile = "ftlbench.toml"

// resolveSettings layers built-in defaults, the settings file and flags.
func resolveSettings(c *cli.Context) (Settings, error) {
	s := Settings{Workload: "triangle", Repeat: 1, LogLevel: "info"}

	path := c.String("config")
	if path == "" && fileExists(defaultSettingsFile) {
		path = defaultSettingsFile
	}
	if path != "" {
		file, err := loadSettings(path)
		if err != nil {
			return Settings{}, err
		}
		s = s.merge(file)
	}

	s = s.merge(Settings{
		Threads:     c.Int("threads"),
		Fibers:      c.Int("fibers"),
		EmptyQueue:  c.String("empty-queue"),
		StealPolicy: c.String("steal-policy"),
		PinThreads:  c.Bool("pin"),
		Workload:    c.String("workload"),
		Size:        c.Int("size"),
		Repeat:      c.Int("repeat"),
		MetricsAddr: c.String("metrics-addr"),
		LogLevel:    c.String("log-level"),
	})
	return s, nil
}

func newLogger(w io.Writer, level string) (core.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zl := zerolog.New(zerolog.SyncWriter(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})).
		Level(lvl).With().Timestamp().Str("component", "ftlbench").Logger()
	return core.NewZerologLogger(zl), nil
}

func RunAction(c *cli.Context) error {
	// 1. Resolve settings
	settings, err := resolveSettings(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	workload, err := lookupWorkload(settings.Workload)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	size := settings.Size
	if size <= 0 {
		size = workload.DefaultSize
	}
	logger, err := newLogger(c.App.ErrWriter, settings.LogLevel)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	base, err := core.ConfigFromEnv()
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	cfg, err := settings.schedulerConfig(base)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	cfg.Logger = logger

	// 2. Optional metrics endpoint
	var poller *obs.SnapshotPoller
	if settings.MetricsAddr != "" {
		reg := prom.NewRegistry()
		exporter, err := obs.NewMetricsExporter("ftl", reg, obs.ExporterOptions{})
		if err != nil {
			return err
		}
		cfg.Metrics = exporter
		poller, err = obs.NewSnapshotPoller(reg, 250*time.Millisecond)
		if err != nil {
			return err
		}
		stop, err := serveMetrics(settings.MetricsAddr, reg, logger)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		defer stop()
	}

	// 3. Run
	for i := range settings.Repeat {
		res, err := runOnce(cfg, workload, size, poller)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
		fmt.Fprintf(c.App.Writer, "run %d: %s size=%d threads=%d fibers=%d elapsed=%v stolen=%d\n",
			i+1, workload.Name, size, res.stats.Threads, res.stats.Fibers, res.elapsed.Round(time.Microsecond), res.stats.Stolen)
		if res.got != res.want {
			return cli.Exit(fmt.Sprintf("%s computed %d, want %d", workload.Name, res.got, res.want), 1)
		}
	}
	return nil
}

type runResult struct {
	got, want int64
	elapsed   time.Duration
	stats     core.SchedulerStats
}

func runOnce(cfg *core.Config, w Workload, size int, poller *obs.SnapshotPoller) (runResult, error) {
	s, err := core.Initialize(cfg)
	if err != nil {
		return runResult{}, err
	}
	if poller != nil {
		poller.AddScheduler("ftlbench", s)
		poller.Start(context.Background())
		defer poller.Stop()
	}

	var res runResult
	done := make(chan struct{})
	start := time.Now()
	err = s.AddTask(context.Background(), core.Task{Name: w.Name, Function: func(ctx context.Context, _ any) {
		defer close(done)
		res.got, res.want = w.Run(ctx, s, size)
	}}, nil)
	if err != nil {
		s.Shutdown()
		return runResult{}, err
	}
	<-done
	res.elapsed = time.Since(start)
	res.stats = s.Stats()
	s.Shutdown()
	return res, nil
}

// serveMetrics starts a /metrics endpoint and returns its shutdown function.
func serveMetrics(addr string, reg *prom.Registry, logger core.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", core.F("error", err))
		}
	}()
	logger.Info("serving metrics", core.F("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
