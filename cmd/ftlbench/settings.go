package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/Swind/go-fiber-tasking/core"
)

// Settings is the ftlbench configuration file. Zero values keep the value
// from the environment or the built-in default.
type Settings struct {
	Threads     int    `toml:"threads"`
	Fibers      int    `toml:"fibers"`
	EmptyQueue  string `toml:"empty_queue"`
	StealPolicy string `toml:"steal_policy"`
	PinThreads  bool   `toml:"pin_threads"`
	TaskHistory int    `toml:"task_history"`

	Workload    string `toml:"workload"`
	Size        int    `toml:"size"`
	Repeat      int    `toml:"repeat"`
	MetricsAddr string `toml:"metrics_addr"`
	LogLevel    string `toml:"log_level"`
}

// loadSettings decodes a TOML settings file. Unknown keys are an error.
func loadSettings(path string) (Settings, error) {
	var s Settings
	md, err := toml.DecodeFile(path, &s)
	if err != nil {
		return Settings{}, fmt.Errorf("read %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Settings{}, fmt.Errorf("read %s: unknown keys %v", path, undecoded)
	}
	return s, nil
}

// merge overlays the non-zero fields of o onto s.
func (s Settings) merge(o Settings) Settings {
	if o.Threads != 0 {
		s.Threads = o.Threads
	}
	if o.Fibers != 0 {
		s.Fibers = o.Fibers
	}
	if o.EmptyQueue != "" {
		s.EmptyQueue = o.EmptyQueue
	}
	if o.StealPolicy != "" {
		s.StealPolicy = o.StealPolicy
	}
	if o.PinThreads {
		s.PinThreads = true
	}
	if o.TaskHistory != 0 {
		s.TaskHistory = o.TaskHistory
	}
	if o.Workload != "" {
		s.Workload = o.Workload
	}
	if o.Size != 0 {
		s.Size = o.Size
	}
	if o.Repeat != 0 {
		s.Repeat = o.Repeat
	}
	if o.MetricsAddr != "" {
		s.MetricsAddr = o.MetricsAddr
	}
	if o.LogLevel != "" {
		s.LogLevel = o.LogLevel
	}
	return s
}

// schedulerConfig applies s on top of base, which comes from the environment.
// With no thread count anywhere, workers follow GOMAXPROCS so a container CPU
// quota applied by automaxprocs also bounds the worker count.
func (s Settings) schedulerConfig(base *core.Config) (*core.Config, error) {
	cfg := *base
	if s.Threads != 0 {
		cfg.ThreadCount = s.Threads
	}
	if cfg.ThreadCount == 0 {
		cfg.ThreadCount = runtime.GOMAXPROCS(0)
	}
	if s.Fibers != 0 {
		cfg.FiberPoolSize = s.Fibers
	}
	if s.EmptyQueue != "" {
		b, err := core.ParseEmptyQueueBehavior(s.EmptyQueue)
		if err != nil {
			return nil, err
		}
		cfg.EmptyQueueBehavior = b
	}
	if s.StealPolicy != "" {
		p, err := core.StealPolicyByName(s.StealPolicy)
		if err != nil {
			return nil, err
		}
		cfg.StealPolicy = p
	}
	if s.PinThreads {
		cfg.PinThreads = true
	}
	if s.TaskHistory != 0 {
		cfg.TaskHistoryCapacity = s.TaskHistory
	}
	return &cfg, nil
}

// writeSettings encodes s as TOML.
func writeSettings(w io.Writer, s Settings) error {
	return toml.NewEncoder(w).Encode(s)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
