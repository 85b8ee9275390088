package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration stored at <datadir>/config.toml.
type Config struct {
	Queue   Queue   `toml:"queue"`
	HTTP    HTTP    `toml:"http"`
	Backend Backend `toml:"backend"`
}

// Queue holds delivery queue tuning. The defaults match the behavior the
// mobile client shipped with and should not be changed casually.
type Queue struct {
	BatchSize     int     `toml:"batch_size"`
	MaxRetries    int     `toml:"max_retries"`
	RetryDelaysMs []int64 `toml:"retry_delays_ms"`
	TickMs        int64   `toml:"tick_ms"`
	DrainDelayMs  int64   `toml:"drain_delay_ms"`
}

// HTTP holds the API server settings.
type HTTP struct {
	Listen string `toml:"listen"`
}

// Backend holds simulated backend settings, used by the demo daemon.
type Backend struct {
	LatencyMs   int64   `toml:"latency_ms"`
	FailureRate float64 `toml:"failure_rate"`
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Queue: Queue{
			BatchSize:     50,
			MaxRetries:    5,
			RetryDelaysMs: []int64{1000, 3000, 5000, 10000, 30000},
			TickMs:        200,
			DrainDelayMs:  100,
		},
		HTTP: HTTP{
			Listen: "127.0.0.1:8787",
		},
		Backend: Backend{
			LatencyMs:   300,
			FailureRate: 0,
		},
	}
}

// RetryDelays returns the escalating backoff schedule as durations.
func (q Queue) RetryDelays() []time.Duration {
	out := make([]time.Duration, len(q.RetryDelaysMs))
	for i, ms := range q.RetryDelaysMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}

// Tick returns the periodic processor interval.
func (q Queue) Tick() time.Duration {
	return time.Duration(q.TickMs) * time.Millisecond
}

// DrainDelay returns the delay before re-processing a non-empty backlog.
func (q Queue) DrainDelay() time.Duration {
	return time.Duration(q.DrainDelayMs) * time.Millisecond
}

// Latency returns the simulated network latency.
func (b Backend) Latency() time.Duration {
	return time.Duration(b.LatencyMs) * time.Millisecond
}

// Load reads config from the given path. Returns an error if the file is
// missing; callers wanting defaults for a fresh data dir should check
// os.IsNotExist and fall back to Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
