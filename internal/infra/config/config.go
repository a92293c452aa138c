package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration, shared by the host
// daemon and the sandbox daemon (each reads the sections it needs).
type Config struct {
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Process     ProcessConfig     `yaml:"process"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Store       StoreConfig       `yaml:"store"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
}

// ExchangeConfig describes the shared filesystem exchange area and its
// timings.
type ExchangeConfig struct {
	Root           string        `yaml:"root"`            // shared directory for requests/responses/heartbeat
	PollInterval   string        `yaml:"poll_interval"`   // host response-poll cadence (default: 250ms)
	RunDeadline    string        `yaml:"run_deadline"`    // overall RPC deadline (default: 5m)
	WorkerInterval string        `yaml:"worker_interval"` // sandbox drain cadence (default: 500ms)
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig mirrors the exchange circuit breaker settings.
type BreakerConfig struct {
	MaxFailures uint32 `yaml:"max_failures"`
	Timeout     string `yaml:"timeout"`
	Interval    string `yaml:"interval"`
}

// CoordinatorConfig bounds host-side admission.
type CoordinatorConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"` // global semaphore capacity (default: 4)
}

// ProcessConfig bounds the sandbox-side process session registry.
type ProcessConfig struct {
	MaxSessions    int    `yaml:"max_sessions"`     // default: 10
	MaxOutputBytes int    `yaml:"max_output_bytes"` // default: 1MB
	TailBytes      int    `yaml:"tail_bytes"`       // default: 500
	DefaultTimeout string `yaml:"default_timeout"`  // default: none
}

// SchedulerJobConfig defines one cron-driven agent run.
type SchedulerJobConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression
	GroupKey string `yaml:"group_key"`
	Channel  string `yaml:"channel"`
	Prompt   string `yaml:"prompt"`
}

// SchedulerConfig holds the cron-driven caller settings.
type SchedulerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Jobs    []SchedulerJobConfig `yaml:"jobs"`
}

// RuntimeConfig locates the external agent runtime the sandbox worker execs
// once per request (request JSON on stdin, response JSON on stdout).
type RuntimeConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Timeout string   `yaml:"timeout"` // per-request cap (default: exchange run_deadline)
}

// GatewayConfig holds the webhook trigger endpoint settings.
type GatewayConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Listen         string `yaml:"listen"`           // default: 127.0.0.1:8714
	RequestsPerMin int    `yaml:"requests_per_min"` // default: 60
	Burst          int    `yaml:"burst"`            // default: 10
}

// StoreConfig locates the SQLite database for continuity sessions and run
// traces.
type StoreConfig struct {
	Path string `yaml:"path"` // default: warden.db
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text or json (default: text)
	Output string `yaml:"output"` // stdout, stderr, or a file path (default: stderr)
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Load reads, defaults, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Exchange.PollInterval == "" {
		c.Exchange.PollInterval = "250ms"
	}
	if c.Exchange.RunDeadline == "" {
		c.Exchange.RunDeadline = "5m"
	}
	if c.Exchange.WorkerInterval == "" {
		c.Exchange.WorkerInterval = "500ms"
	}
	if c.Coordinator.MaxConcurrent <= 0 {
		c.Coordinator.MaxConcurrent = 4
	}
	if c.Process.MaxSessions <= 0 {
		c.Process.MaxSessions = 10
	}
	if c.Process.MaxOutputBytes <= 0 {
		c.Process.MaxOutputBytes = 1024 * 1024
	}
	if c.Process.TailBytes <= 0 {
		c.Process.TailBytes = 500
	}
	if c.Gateway.Listen == "" {
		c.Gateway.Listen = "127.0.0.1:8714"
	}
	if c.Gateway.RequestsPerMin <= 0 {
		c.Gateway.RequestsPerMin = 60
	}
	if c.Gateway.Burst <= 0 {
		c.Gateway.Burst = 10
	}
	if c.Store.Path == "" {
		c.Store.Path = "warden.db"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}
	if c.Logger.Output == "" {
		c.Logger.Output = "stderr"
	}
}

// Validate checks cross-field constraints and duration strings.
func (c *Config) Validate() error {
	if c.Exchange.Root == "" {
		return fmt.Errorf("config: exchange.root is required")
	}
	for name, val := range map[string]string{
		"exchange.poll_interval":   c.Exchange.PollInterval,
		"exchange.run_deadline":    c.Exchange.RunDeadline,
		"exchange.worker_interval": c.Exchange.WorkerInterval,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	for name, val := range map[string]string{
		"exchange.breaker.timeout":  c.Exchange.Breaker.Timeout,
		"exchange.breaker.interval": c.Exchange.Breaker.Interval,
		"process.default_timeout":   c.Process.DefaultTimeout,
		"runtime.timeout":           c.Runtime.Timeout,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	for i, job := range c.Scheduler.Jobs {
		if job.Schedule == "" {
			return fmt.Errorf("config: scheduler.jobs[%d]: schedule is required", i)
		}
		if job.GroupKey == "" {
			return fmt.Errorf("config: scheduler.jobs[%d]: group_key is required", i)
		}
		if job.Prompt == "" {
			return fmt.Errorf("config: scheduler.jobs[%d]: prompt is required", i)
		}
	}
	return nil
}

// Duration parses a duration string that Validate already vetted; the zero
// value is returned for empty strings.
func Duration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, _ := time.ParseDuration(s)
	return d
}
