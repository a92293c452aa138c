package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
exchange:
  root: /tmp/warden-exchange
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Exchange.PollInterval != "250ms" {
		t.Errorf("poll_interval = %q, want 250ms", cfg.Exchange.PollInterval)
	}
	if cfg.Exchange.RunDeadline != "5m" {
		t.Errorf("run_deadline = %q, want 5m", cfg.Exchange.RunDeadline)
	}
	if cfg.Coordinator.MaxConcurrent != 4 {
		t.Errorf("max_concurrent = %d, want 4", cfg.Coordinator.MaxConcurrent)
	}
	if cfg.Process.MaxSessions != 10 {
		t.Errorf("max_sessions = %d, want 10", cfg.Process.MaxSessions)
	}
	if cfg.Process.MaxOutputBytes != 1024*1024 {
		t.Errorf("max_output_bytes = %d, want 1MB", cfg.Process.MaxOutputBytes)
	}
	if cfg.Logger.Level != "info" || cfg.Logger.Format != "text" {
		t.Errorf("logger defaults = %+v", cfg.Logger)
	}
	if cfg.Store.Path != "warden.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
exchange:
  root: /var/run/warden
  poll_interval: 100ms
  run_deadline: 90s
  breaker:
    max_failures: 3
    timeout: 10s
coordinator:
  max_concurrent: 8
process:
  max_sessions: 2
  default_timeout: 30s
runtime:
  command: agent-runtime
  args: ["--mode", "batch"]
  timeout: 2m
scheduler:
  enabled: true
  jobs:
    - name: nightly
      schedule: "0 3 * * *"
      group_key: "cron:nightly"
      prompt: "run nightly summary"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Coordinator.MaxConcurrent != 8 {
		t.Errorf("max_concurrent = %d", cfg.Coordinator.MaxConcurrent)
	}
	if cfg.Process.MaxSessions != 2 {
		t.Errorf("max_sessions = %d", cfg.Process.MaxSessions)
	}
	if cfg.Runtime.Command != "agent-runtime" || len(cfg.Runtime.Args) != 2 {
		t.Errorf("runtime = %+v", cfg.Runtime)
	}
	if len(cfg.Scheduler.Jobs) != 1 || cfg.Scheduler.Jobs[0].Name != "nightly" {
		t.Errorf("jobs = %+v", cfg.Scheduler.Jobs)
	}
	if got := Duration(cfg.Exchange.RunDeadline); got != 90*time.Second {
		t.Errorf("run_deadline = %s", got)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			"missing root",
			`coordinator: {max_concurrent: 2}`,
			"exchange.root",
		},
		{
			"bad duration",
			"exchange:\n  root: /tmp/x\n  poll_interval: sometimes\n",
			"poll_interval",
		},
		{
			"job missing schedule",
			"exchange:\n  root: /tmp/x\nscheduler:\n  jobs:\n    - name: j\n      group_key: g\n      prompt: p\n",
			"schedule",
		},
		{
			"job missing group",
			"exchange:\n  root: /tmp/x\nscheduler:\n  jobs:\n    - name: j\n      schedule: 30m\n      prompt: p\n",
			"group_key",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDurationEmpty(t *testing.T) {
	if Duration("") != 0 {
		t.Fatal("empty string must map to zero duration")
	}
}
