package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"syscall"
	"time"

	"warden-ai/internal/domain"
	"warden-ai/internal/usecase/process"
)

// ProcessTool exposes background process sessions to the agent via function
// calling: start commands, poll for new output, read logs with pagination,
// write to stdin, signal, and clean up.
type ProcessTool struct {
	registry *process.Registry
	logger   *slog.Logger
}

// NewProcessTool creates a process tool backed by the given Registry.
func NewProcessTool(registry *process.Registry, logger *slog.Logger) *ProcessTool {
	return &ProcessTool{registry: registry, logger: logger}
}

func (t *ProcessTool) Name() string { return "process" }
func (t *ProcessTool) Description() string {
	return "Manage background process sessions: start commands, list running/completed processes, poll for new output, read logs with pagination, write to stdin, kill processes, and clean up sessions."
}

func (t *ProcessTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {
					"type": "string",
					"enum": ["start", "list", "poll", "log", "write", "kill", "remove"],
					"description": "The operation to perform"
				},
				"command": {
					"type": "string",
					"description": "Executable to start (for start action)"
				},
				"args": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Arguments for the command"
				},
				"dir": {
					"type": "string",
					"description": "Working directory for the command"
				},
				"timeout_ms": {
					"type": "integer",
					"description": "Wall-clock deadline in milliseconds; the process group is killed when it expires"
				},
				"session_id": {
					"type": "string",
					"description": "Session ID (required for poll, log, write, kill, remove)"
				},
				"input": {
					"type": "string",
					"description": "Input to write to process stdin (for write action)"
				},
				"signal": {
					"type": "string",
					"description": "Signal name or number for kill (default TERM)"
				},
				"offset": {
					"type": "integer",
					"description": "Byte offset for log pagination (default 0)"
				},
				"limit": {
					"type": "integer",
					"description": "Max bytes to return for log action"
				}
			},
			"required": ["action"]
		}`),
	}
}

type processParams struct {
	Action    string   `json:"action"`
	Command   string   `json:"command"`
	Args      []string `json:"args"`
	Dir       string   `json:"dir"`
	TimeoutMs int      `json:"timeout_ms"`
	SessionID string   `json:"session_id"`
	Input     string   `json:"input"`
	Signal    string   `json:"signal"`
	Offset    int      `json:"offset"`
	Limit     int      `json:"limit"`
}

func (t *ProcessTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.process", t.logger, params,
		Dispatch(func(p processParams) string { return p.Action }, ActionMap[processParams]{
			"start": func(_ context.Context, p processParams) (any, error) {
				return t.handleStart(p)
			},
			"list": func(_ context.Context, _ processParams) (any, error) {
				return t.handleList(), nil
			},
			"poll": func(_ context.Context, p processParams) (any, error) {
				return t.handlePoll(p)
			},
			"log": func(_ context.Context, p processParams) (any, error) {
				return t.handleLog(p)
			},
			"write": func(_ context.Context, p processParams) (any, error) {
				if err := t.handleWrite(p); err != nil {
					return nil, err
				}
				return map[string]bool{"ok": true}, nil
			},
			"kill": func(_ context.Context, p processParams) (any, error) {
				if err := t.handleKill(p); err != nil {
					return nil, err
				}
				return map[string]bool{"killed": true}, nil
			},
			"remove": func(_ context.Context, p processParams) (any, error) {
				if err := t.handleRemove(p); err != nil {
					return nil, err
				}
				return map[string]bool{"removed": true}, nil
			},
		}),
	)
}

func (t *ProcessTool) handleStart(p processParams) (any, error) {
	if err := RequireField("command", p.Command); err != nil {
		return nil, err
	}
	opts := process.StartOpts{Dir: p.Dir}
	if p.TimeoutMs > 0 {
		opts.Timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}
	return t.registry.Start(p.Command, p.Args, opts)
}

func (t *ProcessTool) handleList() any {
	entries := t.registry.List()
	if entries == nil {
		entries = []domain.ProcessListEntry{}
	}
	return entries
}

func (t *ProcessTool) handlePoll(p processParams) (any, error) {
	if err := RequireField("session_id", p.SessionID); err != nil {
		return nil, err
	}
	return t.registry.Poll(p.SessionID)
}

func (t *ProcessTool) handleLog(p processParams) (any, error) {
	if err := RequireField("session_id", p.SessionID); err != nil {
		return nil, err
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = process.DefaultLogLimit
	}
	return t.registry.Log(p.SessionID, p.Offset, p.Limit)
}

func (t *ProcessTool) handleWrite(p processParams) error {
	if err := RequireFields("session_id", p.SessionID, "input", p.Input); err != nil {
		return err
	}
	return t.registry.Write(p.SessionID, p.Input)
}

func (t *ProcessTool) handleKill(p processParams) error {
	if err := RequireField("session_id", p.SessionID); err != nil {
		return err
	}
	sig, err := parseSignal(p.Signal)
	if err != nil {
		return err
	}
	return t.registry.Kill(p.SessionID, sig)
}

func (t *ProcessTool) handleRemove(p processParams) error {
	if err := RequireField("session_id", p.SessionID); err != nil {
		return err
	}
	return t.registry.Remove(p.SessionID)
}

var signalNames = map[string]syscall.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"KILL": syscall.SIGKILL,
	"TERM": syscall.SIGTERM,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
}

// parseSignal accepts a name ("TERM", "SIGKILL", "kill") or a number ("9").
// Empty means the registry default.
func parseSignal(s string) (syscall.Signal, error) {
	if s == "" {
		return 0, nil
	}
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "SIG")
	if sig, ok := signalNames[name]; ok {
		return sig, nil
	}
	if n, err := strconv.Atoi(name); err == nil && n > 0 && n < 64 {
		return syscall.Signal(n), nil
	}
	return 0, fmt.Errorf("unknown signal %q", s)
}
