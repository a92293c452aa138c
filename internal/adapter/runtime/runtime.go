package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"warden-ai/internal/domain"
)

// ExecRunner invokes an external agent runtime once per request: the request
// record goes to the child's stdin as JSON, the response record is read from
// its stdout. Everything the runtime does in between (prompt building, model
// calls, its own tool loop) is opaque here.
type ExecRunner struct {
	command string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecRunner creates an ExecRunner. A zero timeout means the caller's
// context is the only bound.
func NewExecRunner(command string, args []string, timeout time.Duration, logger *slog.Logger) *ExecRunner {
	return &ExecRunner{command: command, args: args, timeout: timeout, logger: logger}
}

// Run satisfies exchange.RunFunc.
func (r *ExecRunner) Run(ctx context.Context, req *domain.AgentRunRequest) (*domain.AgentRunResponse, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("runtime: marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	if runErr != nil && ctx.Err() != nil {
		// Only a failed run counts as a timeout; a clean exit racing the
		// deadline still carries a usable response.
		return nil, domain.NewSubSystemError("runtime", "ExecRunner.Run",
			domain.ErrTimeout, fmt.Sprintf("agent runtime exceeded %s", r.timeout))
	}
	if runErr != nil {
		return nil, domain.NewSubSystemError("runtime", "ExecRunner.Run",
			domain.ErrWorkerFault, fmt.Sprintf("%v: %s", runErr, tail(stderr.String(), 512)))
	}

	var resp domain.AgentRunResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, domain.NewSubSystemError("runtime", "ExecRunner.Run",
			domain.ErrWorkerFault, fmt.Sprintf("unparseable runtime output: %v", err))
	}
	if resp.ID == "" {
		resp.ID = req.ID
	}
	if resp.Status == "" {
		return nil, domain.NewSubSystemError("runtime", "ExecRunner.Run",
			domain.ErrWorkerFault, "runtime response missing status")
	}

	r.logger.Debug("agent runtime completed",
		"run_id", req.ID, "status", resp.Status, "duration", time.Since(start))
	return &resp, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
