package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"warden-ai/internal/domain"
)

const defaultWorkerInterval = 500 * time.Millisecond

// RunFunc is the agent-execution function the worker loop invokes for each
// validated request. It is a pure mapping from request to response; what it
// does internally (prompt building, model calls, tool loop) is not this
// package's concern.
type RunFunc func(ctx context.Context, req *domain.AgentRunRequest) (*domain.AgentRunResponse, error)

// WorkerConfig holds configuration for the worker loop.
type WorkerConfig struct {
	Interval time.Duration // sleep between drain cycles (default: 500ms)
}

// Worker is the sandbox-resident polling loop. Each cycle it claims every
// pending request file, produces a response for each, and overwrites the
// heartbeat. Delivery is at-most-once in normal operation; a crash between
// "response written" and "request deleted" re-executes the request on
// restart. That edge is accepted — downstream idempotency is the caller's
// responsibility.
type Worker struct {
	dirs   Dirs
	run    RunFunc
	config WorkerConfig
	logger *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(dirs Dirs, run RunFunc, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultWorkerInterval
	}
	return &Worker{dirs: dirs, run: run, config: cfg, logger: logger}
}

// Run executes the loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.dirs.Ensure(); err != nil {
		return err
	}
	w.logger.Info("worker loop started", "requests", w.dirs.Requests, "interval", w.config.Interval)

	for {
		w.DrainOnce(ctx)

		if err := w.dirs.WriteHeartbeat(time.Now()); err != nil {
			w.logger.Warn("heartbeat write failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker loop stopped")
			return ctx.Err()
		case <-time.After(w.config.Interval):
		}
	}
}

// DrainOnce processes every pending request file. A request that fails
// validation gets a structured error response; the loop never aborts over
// one bad record.
func (w *Worker) DrainOnce(ctx context.Context) {
	entries, err := os.ReadDir(w.dirs.Requests)
	if err != nil {
		w.logger.Warn("list request area failed", "error", err)
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue // temp files from in-flight atomic writes
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		w.handle(ctx, name)
	}
}

func (w *Worker) handle(ctx context.Context, name string) {
	id := strings.TrimSuffix(name, ".json")
	path := filepath.Join(w.dirs.Requests, name)

	raw, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("read request failed", "run_id", id, "error", err)
		return
	}

	req, err := DecodeRequest(raw)
	if err != nil {
		w.logger.Warn("invalid request", "run_id", id, "error", err)
		w.respond(id, &domain.AgentRunResponse{
			ID:     id,
			Status: domain.RunStatusError,
			Error:  err.Error(),
		})
		w.remove(path, id)
		return
	}

	started := time.Now()
	resp, runErr := w.run(ctx, req)
	if runErr != nil {
		resp = &domain.AgentRunResponse{
			ID:     req.ID,
			Status: domain.RunStatusError,
			Error:  runErr.Error(),
		}
	}
	if resp.ID == "" {
		resp.ID = req.ID
	}
	if resp.LatencyMs == 0 {
		resp.LatencyMs = time.Since(started).Milliseconds()
	}

	// Response first, then delete the claim. Crashing between the two
	// re-runs the request after restart (documented at-least-once edge).
	w.respond(id, resp)
	w.remove(path, id)

	w.logger.Info("request processed",
		"run_id", id, "status", resp.Status, "latency_ms", resp.LatencyMs)
}

func (w *Worker) respond(id string, resp *domain.AgentRunResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		w.logger.Error("marshal response failed", "run_id", id, "error", err)
		return
	}
	if err := writeAtomic(w.dirs.ResponsePath(id), data); err != nil {
		w.logger.Error("write response failed", "run_id", id, "error", err)
	}
}

func (w *Worker) remove(path, id string) {
	if err := os.Remove(path); err != nil {
		w.logger.Warn("remove request failed", "run_id", id, "error", err)
	}
}
