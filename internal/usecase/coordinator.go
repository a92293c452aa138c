package usecase

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"warden-ai/internal/domain"
	"warden-ai/internal/exchange"
	"warden-ai/internal/infra/tracer"
)

// RunParams describes one agent run to execute.
type RunParams struct {
	GroupKey       string
	ChannelID      string
	UserID         string
	Prompt         string
	SessionID      string // continuity-session id; empty = resolve from store
	IsMain         bool
	IsScheduled    bool
	IsBackground   bool
	Attachments    []string
	Stream         bool
	Timeout        time.Duration // overall RPC deadline; 0 = exchange default
	PersistSession bool          // persist a reported continuity id for the group
}

// RunResult is returned on completion.
type RunResult struct {
	Output  string
	Context *domain.RunContext
}

// CoordinatorDeps holds injected dependencies for the coordinator.
type CoordinatorDeps struct {
	Exchange  exchange.Submitter
	Locks     *GroupLock
	Semaphore *AgentSemaphore
	Recorder  domain.RunRecorder
	Sessions  domain.SessionStore // optional, nil = no continuity persistence
	Logger    *slog.Logger
}

// Coordinator serializes agent runs per group, bounds global concurrency,
// and drives the file exchange. Lock then semaphore, in that order: a
// caller queued behind a busy group must never pin a global slot it cannot
// use.
type Coordinator struct {
	deps CoordinatorDeps
}

// NewCoordinator creates a coordinator with the given dependencies.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	return &Coordinator{deps: deps}
}

// ExecuteAgentRun runs one agent request through the sandbox. On failure it
// returns a *domain.ExecutionError carrying the partially built run context.
// The telemetry finalizer fires exactly once per call, whatever the outcome.
func (c *Coordinator) ExecuteAgentRun(ctx context.Context, params RunParams) (result *RunResult, err error) {
	ctx, span := tracer.StartSpan(ctx, "coordinator.execute_agent_run",
		trace.WithAttributes(
			tracer.StringAttr("run.group", params.GroupKey),
			tracer.StringAttr("run.channel", params.ChannelID),
		),
	)
	defer span.End()

	runCtx := &domain.RunContext{
		RunID:       c.newID(),
		GroupKey:    params.GroupKey,
		ChannelID:   params.ChannelID,
		UserID:      params.UserID,
		IsMain:      params.IsMain,
		IsScheduled: params.IsScheduled,
	}
	started := time.Now()

	defer func() {
		c.finalize(ctx, runCtx, started, result, err)
		if err != nil {
			tracer.RecordError(span, err)
		} else {
			tracer.SetOK(span)
		}
	}()

	lockErr := c.deps.Locks.With(ctx, params.GroupKey, func(ctx context.Context) error {
		return c.deps.Semaphore.Run(ctx, func(ctx context.Context) error {
			out, runErr := c.run(ctx, runCtx, params)
			if runErr != nil {
				return runErr
			}
			result = &RunResult{Output: out, Context: runCtx}
			return nil
		})
	})
	if lockErr != nil {
		err = &domain.ExecutionError{Err: lockErr, Context: runCtx}
		return nil, err
	}
	return result, nil
}

// run executes the exchange round trip while lock and permit are held.
func (c *Coordinator) run(ctx context.Context, runCtx *domain.RunContext, params RunParams) (string, error) {
	sessionID := params.SessionID
	if sessionID == "" && c.deps.Sessions != nil {
		stored, err := c.deps.Sessions.Continuity(ctx, params.GroupKey)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.deps.Logger.Warn("continuity lookup failed", "group", params.GroupKey, "error", err)
		} else {
			sessionID = stored
		}
	}

	req := &domain.AgentRunRequest{
		ID:           runCtx.RunID,
		Prompt:       params.Prompt,
		GroupKey:     params.GroupKey,
		ChannelID:    params.ChannelID,
		IsMain:       params.IsMain,
		IsScheduled:  params.IsScheduled,
		IsBackground: params.IsBackground,
		SessionID:    sessionID,
		UserID:       params.UserID,
		Attachments:  params.Attachments,
		Stream:       params.Stream,
	}
	if params.Timeout > 0 {
		req.Timeouts = &domain.RunTimeouts{RunMs: int(params.Timeout.Milliseconds())}
	}
	runCtx.SubmittedAt = time.Now()

	resp, err := c.deps.Exchange.Execute(ctx, req)
	if err != nil {
		return "", err
	}
	runCtx.Response = resp

	if resp.Status != domain.RunStatusSuccess {
		return "", domain.NewSubSystemError("coordinator", "Coordinator.ExecuteAgentRun",
			domain.ErrWorkerFault, resp.Error)
	}

	if params.PersistSession && resp.NewSessionID != "" && c.deps.Sessions != nil {
		if err := c.deps.Sessions.SaveContinuity(ctx, params.GroupKey, resp.NewSessionID); err != nil {
			c.deps.Logger.Warn("continuity save failed", "group", params.GroupKey, "error", err)
		}
	}
	return resp.Result, nil
}

// finalize hands the trace to the recorder. Runs exactly once per attempt;
// recorder failures are logged, never propagated.
func (c *Coordinator) finalize(ctx context.Context, runCtx *domain.RunContext, started time.Time, result *RunResult, runErr error) {
	rt := domain.RunTrace{
		RunID:       runCtx.RunID,
		GroupKey:    runCtx.GroupKey,
		ChannelID:   runCtx.ChannelID,
		UserID:      runCtx.UserID,
		IsMain:      runCtx.IsMain,
		IsScheduled: runCtx.IsScheduled,
		Class:       string(ClassifyRunError(runErr)),
		StartedAt:   started,
		FinishedAt:  time.Now(),
		LatencyMs:   time.Since(started).Milliseconds(),
	}
	if runErr != nil {
		rt.Status = domain.RunStatusError
		rt.Error = runErr.Error()
	} else {
		rt.Status = domain.RunStatusSuccess
		if result != nil {
			rt.Output = result.Output
		}
	}
	if resp := runCtx.Response; resp != nil {
		rt.Model = resp.Model
		rt.TokensPrompt = resp.TokensPrompt
		rt.TokensCompletion = resp.TokensCompletion
		if resp.LatencyMs > 0 {
			rt.LatencyMs = resp.LatencyMs
		}
	}

	if err := c.deps.Recorder.Finalize(ctx, rt); err != nil {
		c.deps.Logger.Error("telemetry finalize failed", "run_id", rt.RunID, "error", err)
	}
}

func (c *Coordinator) newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
