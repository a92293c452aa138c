package domain

import (
	"context"
	"time"
)

// RunTrace is the record the telemetry finalizer receives exactly once per
// run attempt, success or failure.
type RunTrace struct {
	RunID            string
	GroupKey         string
	ChannelID        string
	UserID           string
	IsMain           bool
	IsScheduled      bool
	Status           RunStatus
	Class            string // run classification label
	Output           string // empty on failure
	Error            string
	Model            string
	TokensPrompt     int
	TokensCompletion int
	LatencyMs        int64
	StartedAt        time.Time
	FinishedAt       time.Time
}

// RunRecorder is the telemetry sink. Finalize is invoked exactly once per
// ExecuteAgentRun attempt; implementations must tolerate partially filled
// traces (a timed-out run has no response-derived fields).
type RunRecorder interface {
	Finalize(ctx context.Context, trace RunTrace) error
}

// SessionStore persists the continuity-session id reported for a group so
// the next run can resume the same agent session.
type SessionStore interface {
	SaveContinuity(ctx context.Context, groupKey, sessionID string) error
	Continuity(ctx context.Context, groupKey string) (string, error)
}
