package domain

import (
	"strings"
	"time"
)

// RunStatus is the terminal status of an agent run reported by the sandbox.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// AgentRunRequest is the record the host writes into the request area.
// It is written once, atomically, and consumed exactly once by the worker
// loop (the file is removed after the response is produced).
type AgentRunRequest struct {
	ID           string       `json:"id"`
	Prompt       string       `json:"prompt"`
	GroupKey     string       `json:"groupKey"`
	ChannelID    string       `json:"channelId"`
	IsMain       bool         `json:"isMain"`
	IsScheduled  bool         `json:"isScheduled,omitempty"`
	IsBackground bool         `json:"isBackground,omitempty"`
	SessionID    string       `json:"sessionId,omitempty"`
	UserID       string       `json:"userId,omitempty"`
	Attachments  []string     `json:"attachments,omitempty"`
	Stream       bool         `json:"stream,omitempty"`
	Timeouts     *RunTimeouts `json:"timeouts,omitempty"`
}

// RunTimeouts carries per-request deadline overrides in milliseconds.
type RunTimeouts struct {
	RunMs  int `json:"runMs,omitempty"`
	PollMs int `json:"pollMs,omitempty"`
}

// Validate checks the required shape of a request. Role flags are typed
// booleans so their shape is enforced by decoding; this covers presence of
// the textual fields.
func (r *AgentRunRequest) Validate() error {
	switch {
	case r.ID == "":
		return NewSubSystemError("exchange", "AgentRunRequest.Validate", ErrInvalidInput, "missing id")
	case strings.TrimSpace(r.Prompt) == "":
		return NewSubSystemError("exchange", "AgentRunRequest.Validate", ErrInvalidInput, "missing prompt")
	case r.GroupKey == "":
		return NewSubSystemError("exchange", "AgentRunRequest.Validate", ErrInvalidInput, "missing groupKey")
	case r.ChannelID == "":
		return NewSubSystemError("exchange", "AgentRunRequest.Validate", ErrInvalidInput, "missing channelId")
	}
	return nil
}

// ToolCallRecord summarizes one tool invocation made during a run.
type ToolCallRecord struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"durationMs,omitempty"`
	IsError    bool   `json:"isError,omitempty"`
}

// AgentRunResponse is the record the worker loop writes into the response
// area, keyed by the request ID. Read once by the host and discarded.
type AgentRunResponse struct {
	ID               string           `json:"id"`
	Status           RunStatus        `json:"status"`
	Result           string           `json:"result,omitempty"`
	Error            string           `json:"error,omitempty"`
	Model            string           `json:"model,omitempty"`
	TokensPrompt     int              `json:"tokensPrompt,omitempty"`
	TokensCompletion int              `json:"tokensCompletion,omitempty"`
	ToolCalls        []ToolCallRecord `json:"toolCalls,omitempty"`
	NewSessionID     string           `json:"newSessionId,omitempty"`
	LatencyMs        int64            `json:"latencyMs,omitempty"`
}

// RunContext is the partially built trace context for a run attempt. It is
// populated as the coordinator progresses and attached to both the success
// result and the structured execution error, so a trace can be recorded
// either way.
type RunContext struct {
	RunID       string
	GroupKey    string
	ChannelID   string
	UserID      string
	IsMain      bool
	IsScheduled bool
	SubmittedAt time.Time
	Response    *AgentRunResponse // nil until a response file was read
}

// ExecutionError is the structured failure returned by the coordinator.
// It always carries the run context accumulated up to the failure point.
type ExecutionError struct {
	Err     error
	Context *RunContext
}

func (e *ExecutionError) Error() string { return e.Err.Error() }
func (e *ExecutionError) Unwrap() error { return e.Err }
