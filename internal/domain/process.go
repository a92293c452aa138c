package domain

import "time"

// ProcessStatus represents the lifecycle state of a background process.
type ProcessStatus string

const (
	ProcessStatusRunning  ProcessStatus = "running"
	ProcessStatusExited   ProcessStatus = "exited"
	ProcessStatusKilled   ProcessStatus = "killed"
	ProcessStatusTimedOut ProcessStatus = "timed_out"
)

// ProcessSession represents a background process tracked by the registry.
// Stdout and stderr are merged into one ordered, byte-capped buffer; a
// fixed-size tail window is maintained for cheap inspection.
type ProcessSession struct {
	ID        string        `json:"id"`
	Command   string        `json:"command"`
	Args      []string      `json:"args,omitempty"`
	PID       int           `json:"pid"`
	WorkDir   string        `json:"workdir,omitempty"`
	Status    ProcessStatus `json:"status"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	Signal    string        `json:"signal,omitempty"`
	Truncated bool          `json:"truncated"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// ProcessPollResult is returned by Poll with output accumulated since the
// caller's previous poll.
type ProcessPollResult struct {
	SessionID string        `json:"session_id"`
	Status    ProcessStatus `json:"status"`
	Exited    bool          `json:"exited"`
	NewOutput string        `json:"new_output"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	Truncated bool          `json:"truncated"`
}

// ProcessLogView is a random-access window over a session's full buffer,
// independent of the poll cursor.
type ProcessLogView struct {
	SessionID string `json:"session_id"`
	Output    string `json:"output"`
	Offset    int    `json:"offset"`
	TotalLen  int    `json:"total_len"`
	HasMore   bool   `json:"has_more"`
	Tail      string `json:"tail"`
}

// ProcessListEntry is a summary view of a session for the list action.
type ProcessListEntry struct {
	ID        string        `json:"id"`
	Command   string        `json:"command"`
	PID       int           `json:"pid"`
	Status    ProcessStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	ExitCode  *int          `json:"exit_code,omitempty"`
}
