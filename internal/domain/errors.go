package domain

import (
	"errors"
	"fmt"
)

// Category sentinels — use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrLimitReached = fmt.Errorf("limit reached")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrDisabled     = fmt.Errorf("disabled")
)

// Sentinel errors for the domain layer.
var (
	// Exchange / coordinator errors.
	ErrWorkerFault = fmt.Errorf("worker produced no usable response")
	ErrSandboxDown = fmt.Errorf("sandbox unavailable")

	// Process registry errors.
	ErrSessionExited = fmt.Errorf("process session already exited")
	ErrStdinClosed   = fmt.Errorf("process stdin is not writable")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Coordinator.ExecuteAgentRun")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "exchange", "process")
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem. Use this
// with category sentinels (ErrNotFound, ErrTimeout, etc.) so callers can
// dispatch on the combination of sentinel and subsystem.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsCapacity reports whether err is a capacity rejection (semaphore or
// session-registry limit). Callers may surface these to users directly.
func IsCapacity(err error) bool {
	return errors.Is(err, ErrLimitReached)
}
