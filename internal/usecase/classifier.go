package usecase

import (
	"context"
	"errors"
	"strings"

	"warden-ai/internal/domain"
)

// RunClass labels how a run attempt ended, for telemetry.
type RunClass string

const (
	RunClassOK         RunClass = "ok"
	RunClassValidation RunClass = "validation"
	RunClassTimeout    RunClass = "transport_timeout"
	RunClassWorker     RunClass = "worker_fault"
	RunClassCapacity   RunClass = "capacity"
	RunClassCancelled  RunClass = "cancelled"
	RunClassInternal   RunClass = "internal"
)

// ClassifyRunError maps an execution error onto the run taxonomy. Sentinels
// win; a string scan catches errors that crossed the file boundary as plain
// text.
func ClassifyRunError(err error) RunClass {
	if err == nil {
		return RunClassOK
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return RunClassValidation
	case errors.Is(err, domain.ErrTimeout):
		return RunClassTimeout
	case errors.Is(err, domain.ErrWorkerFault), errors.Is(err, domain.ErrSandboxDown):
		return RunClassWorker
	case errors.Is(err, domain.ErrLimitReached):
		return RunClassCapacity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return RunClassCancelled
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"):
		return RunClassTimeout
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "missing"):
		return RunClassValidation
	case strings.Contains(lower, "limit reached"), strings.Contains(lower, "capacity"):
		return RunClassCapacity
	}
	return RunClassInternal
}
