package usecase

import (
	"context"

	"golang.org/x/sync/semaphore"

	"warden-ai/internal/domain"
)

// AgentSemaphore caps the number of sandbox invocations in flight across
// all groups. Acquisition suspends only the calling goroutine; waiters are
// served roughly in arrival order (the underlying weighted semaphore keeps
// a FIFO waiter queue), which is enough — strict FIFO is not promised.
type AgentSemaphore struct {
	sem      *semaphore.Weighted
	capacity int64
}

// NewAgentSemaphore creates a semaphore with the given capacity.
func NewAgentSemaphore(capacity int) *AgentSemaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &AgentSemaphore{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Run acquires one permit, runs op, and releases the permit on every exit
// path. Acquisition honors ctx cancellation.
func (s *AgentSemaphore) Run(ctx context.Context, op func(context.Context) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return domain.WrapOp("agent semaphore", err)
	}
	defer s.sem.Release(1)
	return op(ctx)
}

// Capacity returns the configured permit count.
func (s *AgentSemaphore) Capacity() int { return int(s.capacity) }
