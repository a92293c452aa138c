package usecase

import (
	"context"
	"fmt"
	"sync"
)

// GroupLock provides run-level mutual exclusion per conversation group.
// No two agent runs for the same group key overlap; waiters for one key
// queue without affecting other keys.
type GroupLock struct {
	mu     sync.Mutex
	groups map[string]*groupGate
}

// groupGate is a one-slot token channel. Holding the token means holding
// the group. holders counts lock holders plus queued waiters so the entry
// can be dropped from the map once the last one leaves.
type groupGate struct {
	sem     chan struct{}
	holders int
}

// NewGroupLock creates a new group lock.
func NewGroupLock() *GroupLock {
	return &GroupLock{
		groups: make(map[string]*groupGate),
	}
}

// Lock acquires the lock for groupKey, blocking until it is held or ctx is
// cancelled. On success the returned unlock function MUST be called.
func (gl *GroupLock) Lock(ctx context.Context, groupKey string) (func(), error) {
	gate := gl.checkout(groupKey)

	select {
	case gate.sem <- struct{}{}:
		return func() {
			<-gate.sem
			gl.checkin(groupKey, gate)
		}, nil
	case <-ctx.Done():
		gl.checkin(groupKey, gate)
		return nil, fmt.Errorf("group lock: %w", ctx.Err())
	}
}

// With runs op while holding the group's lock, releasing it on every exit
// path.
func (gl *GroupLock) With(ctx context.Context, groupKey string, op func(context.Context) error) error {
	unlock, err := gl.Lock(ctx, groupKey)
	if err != nil {
		return err
	}
	defer unlock()
	return op(ctx)
}

// ActiveCount returns the number of groups with active or pending locks.
// Intended for testing.
func (gl *GroupLock) ActiveCount() int {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	return len(gl.groups)
}

// checkout registers interest in a group, creating its gate on first use.
func (gl *GroupLock) checkout(groupKey string) *groupGate {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	gate, ok := gl.groups[groupKey]
	if !ok {
		gate = &groupGate{sem: make(chan struct{}, 1)}
		gl.groups[groupKey] = gate
	}
	gate.holders++
	return gate
}

// checkin withdraws interest; the last caller out removes the map entry.
func (gl *GroupLock) checkin(groupKey string, gate *groupGate) {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	gate.holders--
	if gate.holders == 0 {
		delete(gl.groups, groupKey)
	}
}
