package usecase

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAgentSemaphoreCapsConcurrency(t *testing.T) {
	const capacity = 3
	const callers = capacity + 4

	sem := NewAgentSemaphore(capacity)

	var mu sync.Mutex
	var inFlight, maxInFlight int

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sem.Run(context.Background(), func(context.Context) error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				time.Sleep(20 * time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight > capacity {
		t.Errorf("max in flight = %d, want <= %d", maxInFlight, capacity)
	}
	if maxInFlight == 0 {
		t.Error("nothing ran")
	}
}

func TestAgentSemaphoreReleasesOnError(t *testing.T) {
	sem := NewAgentSemaphore(1)

	wantErr := context.DeadlineExceeded
	if err := sem.Run(context.Background(), func(context.Context) error {
		return wantErr
	}); err != wantErr {
		t.Fatalf("Run error = %v, want %v", err, wantErr)
	}

	// Permit must be free again.
	done := make(chan struct{})
	go func() {
		_ = sem.Run(context.Background(), func(context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("permit leaked after error path")
	}
}

func TestAgentSemaphoreHonorsContext(t *testing.T) {
	sem := NewAgentSemaphore(1)

	release := make(chan struct{})
	go func() {
		_ = sem.Run(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond) // let the holder acquire

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := sem.Run(ctx, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected context error while permit held")
	}
	close(release)
}

func TestAgentSemaphoreDefaultsCapacity(t *testing.T) {
	if got := NewAgentSemaphore(0).Capacity(); got != 1 {
		t.Errorf("Capacity = %d, want 1", got)
	}
}
