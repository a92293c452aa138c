package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"warden-ai/internal/usecase"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls []usecase.RunParams
}

func (r *recordingRunner) ExecuteAgentRun(_ context.Context, params usecase.RunParams) (*usecase.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, params)
	return &usecase.RunResult{Output: "ok"}, nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerFiresJob(t *testing.T) {
	runner := &recordingRunner{}
	s := New(runner, 0, discardLogger())

	err := s.AddJob(Job{
		Name:     "heartbeat",
		Schedule: "20ms",
		GroupKey: "cron:heartbeat",
		Channel:  "system",
		Prompt:   "check in",
	})
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runner.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runner.count() < 2 {
		t.Fatalf("job fired %d times, want at least 2", runner.count())
	}

	runner.mu.Lock()
	first := runner.calls[0]
	runner.mu.Unlock()
	if !first.IsScheduled {
		t.Error("scheduled run must set IsScheduled")
	}
	if first.IsMain {
		t.Error("scheduled run must not claim the main role")
	}
	if first.GroupKey != "cron:heartbeat" {
		t.Errorf("group = %q, want cron:heartbeat", first.GroupKey)
	}
}

func TestSchedulerStopPreventsFiring(t *testing.T) {
	runner := &recordingRunner{}
	s := New(runner, 0, discardLogger())

	if err := s.AddJob(Job{Name: "j", Schedule: "20ms", GroupKey: "g", Prompt: "p"}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	n := runner.count()
	time.Sleep(60 * time.Millisecond)
	if runner.count() != n {
		t.Fatalf("job fired after Stop: %d -> %d", n, runner.count())
	}
}

// Firings spawned right before Stop must not block it: fire takes the
// mutex to read the run context, so Stop cannot hold it while draining.
func TestSchedulerStopReturnsUnderLoad(t *testing.T) {
	runner := &recordingRunner{}
	s := New(runner, 0, discardLogger())

	for i := 0; i < 50; i++ {
		if err := s.AddJob(Job{Name: "burst", Schedule: "1ms", GroupKey: "g", Prompt: "p"}); err != nil {
			t.Fatalf("AddJob: %v", err)
		}
	}
	s.Start(context.Background())
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while jobs were firing")
	}
}

func TestParseScheduleRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "whenever", "-5s", "0s"} {
		if _, err := parseSchedule(in); err == nil {
			t.Errorf("parseSchedule(%q): expected error", in)
		}
	}
	for _, in := range []string{"*/5 * * * *", "@hourly", "30m", "50ms"} {
		if _, err := parseSchedule(in); err != nil {
			t.Errorf("parseSchedule(%q): %v", in, err)
		}
	}
}
