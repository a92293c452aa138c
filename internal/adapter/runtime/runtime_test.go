package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"warden-ai/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest() *domain.AgentRunRequest {
	return &domain.AgentRunRequest{
		ID:        "run-42",
		Prompt:    "hello",
		GroupKey:  "g",
		ChannelID: "c",
	}
}

func TestExecRunnerRoundTrip(t *testing.T) {
	// The fake runtime echoes a success response after consuming stdin.
	r := NewExecRunner("sh", []string{"-c",
		`cat > /dev/null; printf '{"status":"success","result":"hi there"}'`,
	}, 0, testLogger())

	resp, err := r.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Status != domain.RunStatusSuccess || resp.Result != "hi there" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.ID != "run-42" {
		t.Fatalf("id = %q, want request id filled in", resp.ID)
	}
}

func TestExecRunnerNonZeroExitIsWorkerFault(t *testing.T) {
	r := NewExecRunner("sh", []string{"-c", `echo boom >&2; exit 3`}, 0, testLogger())

	_, err := r.Run(context.Background(), testRequest())
	if !errors.Is(err, domain.ErrWorkerFault) {
		t.Fatalf("err = %v, want ErrWorkerFault", err)
	}
}

func TestExecRunnerGarbageOutputIsWorkerFault(t *testing.T) {
	r := NewExecRunner("sh", []string{"-c", `cat > /dev/null; echo not-json`}, 0, testLogger())

	_, err := r.Run(context.Background(), testRequest())
	if !errors.Is(err, domain.ErrWorkerFault) {
		t.Fatalf("err = %v, want ErrWorkerFault", err)
	}
}

func TestExecRunnerMissingStatusIsWorkerFault(t *testing.T) {
	r := NewExecRunner("sh", []string{"-c", `cat > /dev/null; printf '{"id":"x"}'`}, 0, testLogger())

	_, err := r.Run(context.Background(), testRequest())
	if !errors.Is(err, domain.ErrWorkerFault) {
		t.Fatalf("err = %v, want ErrWorkerFault", err)
	}
}

// A runtime that exits cleanly with a valid response is not a timeout even
// when the deadline has expired by the time Run returns. The background
// sleep keeps the output pipes open past the deadline while the shell
// itself exits 0 immediately.
func TestExecRunnerCleanExitAfterDeadlineIsNotTimeout(t *testing.T) {
	r := NewExecRunner("sh", []string{"-c",
		`cat > /dev/null; printf '{"status":"success","result":"late"}'; sleep 0.3 &`,
	}, 100*time.Millisecond, testLogger())

	resp, err := r.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Status != domain.RunStatusSuccess || resp.Result != "late" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	r := NewExecRunner("sleep", []string{"10"}, 50*time.Millisecond, testLogger())

	start := time.Now()
	_, err := r.Run(context.Background(), testRequest())
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}
}
