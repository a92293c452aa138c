package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"warden-ai/internal/domain"
	"warden-ai/internal/usecase"
)

type stubRunner struct {
	result *usecase.RunResult
	err    error
	last   usecase.RunParams
}

func (s *stubRunner) ExecuteAgentRun(_ context.Context, params usecase.RunParams) (*usecase.RunResult, error) {
	s.last = params
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestServer(runner Runner) *WebhookServer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWebhookServer(WebhookConfig{
		Listen:         "127.0.0.1:0",
		RequestsPerMin: 600,
		Burst:          10,
	}, runner, logger)
}

func post(t *testing.T, s *WebhookServer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWebhookTriggerSuccess(t *testing.T) {
	runner := &stubRunner{result: &usecase.RunResult{
		Output:  "done",
		Context: &domain.RunContext{RunID: "run-1"},
	}}
	s := newTestServer(runner)

	rec := post(t, s, `{"group_key":"g1","channel_id":"c1","prompt":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp TriggerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.RunID != "run-1" || resp.Output != "done" {
		t.Fatalf("resp = %+v", resp)
	}
	if runner.last.GroupKey != "g1" || runner.last.Prompt != "hello" {
		t.Fatalf("params = %+v", runner.last)
	}
}

func TestWebhookRejectsMissingFields(t *testing.T) {
	s := newTestServer(&stubRunner{result: &usecase.RunResult{}})

	for _, body := range []string{
		`{"prompt":"p"}`,
		`{"group_key":"g"}`,
		`not json`,
	} {
		rec := post(t, s, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	s := newTestServer(&stubRunner{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestWebhookErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.NewSubSystemError("exchange", "op", domain.ErrTimeout, "x"), http.StatusGatewayTimeout},
		{domain.NewSubSystemError("exchange", "op", domain.ErrSandboxDown, "x"), http.StatusServiceUnavailable},
		{domain.NewSubSystemError("worker", "op", domain.ErrInvalidInput, "x"), http.StatusBadRequest},
		{domain.NewSubSystemError("worker", "op", domain.ErrWorkerFault, "x"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s := newTestServer(&stubRunner{err: tc.err})
		rec := post(t, s, `{"group_key":"g","prompt":"p"}`)
		if rec.Code != tc.want {
			t.Errorf("err %v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestWebhookRateLimit(t *testing.T) {
	runner := &stubRunner{result: &usecase.RunResult{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewWebhookServer(WebhookConfig{
		Listen:         "127.0.0.1:0",
		RequestsPerMin: 60,
		Burst:          2,
	}, runner, logger)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := post(t, s, `{"group_key":"g","prompt":"p"}`)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst requests rejected: %v", codes)
	}
	limited := false
	for _, c := range codes[2:] {
		if c == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Fatalf("no request was rate limited: %v", codes)
	}
}
