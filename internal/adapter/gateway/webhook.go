package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"warden-ai/internal/domain"
	"warden-ai/internal/usecase"
)

// Runner executes one agent run. *usecase.Coordinator satisfies it.
type Runner interface {
	ExecuteAgentRun(ctx context.Context, params usecase.RunParams) (*usecase.RunResult, error)
}

// WebhookConfig holds the trigger endpoint settings.
type WebhookConfig struct {
	Listen         string
	RequestsPerMin int
	Burst          int
}

// TriggerRequest is the JSON body accepted by POST /api/v1/runs.
type TriggerRequest struct {
	GroupKey  string `json:"group_key"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id,omitempty"`
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// TriggerResponse is returned on success.
type TriggerResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Output string `json:"output"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// WebhookServer exposes a single POST endpoint that triggers an agent run.
// Requests beyond the token-bucket budget are rejected with 429.
type WebhookServer struct {
	runner  Runner
	limiter *rate.Limiter
	logger  *slog.Logger
	server  *http.Server
}

// NewWebhookServer creates the trigger endpoint server.
func NewWebhookServer(cfg WebhookConfig, runner Runner, logger *slog.Logger) *WebhookServer {
	s := &WebhookServer{
		runner:  runner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMin)/60.0, cfg.Burst),
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", s.handleTrigger)
	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *WebhookServer) ListenAndServe() error {
	s.logger.Info("webhook gateway listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *WebhookServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *WebhookServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *WebhookServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.GroupKey == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "group_key and prompt are required")
		return
	}
	if req.ChannelID == "" {
		req.ChannelID = "webhook"
	}

	params := usecase.RunParams{
		GroupKey:  req.GroupKey,
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		Prompt:    req.Prompt,
		SessionID: req.SessionID,
	}
	if req.TimeoutMs > 0 {
		params.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	result, err := s.runner.ExecuteAgentRun(r.Context(), params)
	if err != nil {
		s.logger.Warn("webhook run failed", "group", req.GroupKey, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := TriggerResponse{Status: "success", Output: result.Output}
	if result.Context != nil {
		resp.RunID = result.Context.RunID
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// statusFor maps run failures onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrSandboxDown), errors.Is(err, domain.ErrLimitReached):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
