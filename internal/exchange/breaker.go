package exchange

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"warden-ai/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration `yaml:"interval"`
}

// Submitter is the exchange surface the coordinator depends on.
type Submitter interface {
	Execute(ctx context.Context, req *domain.AgentRunRequest) (*domain.AgentRunResponse, error)
}

// BreakerClient wraps a Submitter with circuit breaker protection. A sandbox
// that stops draining requests makes every submission burn its full RPC
// deadline; after enough consecutive transport failures the circuit opens
// and callers fail fast with ErrSandboxDown instead.
type BreakerClient struct {
	inner   Submitter
	breaker *gobreaker.CircuitBreaker[*domain.AgentRunResponse]
	logger  *slog.Logger
}

// NewBreakerClient wraps inner with a circuit breaker.
// If cfg is zero-valued, sensible defaults are used.
func NewBreakerClient(inner Submitter, cfg BreakerConfig, logger *slog.Logger) *BreakerClient {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.AgentRunResponse](gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Only transport-level failures should trip the breaker. A
			// request the caller got wrong says nothing about the sandbox,
			// and a worker fault means the sandbox answered, just badly.
			return err == nil ||
				errors.Is(err, domain.ErrInvalidInput) ||
				errors.Is(err, domain.ErrWorkerFault)
		},
	})

	return &BreakerClient{inner: inner, breaker: cb, logger: logger}
}

// Execute implements Submitter. Calls are routed through the circuit breaker.
func (b *BreakerClient) Execute(ctx context.Context, req *domain.AgentRunRequest) (*domain.AgentRunResponse, error) {
	resp, err := b.breaker.Execute(func() (*domain.AgentRunResponse, error) {
		return b.inner.Execute(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewSubSystemError("exchange", "BreakerClient.Execute", domain.ErrSandboxDown, err.Error())
		}
		return nil, err
	}
	return resp, nil
}
