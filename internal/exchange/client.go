package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"warden-ai/internal/domain"
)

// Default client timings.
const (
	defaultPollInterval = 250 * time.Millisecond
	defaultRunDeadline  = 5 * time.Minute
)

// ClientConfig holds timing configuration for the host-side client.
type ClientConfig struct {
	PollInterval time.Duration // response poll cadence (default: 250ms)
	RunDeadline  time.Duration // overall RPC deadline (default: 5m)
}

// Client is the host side of the exchange: it writes request records and
// awaits the matching response file. There is no cross-boundary cancellation:
// when the deadline fires the host stops waiting, but the sandbox may keep
// working on the request.
type Client struct {
	dirs   Dirs
	config ClientConfig
	logger *slog.Logger
}

// NewClient creates a Client over the given exchange area.
func NewClient(dirs Dirs, cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RunDeadline <= 0 {
		cfg.RunDeadline = defaultRunDeadline
	}
	return &Client{dirs: dirs, config: cfg, logger: logger}
}

// Execute submits one request and blocks until its response arrives, the
// per-request (or default) deadline expires, or ctx is cancelled. The
// response file is consumed: read once, then removed.
func (c *Client) Execute(ctx context.Context, req *domain.AgentRunRequest) (*domain.AgentRunResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("exchange client: marshal request: %w", err)
	}
	if err := writeAtomic(c.dirs.RequestPath(req.ID), data); err != nil {
		return nil, err
	}
	c.logger.Debug("request submitted", "run_id", req.ID, "group", req.GroupKey)

	deadline := c.config.RunDeadline
	if req.Timeouts != nil && req.Timeouts.RunMs > 0 {
		deadline = time.Duration(req.Timeouts.RunMs) * time.Millisecond
	}
	interval := c.config.PollInterval
	if req.Timeouts != nil && req.Timeouts.PollMs > 0 {
		interval = time.Duration(req.Timeouts.PollMs) * time.Millisecond
	}

	return c.await(ctx, req.ID, deadline, interval)
}

func (c *Client) await(ctx context.Context, id string, deadline, interval time.Duration) (*domain.AgentRunResponse, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	path := c.dirs.ResponsePath(id)
	for {
		if resp, found, err := c.tryConsume(path, id); found {
			return resp, err
		}

		select {
		case <-ctx.Done():
			return nil, domain.NewSubSystemError("exchange", "Client.Execute", ctx.Err(), id)
		case <-timer.C:
			return nil, domain.NewSubSystemError("exchange", "Client.Execute", domain.ErrTimeout,
				fmt.Sprintf("no response for %s within %s", id, deadline))
		case <-ticker.C:
		}
	}
}

// tryConsume reads and removes the response file if present. found is true
// once the file existed, even when it turned out to be unreadable; the
// request was claimed, so retrying cannot help.
func (c *Client) tryConsume(path, id string) (*domain.AgentRunResponse, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, domain.NewSubSystemError("exchange", "Client.Execute", domain.ErrWorkerFault, err.Error())
	}
	if rmErr := os.Remove(path); rmErr != nil {
		c.logger.Warn("failed to remove response file", "run_id", id, "error", rmErr)
	}

	resp, err := DecodeResponse(data)
	if err != nil {
		return nil, true, err
	}
	if resp.ID != id {
		return nil, true, domain.NewSubSystemError("exchange", "Client.Execute", domain.ErrWorkerFault,
			fmt.Sprintf("response id %q does not match request %q", resp.ID, id))
	}
	return resp, true, nil
}
