// Package polling implements the consumer side of the status protocol:
// repeated snapshot fetches with exponential backoff on transport failure.
package polling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/errors"
)

// StatusFetcher retrieves one status snapshot. Implementations wrap whatever
// transport reaches the investigation service.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, id uuid.UUID) (*assessment.StatusSnapshot, error)
}

// Config tunes the polling cadence and failure budget
type Config struct {
	// Interval between polls while the investigation is running
	Interval time.Duration

	// BackoffBase is the first retry delay after a transport failure;
	// subsequent consecutive failures double it up to BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// MaxAttempts is the consecutive-failure budget. A successful poll
	// resets it; a running investigation never consumes it.
	MaxAttempts int
}

// Client polls an investigation until it reaches a terminal status
type Client struct {
	fetcher StatusFetcher
	cfg     Config
	logger  *zap.Logger
}

func NewClient(fetcher StatusFetcher, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Poll fetches a single snapshot
func (c *Client) Poll(ctx context.Context, id uuid.UUID) (*assessment.StatusSnapshot, error) {
	return c.fetcher.FetchStatus(ctx, id)
}

// WaitForTerminal polls until the investigation reaches a terminal status.
// Valid running responses re-poll at the configured interval without
// consuming the failure budget; transport failures back off exponentially
// and exhaust into PollingExhausted after MaxAttempts consecutive misses.
func (c *Client) WaitForTerminal(ctx context.Context, id uuid.UUID) (*assessment.StatusSnapshot, error) {
	consecutiveFailures := 0

	for {
		snapshot, err := c.fetcher.FetchStatus(ctx, id)
		if err != nil {
			consecutiveFailures++
			c.logger.Warn("status poll failed",
				zap.String("investigation_id", id.String()),
				zap.Int("consecutive_failures", consecutiveFailures),
				zap.Error(err))

			if consecutiveFailures >= c.cfg.MaxAttempts {
				return nil, errors.NewPollingExhaustedError(consecutiveFailures)
			}
			if err := c.sleep(ctx, c.backoff(consecutiveFailures)); err != nil {
				return nil, err
			}
			continue
		}

		consecutiveFailures = 0
		if snapshot.Terminal {
			return snapshot, nil
		}

		if err := c.sleep(ctx, c.cfg.Interval); err != nil {
			return nil, err
		}
	}
}

// backoff returns base*2^(k-1) for the k-th consecutive failure, capped
func (c *Client) backoff(failures int) time.Duration {
	d := c.cfg.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= c.cfg.BackoffCap {
			return c.cfg.BackoffCap
		}
	}
	if d > c.cfg.BackoffCap {
		return c.cfg.BackoffCap
	}
	return d
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
