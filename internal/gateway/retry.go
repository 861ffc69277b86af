// File: internal/gateway/retry.go
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulnsync-cli/internal/config"
)

// RetryPolicy is the explicit backoff policy applied around gateway
// mutations. One instance is shared per run; attempts' state lives per call.
type RetryPolicy struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *zap.Logger
}

// NewRetryPolicy builds a policy from configuration.
func NewRetryPolicy(cfg config.RetryConfig, logger *zap.Logger) *RetryPolicy {
	return &RetryPolicy{
		maxAttempts:     cfg.MaxAttempts,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
		logger:          logger.Named("retry"),
	}
}

// Do runs fn, retrying transient and rate-limited gateway errors with capped
// exponential backoff. Permanent errors (NotFound, PermissionDenied,
// InvalidInput) and context cancellation surface immediately. When the
// tracker supplied a retry-after hint, it acts as the floor for the next
// delay, so a secondary rate limit asking for 30s always waits at least that
// long.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialInterval
	bo.MaxInterval = p.maxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.maxAttempts {
			break
		}

		delay := bo.NextBackOff()
		var ge *Error
		if errors.As(lastErr, &ge) && ge.RetryAfter > delay {
			delay = ge.RetryAfter
		}

		p.logger.Warn("Gateway call failed, backing off",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
