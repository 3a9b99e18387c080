// Package retry runs an operation with exponential backoff for transient
// failures of external services.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Config struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// ShouldRetry classifies errors; nil retries everything.
	ShouldRetry func(err error) bool
}

var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// Do calls fn until it succeeds, the attempts run out, ShouldRetry rejects
// the error or ctx is cancelled. The last error is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialDelay
	policy.MaxInterval = cfg.MaxDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
