package executor

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"time"

	engerrors "github.com/minhtuanle/crypto-strike-bot/internal/errors"
	"github.com/minhtuanle/crypto-strike-bot/internal/exchange"
)

// RetryConfig holds configuration for retrying exchange calls.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	Jitter        bool          `json:"jitter"`
}

// DefaultRetryConfig returns the retry configuration for ordinary orders.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// ProtectiveRetryConfig returns the tighter schedule used for protective
// orders: shorter delays, more attempts. An unprotected position costs
// more per second than a burst of API calls.
func ProtectiveRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// retryDo executes fn with exponential backoff until it succeeds, returns a
// non-retryable error, exhausts its attempts, or the context is done.
func retryDo(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == cfg.MaxRetries || !retryable(err) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDelay(attempt, cfg)):
		}
	}
	return lastErr
}

// retryable classifies an error as transient.
func retryable(err error) bool {
	if exchange.IsRetryable(err) {
		return true
	}
	var ee *engerrors.EngineError
	if stderrors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := cfg.InitialDelay
	if attempt > 0 {
		delay = time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt)))
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
	}
	return delay
}
