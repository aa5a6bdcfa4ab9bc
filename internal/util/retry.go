package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig tunes exponential backoff. The peer manager is the main
// consumer; its policy retries only transient bridge errors.
type RetryConfig struct {
	// MaxRetries bounds retries after the first attempt. 0 means try
	// once, -1 means retry until the context ends.
	MaxRetries int
	// BaseDelay is the wait after the first failure.
	BaseDelay time.Duration
	// MaxDelay caps the grown delay.
	MaxDelay time.Duration
	// Multiplier grows the delay per attempt. Values <= 0 fall back
	// to 2.0.
	Multiplier float64
	// Jitter spreads delays by +/- this fraction so reconnecting
	// nodes don't hammer a relay in lockstep.
	Jitter float64
	// RetryIf decides whether an error is worth another attempt. Nil
	// retries everything.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the general-purpose policy.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// RetryResult reports how a retry loop ended.
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

var (
	// ErrMaxRetriesExceeded joins the final attempt's error when the
	// budget runs out.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// ErrContextCanceled joins the context error when the caller
	// aborts mid-backoff.
	ErrContextCanceled = errors.New("context canceled during retry")
)

// Retry runs fn under the backoff policy.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) *RetryResult {
	_, result := RetryWithValue(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return result
}

// RetryWithValue runs a value-returning fn under the backoff policy.
// A nil config uses the defaults.
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var zero T
	result := &RetryResult{}
	start := time.Now()

	for {
		result.Attempts++

		val, err := fn()
		if err == nil {
			// A late success wipes earlier failures.
			result.LastError = nil
			result.Duration = time.Since(start)
			return val, result
		}
		result.LastError = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			result.Duration = time.Since(start)
			return zero, result
		}

		if config.MaxRetries >= 0 && result.Attempts > config.MaxRetries {
			result.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			result.Duration = time.Since(start)
			return zero, result
		}

		select {
		case <-ctx.Done():
			result.LastError = errors.Join(ErrContextCanceled, ctx.Err())
			result.Duration = time.Since(start)
			return zero, result
		case <-time.After(calculateDelay(config, result.Attempts)):
		}
	}
}

// calculateDelay grows BaseDelay geometrically, spreads it by Jitter,
// then clamps at MaxDelay.
func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))

	if config.Jitter > 0 {
		spread := delay * config.Jitter
		delay = delay - spread + rand.Float64()*2*spread
	}

	if config.MaxDelay > 0 && time.Duration(delay) > config.MaxDelay {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}
