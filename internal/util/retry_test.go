package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastConfig keeps test backoff in the low milliseconds.
func fastConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestRetryImmediateSuccess(t *testing.T) {
	calls := 0
	result := Retry(context.Background(), nil, func() error {
		calls++
		return nil
	})

	if calls != 1 || result.Attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1/1", calls, result.Attempts)
	}
	if result.LastError != nil {
		t.Errorf("unexpected error: %v", result.LastError)
	}
}

func TestRetryRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	result := Retry(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("relay not reachable yet")
		}
		return nil
	})

	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if result.LastError != nil {
		t.Errorf("success must clear earlier failures, got %v", result.LastError)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	connErr := errors.New("connection refused")
	result := Retry(context.Background(), fastConfig(3), func() error {
		return connErr
	})

	// One initial attempt plus three retries.
	if result.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", result.Attempts)
	}
	if !errors.Is(result.LastError, ErrMaxRetriesExceeded) {
		t.Error("final error must carry ErrMaxRetriesExceeded")
	}
	if !errors.Is(result.LastError, connErr) {
		t.Error("final error must carry the underlying failure")
	}
}

func TestRetryStopsWhenCallerAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := &RetryConfig{
		MaxRetries: -1,
		BaseDelay:  50 * time.Millisecond,
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := Retry(ctx, cfg, func() error {
		return errors.New("still down")
	})

	if !errors.Is(result.LastError, ErrContextCanceled) {
		t.Errorf("want ErrContextCanceled, got %v", result.LastError)
	}
}

func TestRetryIfStopsOnPermanentError(t *testing.T) {
	transient := errors.New("timeout")
	permanent := errors.New("peer id malformed")

	cfg := fastConfig(5)
	cfg.RetryIf = func(err error) bool { return errors.Is(err, transient) }

	calls := 0
	Retry(context.Background(), cfg, func() error {
		calls++
		if calls == 1 {
			return transient
		}
		return permanent
	})

	if calls != 2 {
		t.Errorf("calls = %d, want 2: one transient retry, then a permanent stop", calls)
	}
}

func TestRetryWithValueReturnsValue(t *testing.T) {
	calls := 0
	addr, result := RetryWithValue(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("not listening yet")
		}
		return "127.0.0.1:9050", nil
	})

	if addr != "127.0.0.1:9050" {
		t.Errorf("value = %q", addr)
	}
	if result.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", result.Attempts)
	}
}

func TestRetryWithValueZeroOnFailure(t *testing.T) {
	count, result := RetryWithValue(context.Background(), fastConfig(1), func() (int, error) {
		return 7, errors.New("no")
	})

	if count != 0 {
		t.Errorf("failed retry must return the zero value, got %d", count)
	}
	if !errors.Is(result.LastError, ErrMaxRetriesExceeded) {
		t.Error("want ErrMaxRetriesExceeded")
	}
}

func TestCalculateDelayGrowth(t *testing.T) {
	cfg := &RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	for attempt, want := range map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		4: 800 * time.Millisecond,
		5: time.Second, // capped
	} {
		if got := calculateDelay(cfg, attempt); got != want {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, got, want)
		}
	}
}

func TestCalculateDelayJitterStaysInRange(t *testing.T) {
	cfg := &RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     0.5,
	}

	for i := 0; i < 200; i++ {
		d := calculateDelay(cfg, 1)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v escaped the +/-50%% band", d)
		}
	}
}
