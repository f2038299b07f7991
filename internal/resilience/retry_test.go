package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always fails"), 500)
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !IsExhausted(err) {
		t.Errorf("expected exhaustion error, got %v", err)
	}
	var ee *ExhaustedError
	if errors.As(err, &ee) && ee.Attempts != 3 {
		t.Errorf("expected 3 attempts recorded, got %d", ee.Attempts)
	}
}

func TestDo_NonTransientError_NoRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(), func(_ context.Context) error {
		calls++
		return errors.New("permanent error: bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if IsExhausted(err) {
		t.Error("non-transient failure must not be reported as exhaustion")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, fastConfig(), func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("temporary"), 503)
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_PreservesValue(t *testing.T) {
	var calls int
	got, err := DoVal(context.Background(), fastConfig(), func(_ context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", NewTransientError(errors.New("temporary"), 502)
		}
		return "page-3", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "page-3" {
		t.Errorf("expected value from final attempt, got %q", got)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, _ error) {
		attempts = append(attempts, attempt)
	}
	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("temporary"), 503)
	})
	if len(attempts) != 2 {
		t.Fatalf("expected 2 retry callbacks, got %d", len(attempts))
	}
	if attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("expected attempts [1 2], got %v", attempts)
	}
}

func TestDo_RateLimitedTwiceThenSucceeds(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0, // deterministic
	}

	var calls []time.Time
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls = append(calls, time.Now())
		if len(calls) < 3 {
			return NewRateLimitError(errors.New("429"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}

	// Both sleeps are at the forced maximum step, not the 1ms/2ms schedule a
	// plain transient failure would have produced.
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].Sub(calls[i-1]); gap < cfg.MaxBackoff {
			t.Errorf("sleep %d: expected at least %v, got %v", i, cfg.MaxBackoff, gap)
		}
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    10,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0, // deterministic
	}
	err := NewTransientError(errors.New("temporary"), 500)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second, // capped
	}
	for attempt, expected := range want {
		if got := Backoff(attempt, err, cfg); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", attempt, expected, got)
		}
	}
}

func TestBackoff_RateLimitForcesMaxStep(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     60 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
	if got := Backoff(0, NewRateLimitError(errors.New("429")), cfg); got != 60*time.Second {
		t.Errorf("expected max backoff on first rate-limited attempt, got %v", got)
	}
}

func TestBackoff_JitterStaysWithinCap(t *testing.T) {
	cfg := DefaultRetryConfig()
	err := NewTransientError(errors.New("temporary"), 503)
	for attempt := 0; attempt < 12; attempt++ {
		for i := 0; i < 100; i++ {
			d := Backoff(attempt, err, cfg)
			if d < 0 || d > cfg.MaxBackoff {
				t.Fatalf("attempt %d: backoff %v outside [0, %v]", attempt, d, cfg.MaxBackoff)
			}
		}
	}
}
