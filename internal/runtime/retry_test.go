package runtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, Multiplier: 1.0, MaxDelay: 10 * time.Millisecond}
}

func TestRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if !policy.ShouldRetry(errors.New("connection refused"), 1) {
		t.Error("expected connection error to be retryable")
	}
	if !policy.ShouldRetry(errors.New("POST /v1/messages: 429 Too Many Requests"), 1) {
		t.Error("expected rate limit to be retryable")
	}
	if policy.ShouldRetry(errors.New("error"), 3) {
		t.Error("should not retry at max attempts")
	}

	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second} {
		if got := policy.NextDelay(attempt); got != want {
			t.Errorf("NextDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestRetryPolicyNonRetryable(t *testing.T) {
	policy := DefaultRetryPolicy()
	for _, msg := range []string{"invalid request", "unauthorized", "forbidden", "401 Unauthorized"} {
		if policy.ShouldRetry(errors.New(msg), 1) {
			t.Errorf("expected %q to be non-retryable", msg)
		}
	}
	if policy.ShouldRetry(nil, 1) {
		t.Error("nil error should not be retryable")
	}
	if policy.ShouldRetry(context.Canceled, 1) {
		t.Error("cancellation should not be retryable")
	}
}

func TestRetryPolicyMaxDelayCap(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 10, InitialDelay: time.Second, Multiplier: 10.0, MaxDelay: 30 * time.Second}
	if delay := policy.NextDelay(5); delay != policy.MaxDelay {
		t.Errorf("delay %v, want cap %v", delay, policy.MaxDelay)
	}
}

func TestRetryPolicyExecute(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("expected success on third call, got %v after %d calls", err, calls)
	}

	calls = 0
	err = fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		return errors.New("invalid request")
	})
	if err == nil || calls != 1 {
		t.Errorf("expected one call for permanent error, got %d (%v)", calls, err)
	}

	calls = 0
	err = fastPolicy(2).Execute(context.Background(), func() error {
		calls++
		return errors.New("timeout")
	})
	if err == nil || calls != 2 {
		t.Errorf("expected 2 calls then error, got %d (%v)", calls, err)
	}
}

func TestRetryPolicyExecuteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	policy := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour}
	err := policy.Execute(ctx, func() error {
		calls++
		return errors.New("timeout")
	})
	if err == nil || calls != 1 {
		t.Errorf("expected a single attempt, got %d (%v)", calls, err)
	}
}
