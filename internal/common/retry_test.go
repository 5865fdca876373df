package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func fastRetryPolicy() *RetryPolicy {
	p := NewRetryPolicy()
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 5 * time.Millisecond
	p.Jitter = false
	return p
}

func TestNewRetryPolicy(t *testing.T) {
	p := NewRetryPolicy()

	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.InitialBackoff != time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", p.InitialBackoff)
	}
	if p.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", p.MaxBackoff)
	}
	if p.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", p.BackoffMultiplier)
	}
	if !p.Jitter {
		t.Error("Jitter should default to true")
	}

	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !p.isRetryableStatusCode(code) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	if p.isRetryableStatusCode(404) {
		t.Error("status 404 should not be retryable")
	}
}

func TestShouldRetry(t *testing.T) {
	p := NewRetryPolicy()

	tests := []struct {
		name       string
		attempt    int
		statusCode int
		err        error
		want       bool
	}{
		{"attempts exhausted", 3, 503, nil, false},
		{"service unavailable", 0, 503, nil, true},
		{"rate limited", 1, 429, nil, true},
		{"request timeout status", 0, 408, nil, true},
		{"not found", 0, 404, nil, false},
		{"bad request", 0, 400, nil, false},
		{"unlisted server error", 0, 501, nil, false},
		{"deadline exceeded", 0, 0, context.DeadlineExceeded, true},
		{"network timeout", 0, 0, timeoutError{}, true},
		{"plain error", 0, 0, errors.New("boom"), false},
		{"no signal", 0, 0, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.ShouldRetry(tt.attempt, tt.statusCode, tt.err)
			if got != tt.want {
				t.Errorf("ShouldRetry(%d, %d, %v) = %v, want %v", tt.attempt, tt.statusCode, tt.err, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	p := NewRetryPolicy()
	p.Jitter = false

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{10, 30 * time.Second}, // capped at MaxBackoff
	}

	for _, tt := range tests {
		if got := p.CalculateBackoff(tt.attempt); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateBackoffJitterBounds(t *testing.T) {
	p := NewRetryPolicy()

	// Jitter is ±25% around the base delay
	for i := 0; i < 50; i++ {
		d := p.CalculateBackoff(0)
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("CalculateBackoff(0) = %v, want within [750ms, 1250ms]", d)
		}
	}
}

func TestExecuteWithRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	status, err := fastRetryPolicy().ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		return 200, nil
	})

	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteWithRetryRetriesUntilSuccess(t *testing.T) {
	calls := 0
	status, err := fastRetryPolicy().ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		if calls < 3 {
			return 503, errors.New("service unavailable")
		}
		return 200, nil
	})

	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteWithRetryRetryableStatusWithoutError(t *testing.T) {
	calls := 0
	status, err := fastRetryPolicy().ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		if calls == 1 {
			return 429, nil
		}
		return 200, nil
	})

	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (429 retries even without error)", calls)
	}
}

func TestExecuteWithRetryNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	status, err := fastRetryPolicy().ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		return 404, errors.New("not found")
	})

	if err == nil {
		t.Fatal("ExecuteWithRetry() expected error")
	}
	if status != 404 {
		t.Errorf("status = %d, want 404", status)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	status, err := fastRetryPolicy().ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		return 503, errors.New("still down")
	})

	if err == nil {
		t.Fatal("ExecuteWithRetry() expected error after exhausting attempts")
	}
	if status != 503 {
		t.Errorf("status = %d, want 503", status)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteWithRetryDelayOverride(t *testing.T) {
	p := fastRetryPolicy()

	overrideCalls := 0
	p.DelayOverride = func(attempt int, statusCode int, err error) (time.Duration, bool) {
		overrideCalls++
		if statusCode != 429 {
			t.Errorf("override statusCode = %d, want 429", statusCode)
		}
		return 0, true
	}

	calls := 0
	_, err := p.ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		return 429, errors.New("rate limited")
	})

	if err == nil {
		t.Fatal("ExecuteWithRetry() expected error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Backoff runs between attempts, so one fewer than the attempt count
	if overrideCalls != 2 {
		t.Errorf("overrideCalls = %d, want 2", overrideCalls)
	}
}

func TestExecuteWithRetryHonorsCancelledContext(t *testing.T) {
	p := NewRetryPolicy()
	p.InitialBackoff = time.Hour
	p.Jitter = false

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := p.ExecuteWithRetry(ctx, arbor.NewLogger(), func() (int, error) {
		calls++
		cancel()
		return 503, errors.New("service unavailable")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ExecuteWithRetry() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
