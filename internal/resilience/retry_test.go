package resilience

import (
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(maxAttempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Errorf("Retry() = %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, fastRetryConfig(3), nil)

	if err != nil {
		t.Errorf("Retry() = %v, want nil after recovery", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("persistent error")
	attempts := 0
	err := Retry(func() error {
		attempts++
		return wantErr
	}, fastRetryConfig(2), nil)

	if !errors.Is(err, wantErr) {
		t.Errorf("Retry() = %v, want the last error", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		return errors.New("invalid api key")
	}, fastRetryConfig(3), IsRetryableNetworkError)

	if err == nil {
		t.Error("expected the non-retryable error to surface")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for non-retryable error", attempts)
	}
}

func TestRetry_RetryableKeepsGoing(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		return errors.New("connection refused")
	}, fastRetryConfig(3), IsRetryableNetworkError)

	if err == nil {
		t.Error("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 for retryable error", attempts)
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"unavailable", errors.New("rpc error: code = unavailable"), true},
		{"deadline exceeded", errors.New("context deadline exceeded"), true},
		{"io timeout", errors.New("read tcp: i/o timeout"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"auth failure", errors.New("invalid api key"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableNetworkError(tt.err); got != tt.want {
				t.Errorf("IsRetryableNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
