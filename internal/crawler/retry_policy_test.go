package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestExponentialRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(DefaultRetryConfig())
	require.Equal(t, 2*time.Second, p.Backoff(0))
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 4*time.Second, p.Backoff(2))
	require.Equal(t, 8*time.Second, p.Backoff(3))
	require.Equal(t, 10*time.Second, p.Backoff(4))
	require.Equal(t, 10*time.Second, p.Backoff(10))
}

func TestExponentialRetryPolicyJitterStaysInRange(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{MaxAttempts: 3, Multiplier: time.Second, MinDelay: 0, MaxDelay: 8 * time.Second, Jitter: true})
	for i := 0; i < 20; i++ {
		d := p.Backoff(2)
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.LessOrEqual(t, d, 4*time.Second)
	}
}

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(DefaultRetryConfig())
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil", err: nil, attempt: 1, want: false},
		{name: "transient", err: fmt.Errorf("status 503: %w", ErrTransient), attempt: 1, want: true},
		{name: "transient last attempt", err: ErrTransient, attempt: 3, want: false},
		{name: "rate limited", err: ErrRateLimited, attempt: 1, want: false},
		{name: "not found", err: ErrNotFound, attempt: 1, want: false},
		{name: "malformed", err: ErrMalformed, attempt: 1, want: false},
		{name: "canceled", err: context.Canceled, attempt: 1, want: false},
		{name: "net timeout", err: timeoutErr{}, attempt: 1, want: true},
		{name: "unknown", err: errors.New("boom"), attempt: 1, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, p.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	var waits []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	err := Retry(context.Background(), NewExponentialRetryPolicy(DefaultRetryConfig()), sleep, func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
}

func TestRetryHonorsCanceledSleep(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, NewExponentialRetryPolicy(DefaultRetryConfig()), nil, func(context.Context) error {
		return ErrTransient
	})
	require.ErrorIs(t, err, context.Canceled)
}
