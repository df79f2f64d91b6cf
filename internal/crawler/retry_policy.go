package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"time"
)

// RetryConfig configures an ExponentialRetryPolicy.
type RetryConfig struct {
	MaxAttempts int
	Multiplier  time.Duration
	MinDelay    time.Duration
	MaxDelay    time.Duration
	// Jitter adds up to half the computed delay at random.
	Jitter bool
}

// DefaultRetryConfig matches the feed's published guidance: three attempts,
// 2s..10s exponential waits.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Multiplier:  time.Second,
		MinDelay:    2 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// ExponentialRetryPolicy implements RetryPolicy with clamped exponential backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	multiplier  time.Duration
	minDelay    time.Duration
	maxDelay    time.Duration
	jitter      bool
}

// NewExponentialRetryPolicy builds a policy, filling zero fields from DefaultRetryConfig.
func NewExponentialRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	return &ExponentialRetryPolicy{
		maxAttempts: cfg.MaxAttempts,
		multiplier:  cfg.Multiplier,
		minDelay:    cfg.MinDelay,
		maxDelay:    cfg.MaxDelay,
		jitter:      cfg.Jitter,
	}
}

// MaxAttempts reports the total number of attempts, including the first.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable. attempt is 1-based and
// counts the attempt that just failed.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	return IsRetryable(err)
}

// Backoff returns the wait before the attempt following `attempt`.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.multiplier) * math.Pow(2, float64(attempt))
	if delay < float64(p.minDelay) {
		delay = float64(p.minDelay)
	}
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	if !p.jitter {
		return time.Duration(delay)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

// IsRetryable classifies feed errors. Rate limits, missing tags, malformed
// payloads and cancellation are final.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrNotFound), errors.Is(err, ErrMalformed):
		return false
	case errors.Is(err, ErrTransient):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Retry runs fn until it succeeds, the policy gives up, or ctx ends. The
// last error is returned unchanged so callers can still classify it.
func Retry(ctx context.Context, policy RetryPolicy, sleep func(context.Context, time.Duration) error, fn func(context.Context) error) error {
	if sleep == nil {
		sleep = sleepContext
	}
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if policy == nil || !policy.ShouldRetry(err, attempt) {
			return err
		}
		if waitErr := sleep(ctx, policy.Backoff(attempt)); waitErr != nil {
			return fmt.Errorf("retry wait: %w", waitErr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
