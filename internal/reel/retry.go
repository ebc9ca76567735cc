package reel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy describes how URL resolution is polled after an upload:
// wait SettleDelay, try; then before attempt n (n >= 2) wait
// BaseDelay * Multiplier^(n-2), up to MaxAttempts attempts in total.
type RetryPolicy struct {
	MaxAttempts int
	SettleDelay time.Duration
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultResolvePolicy polls 5 times: settle 2s, then 2s, 4s, 8s, 16s between attempts.
func DefaultResolvePolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		SettleDelay: 2 * time.Second,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
	}
}

// Delay returns the wait before the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.SettleDelay
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt-2)))
}

// TotalDelay is the sum of waits before the first n attempts.
func (p RetryPolicy) TotalDelay(n int) time.Duration {
	var total time.Duration
	for i := 1; i <= n; i++ {
		total += p.Delay(i)
	}
	return total
}

// Backoff returns the waits between attempts as a go-retry Backoff.
// It yields MaxAttempts-1 values and then stops.
func (p RetryPolicy) Backoff() retry.Backoff {
	attempt := 1
	next := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return p.Delay(attempt), false
	})
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return retry.WithMaxRetries(uint64(retries), next)
}

func (p RetryPolicy) validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.SettleDelay < 0 || p.BaseDelay < 0 {
		return fmt.Errorf("retry policy: delays must not be negative")
	}
	return nil
}

// Poll runs fn under policy p, sleeping with s. fn reports a miss by
// returning retryable=true; any other error ends polling immediately.
// It returns the number of attempts made. Exhausting the budget yields ErrPermanentIO.
func Poll(ctx context.Context, p RetryPolicy, s Sleeper, fn func(ctx context.Context, attempt int) (retryable bool, err error)) (int, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}

	backoff := p.Backoff()
	wait := p.SettleDelay
	attempt := 0
	var last error
	for {
		if err := s.Sleep(ctx, wait); err != nil {
			return attempt, fmt.Errorf("%w: waiting before attempt %d: %w", ErrTransientIO, attempt+1, err)
		}
		attempt++

		retryable, err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !retryable {
			return attempt, err
		}
		last = err

		next, stop := backoff.Next()
		if stop {
			return attempt, fmt.Errorf("%w: gave up after %d attempts: %w", ErrPermanentIO, attempt, last)
		}
		wait = next
	}
}

// resolveURL polls blobs.ResolveURL for path until it yields a URL.
// ErrNotYetAvailable is retried; other errors are transient and returned at once.
func resolveURL(ctx context.Context, blobs BlobStore, objectPath string, p RetryPolicy, s Sleeper, logger Logger) (string, int, error) {
	var resolved string
	attempts, err := Poll(ctx, p, s, func(ctx context.Context, attempt int) (bool, error) {
		u, err := blobs.ResolveURL(ctx, objectPath)
		if err == nil {
			resolved = u
			return false, nil
		}
		if errors.Is(err, ErrNotYetAvailable) {
			logger.Debug("object url not yet available", "path", objectPath, "attempt", attempt)
			return true, err
		}
		return false, transient(err)
	})
	if err != nil {
		return "", attempts, fmt.Errorf("resolving url for %s: %w", objectPath, err)
	}
	return resolved, attempts, nil
}
