package capability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Retry reasons reported to OnRetry.
const (
	ReasonTimeout     = "timeout"
	ReasonRateLimited = "rate_limited"
	ReasonServerError = "server_error"
	ReasonNetwork     = "network"
)

// RetryPolicy describes how a capability call is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first call; 1 disables retries.
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	JitterMin   time.Duration `yaml:"jitter_min"`
	JitterMax   time.Duration `yaml:"jitter_max"`

	// DefaultRetryAfter is used for 429 responses without Retry-After.
	DefaultRetryAfter time.Duration `yaml:"default_retry_after"`
	// RateLimitFreeRetries is how many 429s may be retried without
	// consuming an attempt.
	RateLimitFreeRetries int `yaml:"rate_limit_free_retries"`

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, reason string, delay time.Duration, err error) `yaml:"-"`
}

// DefaultRetryPolicy: 3 attempts, 1s doubling up to 30s, up to 500ms jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		Multiplier:        2,
		MaxDelay:          30 * time.Second,
		JitterMin:         0,
		JitterMax:         500 * time.Millisecond,
		DefaultRetryAfter: 5 * time.Second,
	}
}

func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("max_attempts must be >= 1, got %d", p.MaxAttempts)
	case p.BaseDelay < 0 || p.MaxDelay < 0:
		return fmt.Errorf("retry delays must not be negative")
	case p.Multiplier < 1:
		return fmt.Errorf("multiplier must be >= 1, got %g", p.Multiplier)
	case p.JitterMin < 0 || p.JitterMax < p.JitterMin:
		return fmt.Errorf("jitter range [%v, %v] is invalid", p.JitterMin, p.JitterMax)
	case p.RateLimitFreeRetries < 0:
		return fmt.Errorf("rate_limit_free_retries must not be negative")
	}
	return nil
}

// Backoff returns the delay before retry number attempt (0-based):
// BaseDelay*Multiplier^attempt plus jitter, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if span := p.JitterMax - p.JitterMin; span > 0 {
		d += float64(p.JitterMin + time.Duration(rand.Int63n(int64(span)+1)))
	} else {
		d += float64(p.JitterMin)
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// InvokeWithRetry calls fn with a fresh per-attempt timeout until it
// succeeds, fails with a non-retryable error, or the attempt budget is
// spent. Cancelling ctx aborts immediately, including during backoff.
func InvokeWithRetry[T any](ctx context.Context, policy RetryPolicy, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return zero, ErrInvalidTimeout
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var (
		lastErr   error
		attempts  int
		freeUsed  int
		backoffNo int
	)
	for attempts < policy.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return zero, abortError(err, lastErr)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, abortError(ctxErr, err)
		}
		reason, delay, retryable := classify(err, policy)
		if !retryable {
			return zero, nonRetryable(err)
		}

		if reason == ReasonRateLimited && freeUsed < policy.RateLimitFreeRetries {
			freeUsed++
		} else {
			attempts++
			if attempts >= policy.MaxAttempts {
				break
			}
		}
		if delay == 0 {
			delay = policy.Backoff(backoffNo)
			backoffNo++
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempts+freeUsed, reason, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, abortError(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return zero, &TerminalError{Attempts: attempts, Last: lastErr}
}

// classify decides whether err is worth another attempt. A non-zero delay
// overrides the exponential schedule (Retry-After).
func classify(err error, policy RetryPolicy) (reason string, delay time.Duration, retryable bool) {
	var (
		jobErr    *JobFailedError
		remoteErr *RemoteError
	)
	switch {
	case errors.As(err, &jobErr),
		errors.Is(err, ErrNonRetryable),
		errors.Is(err, ErrMalformedResponse),
		errors.Is(err, ErrNotConfigured):
		return "", 0, false
	case errors.As(err, &remoteErr):
		switch {
		case remoteErr.RateLimited():
			delay = remoteErr.RetryAfter
			if delay <= 0 {
				delay = policy.DefaultRetryAfter
			}
			if delay <= 0 {
				delay = 5 * time.Second
			}
			return ReasonRateLimited, delay, true
		case remoteErr.StatusCode >= 500:
			return ReasonServerError, 0, true
		case remoteErr.StatusCode == http.StatusRequestTimeout:
			return ReasonTimeout, 0, true
		default:
			return "", 0, false
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrJobTimedOut):
		return ReasonTimeout, 0, true
	default:
		return ReasonNetwork, 0, true
	}
}

func nonRetryable(err error) error {
	if errors.Is(err, ErrNonRetryable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNonRetryable, err)
}

func abortError(ctxErr, last error) error {
	if last == nil {
		return ctxErr
	}
	return fmt.Errorf("%w (last error: %v)", ctxErr, last)
}
