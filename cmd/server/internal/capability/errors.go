package capability

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrNonRetryable marks failures that retrying cannot fix (4xx other than 429).
	ErrNonRetryable = errors.New("non-retryable capability error")

	// ErrMalformedResponse marks a response that could not be decoded.
	ErrMalformedResponse = errors.New("malformed capability response")

	// ErrNotConfigured is returned for a capability with no endpoint.
	ErrNotConfigured = errors.New("capability not configured")

	// ErrInvalidTimeout is returned when a call is attempted without a per-attempt timeout.
	ErrInvalidTimeout = errors.New("per-attempt timeout must be positive")

	// ErrJobTimedOut is reported by the worker when a job exceeded its execution limit.
	ErrJobTimedOut = errors.New("remote job timed out")
)

// RemoteError is a non-2xx HTTP response from a capability endpoint.
type RemoteError struct {
	StatusCode int
	// RetryAfter is parsed from the Retry-After header; zero when absent.
	RetryAfter time.Duration
	Body       string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned HTTP %d: %s", e.StatusCode, e.Body)
}

// RateLimited reports whether the response was HTTP 429.
func (e *RemoteError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// JobFailedError is a remote job that finished with status FAILED.
// It is terminal and never retried.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("remote job %s failed: %s", e.JobID, e.Message)
}

// TerminalError is returned once every attempt has been used.
type TerminalError struct {
	Attempts int
	Last     error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("capability call failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *TerminalError) Unwrap() error { return e.Last }

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
