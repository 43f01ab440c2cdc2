// Package retry provides bounded retry with exponential backoff for calls
// to external collaborators, plus classification of recoverable errors.
package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// Options configures the retry loop.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Each subsequent delay
	// is multiplied by BackoffRate, capped at MaxDelay.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BackoffRate float64

	// OnRetry, if set, is called before each retry with the attempt number
	// (1-based) and the error that triggered the retry.
	OnRetry func(attempt int, err error)
}

// DefaultOptions returns the retry policy used for collaborator calls:
// 3 attempts with delays of 2s then 4s.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		BackoffRate: 2.0,
	}
}

// Do invokes fn until it succeeds, the error is not recoverable, the
// attempt budget is exhausted, or the context is done. The last error is
// returned when all attempts fail.
func Do(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffRate <= 0 {
		opts.BackoffRate = 2.0
	}

	delay := opts.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRecoverable(lastErr) || attempt == opts.MaxAttempts {
			return lastErr
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * opts.BackoffRate)
		if opts.MaxDelay > 0 && delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
	return lastErr
}

// DoValue is like Do for functions that return a value.
func DoValue[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, opts, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}

// RecoverableError lets errors declare their own retry behavior.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable checks if an error can be retried.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var recoverable RecoverableError
	if errors.As(err, &recoverable) {
		return recoverable.IsRecoverable()
	}
	return isRecoverableByType(err)
}

// isRecoverableByType applies heuristics for common error types.
func isRecoverableByType(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isRecoverableByType(urlErr.Err)
	}

	errStr := strings.ToLower(err.Error())
	recoverablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"rate limit",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
	}
	for _, pattern := range recoverablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string       { return e.err.Error() }
func (e *recoverableError) IsRecoverable() bool { return true }
func (e *recoverableError) Unwrap() error       { return e.err }

// Recoverable marks an error as retryable.
func Recoverable(err error) error {
	return &recoverableError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string       { return e.err.Error() }
func (e *permanentError) IsRecoverable() bool { return false }
func (e *permanentError) Unwrap() error       { return e.err }

// Permanent marks an error as not retryable.
func Permanent(err error) error {
	return &permanentError{err: err}
}
