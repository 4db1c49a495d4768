// Package resilience provides the retry-with-backoff helper shared by
// every adapter's outbound HTTP client.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy configures exponential backoff retry behaviour.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool

	// ErrorChecker decides which errors are worth retrying. If nil, every
	// non-nil error is retried.
	ErrorChecker RetryableErrorChecker

	Logger *slog.Logger
}

// RetryableErrorChecker distinguishes transient errors (worth retrying)
// from permanent ones (authorization failures, invalid input).
type RetryableErrorChecker interface {
	IsRetryable(err error) bool
}

// DefaultRetryPolicy matches the cadence every concrete adapter in this
// repository uses: 3 retries, 100ms base delay doubling up to 5s, with
// jitter.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// WithRetry executes operation, retrying on failure according to policy.
// Context cancellation during a retry delay returns ctx.Err() immediately.
func WithRetry(ctx context.Context, policy *RetryPolicy, operation func() error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err, policy.ErrorChecker) {
			logger.Debug("error is non-retryable, stopping retry loop", "error", err, "attempt", attempt+1)
			return lastErr
		}

		if attempt >= policy.MaxRetries {
			logger.Error("operation failed after all retries", "max_retries", policy.MaxRetries, "error", lastErr)
			break
		}

		logger.Warn("operation failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)

		if !waitWithContext(ctx, delay) {
			return ctx.Err()
		}
		delay = nextDelay(delay, policy)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

func shouldRetry(err error, checker RetryableErrorChecker) bool {
	if err == nil {
		return false
	}
	if checker != nil {
		return checker.IsRetryable(err)
	}
	return true
}

func waitWithContext(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextDelay(current time.Duration, policy *RetryPolicy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	if policy.Jitter {
		next += time.Duration(float64(next) * 0.1 * rand.Float64())
	}
	return next
}

// StatusCodeError wraps a non-2xx HTTP response so a RetryableErrorChecker
// can branch on its status code. Outbound HTTP clients that wrap their
// round trip in WithRetry return this instead of a bare fmt.Errorf so
// transient statuses (429, 502, 503, ...) keep retrying while permanent
// ones (400, 401, ...) don't.
type StatusCodeError struct {
	StatusCode int
	err        error
}

// NewStatusCodeError builds a StatusCodeError carrying msg as its message.
func NewStatusCodeError(statusCode int, msg string) *StatusCodeError {
	return &StatusCodeError{StatusCode: statusCode, err: fmt.Errorf("%s", msg)}
}

func (e *StatusCodeError) Error() string { return e.err.Error() }
func (e *StatusCodeError) Unwrap() error { return e.err }

// RetryableStatusCodes builds a RetryableErrorChecker that retries network
// errors (anything not a *StatusCodeError) unconditionally and HTTP
// responses only when their status is in codes.
func RetryableStatusCodes(codes ...int) RetryableErrorChecker {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return statusCodeChecker{retryable: set}
}

type statusCodeChecker struct {
	retryable map[int]struct{}
}

func (c statusCodeChecker) IsRetryable(err error) bool {
	var sce *StatusCodeError
	if errors.As(err, &sce) {
		_, ok := c.retryable[sce.StatusCode]
		return ok
	}
	return true
}
