package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/strandhq/strand/pkg/schema"
)

// RetryPolicy bounds the attempts made against an external activity call.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Timeout      time.Duration
}

// StandardRetryPolicy is the policy applied to ordinary action nodes.
func StandardRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
		Timeout:      30 * time.Second,
	}
}

// LLMRetryPolicy is the more patient policy applied to agent nodes, whose
// calls are slow and whose providers rate-limit.
func LLMRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		Multiplier:   2,
		MaxDelay:     2 * time.Minute,
		Timeout:      5 * time.Minute,
	}
}

// IsRetryableError classifies whether an error should be retried.
// Retryable by default: network errors, timeouts, context.DeadlineExceeded.
// Non-retryable: cancellation, typed EngineErrors with non-retryable codes.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// A per-call deadline is retryable; the next attempt gets a fresh one.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Cancellation means the run is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common retryable patterns.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default: retryable. The policy limits attempts.
	return true
}

// Backoff returns the delay before the given zero-based retry attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for the given delay or returns early if the context
// is cancelled, reporting the context error.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CallWithRetry invokes fn under the policy: each attempt gets the per-call
// timeout, non-retryable errors abort immediately, and exhaustion wraps the
// last error in a RETRY_EXHAUSTED EngineError. An optional onRetry hook is
// called before each re-attempt with the zero-based attempt number and the
// error being retried.
func CallWithRetry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error), onRetry ...func(attempt int, err error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			for _, hook := range onRetry {
				hook(attempt, lastErr)
			}
			if err := WaitForBackoff(ctx, policy.Backoff(attempt-1)); err != nil {
				return zero, err
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if policy.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		}
		result, err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !IsRetryableError(err) {
			return zero, err
		}
	}

	return zero, schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"retries exhausted after %d attempts: %s", policy.MaxAttempts, lastErr.Error()).
		WithCause(lastErr)
}
