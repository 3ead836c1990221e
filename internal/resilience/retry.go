// Package resilience wraps the control plane's upstream calendar-feed
// fetches in bounded retries with exponential backoff. Retryability is
// decided on typed errors, never by matching error strings.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/calendar2image/c2i-service/internal/metrics"
)

// RetryableErrorChecker decides whether a failed attempt is worth repeating.
type RetryableErrorChecker interface {
	IsRetryable(err error) bool
}

// RetryPolicy bounds a retry loop: how many extra attempts, how the delay
// between them grows, and which errors qualify.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first (0 disables retry).
	MaxRetries int

	// BaseDelay is the wait before the first retry; each subsequent wait is
	// the previous one times Multiplier, capped at MaxDelay.
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// Jitter stretches each delay after the first by up to 10% (on top of
	// the MaxDelay cap) so concurrent fetches against the same upstream
	// don't resynchronize.
	Jitter bool

	// ErrorChecker gates each retry. Nil retries every non-nil error.
	ErrorChecker RetryableErrorChecker

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger

	// Metrics, when set, records attempts under OperationName.
	Metrics       *metrics.RetryMetrics
	OperationName string
}

// DefaultRetryPolicy suits a generic short HTTP call: three retries starting
// at 100ms, doubling to at most 5s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// ICSFeedRetryPolicy is the policy for upstream calendar-feed fetches. A feed
// is expected to answer fast, so retries are shallow and tightly bounded:
// two extra attempts keep the worst case well inside the 30s-per-URL fetch
// budget instead of stacking full timeouts. rm and log may be nil.
func ICSFeedRetryPolicy(rm *metrics.RetryMetrics, log *slog.Logger) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:    2,
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		Multiplier:    2.0,
		Jitter:        true,
		ErrorChecker:  FeedErrorChecker{},
		Logger:        log,
		Metrics:       rm,
		OperationName: "ics_fetch",
	}
}

// WithRetryFunc runs operation until it succeeds, the policy's attempts are
// exhausted, the error is non-retryable, or ctx is cancelled while waiting
// between attempts. On exhaustion the last error is returned wrapped.
func WithRetryFunc[T any](ctx context.Context, policy *RetryPolicy, operation func() (T, error)) (T, error) {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	log := policy.Logger
	if log == nil {
		log = slog.Default()
	}
	op := policy.OperationName
	if op == "" {
		op = "unknown"
	}

	var last T
	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; ; attempt++ {
		result, err := operation()
		if err == nil {
			policy.record(op, "success", "none")
			policy.settle(op, "success", attempt+1)
			if attempt > 0 {
				log.Info("operation succeeded after retry", "operation", op, "attempts", attempt+1)
			}
			return result, nil
		}
		last, lastErr = result, err

		if !policy.retryable(err) {
			policy.record(op, "non_retryable", classifyError(err))
			policy.settle(op, "non_retryable", attempt+1)
			log.Debug("non-retryable error, giving up", "operation", op, "error", err)
			return last, lastErr
		}
		policy.record(op, "retry", classifyError(err))

		if attempt >= policy.MaxRetries {
			policy.settle(op, "exhausted", attempt+1)
			log.Error("retries exhausted", "operation", op, "attempts", attempt+1, "error", lastErr)
			return last, fmt.Errorf("operation failed after %d attempts: %w", attempt+1, lastErr)
		}

		log.Warn("attempt failed, backing off", "operation", op, "attempt", attempt+1, "delay", delay, "error", err)
		if policy.Metrics != nil {
			policy.Metrics.RecordBackoff(op, delay.Seconds())
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
		delay = policy.nextDelay(delay)
	}
}

func (p *RetryPolicy) retryable(err error) bool {
	if p.ErrorChecker != nil {
		return p.ErrorChecker.IsRetryable(err)
	}
	return err != nil
}

func (p *RetryPolicy) nextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.Multiplier)
	if next > p.MaxDelay {
		next = p.MaxDelay
	}
	if p.Jitter {
		next += time.Duration(float64(next) * 0.1 * rand.Float64())
	}
	return next
}

func (p *RetryPolicy) record(op, outcome, errType string) {
	if p.Metrics != nil {
		p.Metrics.RecordAttempt(op, outcome, errType, 0)
	}
}

func (p *RetryPolicy) settle(op, outcome string, attempts int) {
	if p.Metrics != nil {
		p.Metrics.RecordFinalAttempt(op, outcome, attempts)
	}
}
