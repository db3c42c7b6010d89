package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/spice-reconcile/internal/service"
)

var (
	// ErrRateLimit is returned by the invoice collaborator when it throttles us.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries wraps the last error once every attempt has failed.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError marks an error as worth retrying, or explicitly not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// backoff yields the wait before each retry. Rate limited calls jump
// straight to the ceiling.
type backoff struct {
	next       time.Duration
	ceiling    time.Duration
	multiplier float64
}

func newBackoff(opts service.RetryOptions) *backoff {
	b := &backoff{next: opts.InitialDelay, ceiling: opts.MaxDelay, multiplier: opts.Multiplier}
	if b.next <= 0 {
		b.next = 100 * time.Millisecond
	}
	if b.ceiling <= 0 {
		b.ceiling = 30 * time.Second
	}
	if b.multiplier <= 0 {
		b.multiplier = 2
	}
	return b
}

func (b *backoff) delay(err error) time.Duration {
	if errors.Is(err, ErrRateLimit) {
		return b.ceiling
	}
	d := b.next
	b.next = min(time.Duration(float64(b.next)*b.multiplier), b.ceiling)
	return min(d, b.ceiling)
}

// WithRetry runs operation until it succeeds, fails with an error that
// IsRetryable rejects, ctx is done, or opts.MaxAttempts is reached.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	wait := newBackoff(opts)

	for attempt := 1; ; attempt++ {
		err := operation()
		switch {
		case err == nil:
			return nil
		case !IsRetryable(err):
			return err
		case attempt >= attempts:
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, attempts, err)
		}

		d := wait.delay(err)
		slog.Warn("Invoice call failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", d,
			"error", err)

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
