package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"riskengine/internal/metrics"
)

// ErrRetriesExhausted marks a retryable operation that failed on every
// allowed attempt. The last underlying error is wrapped alongside it.
var ErrRetriesExhausted = errors.New("retries exhausted")

// TerminalError marks an error that must never be retried.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return "terminal: " + e.Err.Error()
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Terminal wraps err so Do aborts immediately instead of retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err was classified as non-retryable.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// Unavailable wraps a transient collaborator failure. It exists for
// readable call sites; any non-terminal error is treated as retryable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("dependency unavailable: %w", err)
}

// Policy controls the backoff schedule for Do.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Normalized returns a copy with defaults filled in.
func (p Policy) Normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	return p
}

// Do runs op up to policy.MaxAttempts times with exponential backoff and
// jitter. Errors classified Terminal abort immediately. After the final
// failed attempt the last error is surfaced wrapped in ErrRetriesExhausted.
// The wrapped operation must be idempotent: Do may invoke it again after
// an attempt that already produced a side effect.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	policy = policy.Normalized()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsTerminal(err) {
			return err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}
		metrics.RetryAttempts.Inc()
		if err := sleep(ctx, backoffDelay(policy, attempt)); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, policy.MaxAttempts, lastErr)
}

func backoffDelay(policy Policy, attempt int) time.Duration {
	delay := policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= policy.MaxDelay {
			delay = policy.MaxDelay
			break
		}
	}
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	// Uniform jitter in [0, delay) on top of the base schedule.
	return delay + time.Duration(rand.Int63n(int64(delay)))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
