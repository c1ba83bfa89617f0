package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		attempts++
		if attempts <= 2 {
			return Unavailable(errors.New("store timeout"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts for 2 failures, got %d", attempts)
	}
}

func TestDoSurfacesRetriesExhausted(t *testing.T) {
	boom := errors.New("still down")
	attempts := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		attempts++
		return boom
	})
	if attempts != 3 {
		t.Fatalf("expected exactly maxAttempts=3 attempts, got %d", attempts)
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error to be wrapped, got %v", err)
	}
}

func TestDoAbortsImmediatelyOnTerminalError(t *testing.T) {
	rejected := errors.New("bad request")
	attempts := 0
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		attempts++
		return Terminal(rejected)
	})
	if attempts != 1 {
		t.Fatalf("terminal error must not be retried, got %d attempts", attempts)
	}
	if !IsTerminal(err) {
		t.Fatalf("expected terminal classification, got %v", err)
	}
	if !errors.Is(err, rejected) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, Policy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}, func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected backoff sleep to observe cancellation, got %d attempts", attempts)
	}
}

func TestTerminalWrappingIsTransparentToErrorsIs(t *testing.T) {
	cause := fmt.Errorf("validation: %w", errors.New("missing field"))
	wrapped := Terminal(cause)
	if !errors.Is(wrapped, cause) {
		t.Fatalf("Terminal must unwrap to its cause")
	}
	if Terminal(nil) != nil {
		t.Fatalf("Terminal(nil) must stay nil")
	}
	if IsTerminal(Unavailable(errors.New("x"))) {
		t.Fatalf("Unavailable errors are not terminal")
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}

	cases := []struct {
		attempt int
		base    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 40 * time.Millisecond}, // capped
		{8, 40 * time.Millisecond},
	}
	for _, tc := range cases {
		got := backoffDelay(p, tc.attempt)
		// Jitter adds [0, base) on top of the schedule.
		if got < tc.base || got >= 2*tc.base {
			t.Fatalf("attempt %d: delay %v outside [%v, %v)", tc.attempt, got, tc.base, 2*tc.base)
		}
	}
}
