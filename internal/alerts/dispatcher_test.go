package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskengine/internal/classify"
	"riskengine/internal/retry"
	"riskengine/pkg/models"
)

type fakeNotifier struct {
	sends    int
	failWith error
	subjects []string
}

func (f *fakeNotifier) Send(ctx context.Context, subject, message string) error {
	f.sends++
	if f.failWith != nil {
		return f.failWith
	}
	f.subjects = append(f.subjects, subject)
	return nil
}

func testPolicy(t *testing.T) *classify.Policy {
	t.Helper()
	p, err := classify.NewPolicy([]classify.Threshold{
		{Tier: "approved", MinScore: 0},
		{Tier: "review_required", MinScore: 30},
		{Tier: "blocked", MinScore: 50},
	})
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	return p
}

func blockedResult(id string) *models.EvaluationResult {
	return &models.EvaluationResult{
		EntityID:   id,
		EntityType: models.EntityTransaction,
		ObservedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Score:      60,
		Tier:       "blocked",
	}
}

func newTestDispatcher(t *testing.T, notifier Notifier, cooldown time.Duration) *Dispatcher {
	t.Helper()
	return NewDispatcher(Config{
		FloorTier: "blocked",
		Cooldown:  cooldown,
		Retry:     retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}, testPolicy(t), notifier)
}

func TestDispatchSkipsResultsBelowFloorTier(t *testing.T) {
	notifier := &fakeNotifier{}
	d := newTestDispatcher(t, notifier, 15*time.Minute)

	res := blockedResult("tx-1")
	res.Tier = "review_required"

	sent, err := d.Dispatch(context.Background(), res)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent || notifier.sends != 0 {
		t.Fatalf("below-floor result must not send, sent=%v sends=%d", sent, notifier.sends)
	}
}

func TestDispatchDeduplicatesWithinCooldown(t *testing.T) {
	notifier := &fakeNotifier{}
	d := newTestDispatcher(t, notifier, 15*time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	d.now = func() time.Time { return now }

	sent, err := d.Dispatch(context.Background(), blockedResult("tx-1"))
	if err != nil || !sent {
		t.Fatalf("first dispatch should send: sent=%v err=%v", sent, err)
	}

	now = base.Add(5 * time.Minute)
	sent, err = d.Dispatch(context.Background(), blockedResult("tx-1"))
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if sent || notifier.sends != 1 {
		t.Fatalf("repeat within cooldown must be suppressed, sent=%v sends=%d", sent, notifier.sends)
	}

	now = base.Add(16 * time.Minute)
	sent, err = d.Dispatch(context.Background(), blockedResult("tx-1"))
	if err != nil || !sent {
		t.Fatalf("dispatch after cooldown should send: sent=%v err=%v", sent, err)
	}
	if notifier.sends != 2 {
		t.Fatalf("expected 2 sends, got %d", notifier.sends)
	}
}

func TestDispatchTreatsDifferentTiersAsDistinct(t *testing.T) {
	policy, err := classify.NewPolicy([]classify.Threshold{
		{Tier: "review_required", MinScore: 0},
		{Tier: "blocked", MinScore: 50},
	})
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	notifier := &fakeNotifier{}
	d := NewDispatcher(Config{
		FloorTier: "review_required",
		Cooldown:  15 * time.Minute,
		Retry:     retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}, policy, notifier)

	review := blockedResult("tx-1")
	review.Tier = "review_required"
	if sent, err := d.Dispatch(context.Background(), review); err != nil || !sent {
		t.Fatalf("review dispatch: sent=%v err=%v", sent, err)
	}
	if sent, err := d.Dispatch(context.Background(), blockedResult("tx-1")); err != nil || !sent {
		t.Fatalf("blocked tier for the same entity is a new dedupe key: sent=%v err=%v", sent, err)
	}
	if notifier.sends != 2 {
		t.Fatalf("expected 2 sends, got %d", notifier.sends)
	}
}

func TestDispatchFailureDoesNotRecordCooldown(t *testing.T) {
	notifier := &fakeNotifier{failWith: errors.New("endpoint down")}
	d := newTestDispatcher(t, notifier, 15*time.Minute)

	sent, err := d.Dispatch(context.Background(), blockedResult("tx-1"))
	if sent {
		t.Fatalf("failed send must report sent=false")
	}
	if !errors.Is(err, retry.ErrRetriesExhausted) {
		t.Fatalf("expected retries exhausted, got %v", err)
	}
	if notifier.sends != 2 {
		t.Fatalf("expected maxAttempts=2 send attempts, got %d", notifier.sends)
	}

	// The next qualifying dispatch must try again rather than be deduped.
	notifier.failWith = nil
	sent, err = d.Dispatch(context.Background(), blockedResult("tx-1"))
	if err != nil || !sent {
		t.Fatalf("dispatch after failure should send: sent=%v err=%v", sent, err)
	}
}

func TestDispatchTerminalSendFailureIsNotRetried(t *testing.T) {
	notifier := &fakeNotifier{failWith: retry.Terminal(errors.New("payload rejected"))}
	d := newTestDispatcher(t, notifier, 15*time.Minute)

	sent, err := d.Dispatch(context.Background(), blockedResult("tx-1"))
	if sent || err == nil {
		t.Fatalf("terminal failure must surface: sent=%v err=%v", sent, err)
	}
	if notifier.sends != 1 {
		t.Fatalf("terminal failure must not be retried, got %d attempts", notifier.sends)
	}
}
