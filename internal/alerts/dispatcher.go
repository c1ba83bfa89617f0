package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"riskengine/internal/classify"
	"riskengine/internal/metrics"
	"riskengine/internal/retry"
	"riskengine/pkg/models"
)

// Notifier delivers one alert message. Implementations classify their
// own failures: transient delivery errors are plain (retryable) errors,
// permanent rejections are wrapped with retry.Terminal.
type Notifier interface {
	Send(ctx context.Context, subject, message string) error
}

// Config controls alert dispatch behavior.
type Config struct {
	FloorTier string
	Cooldown  time.Duration
	Retry     retry.Policy
}

// Dispatcher sends alerts for evaluations at or above the floor tier,
// suppressing repeats for the same (entity, tier) pair inside the
// cool-down window.
type Dispatcher struct {
	mu       sync.Mutex
	cfg      Config
	policy   *classify.Policy
	notifier Notifier
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config, policy *classify.Policy, notifier Notifier) *Dispatcher {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Minute
	}
	return &Dispatcher{
		cfg:      cfg,
		policy:   policy,
		notifier: notifier,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Dispatch sends an alert for the result when it qualifies. It returns
// whether a send happened. A send failure after retry exhaustion is
// returned as an error but must be treated as a warning by the caller:
// the evaluation result is already persisted and is never rolled back.
func (d *Dispatcher) Dispatch(ctx context.Context, result *models.EvaluationResult) (bool, error) {
	if d == nil || d.notifier == nil || result == nil {
		return false, nil
	}
	if !d.policy.AtOrAbove(result.Tier, d.cfg.FloorTier) {
		return false, nil
	}

	key := dedupeKey(result)
	now := d.now()

	d.mu.Lock()
	last, seen := d.lastSent[key]
	if seen && now.Sub(last) < d.cfg.Cooldown {
		d.mu.Unlock()
		metrics.AlertsSuppressed.Inc()
		return false, nil
	}
	d.prune(now)
	d.mu.Unlock()

	alert := models.Alert{
		AlertID:          models.NewAlertID(result.EntityID),
		EntityID:         result.EntityID,
		EntityType:       result.EntityType,
		Tier:             result.Tier,
		Score:            result.Score,
		TriggeredRuleIDs: result.TriggeredRuleIDs,
		Reasons:          result.Reasons,
		ObservedAt:       result.ObservedAt,
		SentAt:           now,
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return false, fmt.Errorf("marshal alert: %w", err)
	}
	subject := fmt.Sprintf("%s %s reached tier %s (score %.0f)",
		result.EntityType, result.EntityID, result.Tier, result.Score)

	err = retry.Do(ctx, d.cfg.Retry, func(ctx context.Context) error {
		return d.notifier.Send(ctx, subject, string(body))
	})
	if err != nil {
		return false, fmt.Errorf("send alert for %s: %w", result.EntityID, err)
	}

	d.mu.Lock()
	d.lastSent[key] = now
	d.mu.Unlock()
	metrics.AlertsSent.Inc()
	return true, nil
}

// prune drops dedupe records that already aged past the cool-down.
// Caller holds the mutex.
func (d *Dispatcher) prune(now time.Time) {
	cutoff := now.Add(-d.cfg.Cooldown)
	for key, ts := range d.lastSent {
		if ts.Before(cutoff) {
			delete(d.lastSent, key)
		}
	}
}

func dedupeKey(result *models.EvaluationResult) string {
	return result.EntityID + "|" + result.Tier
}
