package velocity

import (
	"context"
	"time"

	"riskengine/internal/logger"
	"riskengine/internal/metrics"
	"riskengine/pkg/models"
)

// History is the read-only window lookup the aggregator depends on.
// Results must be ordered by ObservedAt ascending.
type History interface {
	QueryWindow(ctx context.Context, entityType models.EntityType, key string, from, to time.Time) ([]models.EvaluationResult, error)
}

// Aggregator computes trailing-window statistics for an entity key from
// previously persisted evaluation results.
type Aggregator struct {
	history History
	window  time.Duration
}

// NewAggregator creates an aggregator over the given history with the
// given trailing window (default 1h).
func NewAggregator(history History, window time.Duration) *Aggregator {
	if window <= 0 {
		window = time.Hour
	}
	return &Aggregator{history: history, window: window}
}

// Window returns the configured trailing window.
func (a *Aggregator) Window() time.Duration {
	return a.window
}

// WindowStats returns the count and summed amount of prior entities
// sharing key observed inside (asOf-window, asOf). Both boundaries are
// exclusive, so an entity never counts toward its own velocity.
//
// A history failure degrades to a zero context instead of failing the
// evaluation; the degraded bool lets callers log and count it.
func (a *Aggregator) WindowStats(ctx context.Context, entityType models.EntityType, key string, asOf time.Time) (models.VelocityContext, bool) {
	if a == nil || a.history == nil || key == "" {
		return models.VelocityContext{}, false
	}

	from := asOf.Add(-a.window)
	results, err := a.history.QueryWindow(ctx, entityType, key, from, asOf)
	if err != nil {
		logger.Warnf("Velocity lookup failed for %s/%s, evaluating without velocity signal: %v", entityType, key, err)
		metrics.DegradedEvaluations.Inc()
		return models.VelocityContext{}, true
	}

	var vctx models.VelocityContext
	for _, r := range results {
		vctx.Count++
		vctx.Sum += r.Amount
	}
	return vctx, false
}
