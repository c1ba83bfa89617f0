package store

import (
	"context"
	"time"

	"riskengine/pkg/models"
)

// ResultStore is the idempotent persistence contract for evaluation
// results. Put must be safe to call twice with the same
// (entity_type, entity_id, observed_at) identity: the second call is a
// no-op success, because the retry controller may redeliver.
type ResultStore interface {
	Put(ctx context.Context, result *models.EvaluationResult) error
	// QueryWindow returns results for an entity key with ObservedAt inside
	// (from, to), exclusive on both ends, ordered ascending. Implementations
	// bound the result size themselves.
	QueryWindow(ctx context.Context, entityType models.EntityType, key string, from, to time.Time) ([]models.EvaluationResult, error)
	Close() error
}
