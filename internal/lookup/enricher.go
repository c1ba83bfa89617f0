package lookup

import (
	"context"
	"time"

	"riskengine/internal/cache"
	"riskengine/internal/logger"
	"riskengine/internal/retry"
	"riskengine/pkg/models"
)

// Client is the external lookup collaborator behind the compliance
// cache: an arbitrary synchronous call returning a check outcome. The
// engine does not care what API backs it.
type Client interface {
	Lookup(ctx context.Context, entity *models.Entity, check string) (string, error)
}

// Check names one external lookup to run for an entity type. The
// outcome lands in the entity attributes as "check:<name>" so plain
// rule conditions can reference it.
type Check struct {
	Name       string
	EntityType models.EntityType
}

// Enricher resolves configured checks through the TTL cache before rule
// evaluation. A failed lookup degrades to an absent attribute: the
// depending rules simply do not trigger.
type Enricher struct {
	client Client
	cache  *cache.Cache
	checks []Check
	ttl    time.Duration
	policy retry.Policy
}

// NewEnricher creates an enricher. A nil client disables enrichment.
func NewEnricher(client Client, c *cache.Cache, checks []Check, ttl time.Duration, policy retry.Policy) *Enricher {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Enricher{
		client: client,
		cache:  c,
		checks: checks,
		ttl:    ttl,
		policy: policy,
	}
}

// Enrich runs every check configured for the entity's type and writes
// outcomes into its attribute map.
func (e *Enricher) Enrich(ctx context.Context, entity *models.Entity) {
	if e == nil || e.client == nil || entity == nil {
		return
	}

	for _, check := range e.checks {
		if check.EntityType != "" && check.EntityType != entity.Type {
			continue
		}

		key := cacheKey(entity, check.Name)
		value, err := e.cache.GetOrCompute(ctx, key, e.ttl, func(ctx context.Context) (interface{}, error) {
			var outcome string
			err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
				var lookupErr error
				outcome, lookupErr = e.client.Lookup(ctx, entity, check.Name)
				return lookupErr
			})
			if err != nil {
				return nil, err
			}
			return outcome, nil
		})
		if err != nil {
			logger.Warnf("Lookup %s failed for %s/%s, depending rules will not trigger: %v",
				check.Name, entity.Type, entity.ID, err)
			continue
		}
		if outcome, ok := value.(string); ok {
			entity.Attributes["check:"+check.Name] = outcome
		}
	}
}

func cacheKey(entity *models.Entity, check string) string {
	return string(entity.Type) + ":" + entity.ID + ":" + check
}
