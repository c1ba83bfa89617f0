package engine

import (
	"context"
	"time"

	"riskengine/internal/alerts"
	"riskengine/internal/classify"
	"riskengine/internal/deadletter"
	"riskengine/internal/extract"
	"riskengine/internal/logger"
	"riskengine/internal/lookup"
	"riskengine/internal/metrics"
	"riskengine/internal/retry"
	"riskengine/internal/rules"
	"riskengine/internal/store"
	"riskengine/internal/velocity"
	"riskengine/pkg/models"
)

// Pipeline stages, recorded on dead-letter records. An event moves
// extract -> enrich -> score -> classify -> persist -> alert; only
// extraction and persistence can fail it.
const (
	StageExtract = "extract"
	StagePersist = "persist"
)

// Orchestrator runs the per-event evaluation pipeline. All collaborators
// are injected at construction; there is no process-wide client state.
type Orchestrator struct {
	evaluator   *rules.Evaluator
	aggregator  *velocity.Aggregator
	policy      *classify.Policy
	results     store.ResultStore
	dispatcher  *alerts.Dispatcher
	enricher    *lookup.Enricher
	deadLetter  deadletter.Sink
	retryPolicy retry.Policy
	keyFields   map[models.EntityType]string
	now         func() time.Time
}

// OrchestratorConfig bundles the orchestrator's collaborators.
type OrchestratorConfig struct {
	Evaluator   *rules.Evaluator
	Aggregator  *velocity.Aggregator
	Policy      *classify.Policy
	Results     store.ResultStore
	Dispatcher  *alerts.Dispatcher
	Enricher    *lookup.Enricher
	DeadLetter  deadletter.Sink
	RetryPolicy retry.Policy
	// KeyFields names the attribute that groups peers for velocity,
	// per entity type. Types without an entry get no velocity signal.
	KeyFields map[models.EntityType]string
}

// NewOrchestrator wires the evaluation pipeline.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	keyFields := cfg.KeyFields
	if keyFields == nil {
		keyFields = map[models.EntityType]string{
			models.EntityTransaction: "merchant",
		}
	}
	return &Orchestrator{
		evaluator:   cfg.Evaluator,
		aggregator:  cfg.Aggregator,
		policy:      cfg.Policy,
		results:     cfg.Results,
		dispatcher:  cfg.Dispatcher,
		enricher:    cfg.Enricher,
		deadLetter:  cfg.DeadLetter,
		retryPolicy: cfg.RetryPolicy,
		keyFields:   keyFields,
		now:         time.Now,
	}
}

// Process evaluates one raw event end to end. The returned error is
// non-nil only when the event could not be processed at all: a
// validation failure or persistence giving up after retries. Both paths
// route the payload to the dead-letter sink first. An alert delivery
// failure is a warning, never an error.
func (o *Orchestrator) Process(ctx context.Context, payload []byte) (*models.EvaluationResult, error) {
	entity, err := extract.Extract(payload)
	if err != nil {
		o.toDeadLetter(payload, StageExtract, err)
		return nil, err
	}

	if o.enricher != nil {
		o.enricher.Enrich(ctx, entity)
	}

	key := o.entityKey(entity)
	var vctx models.VelocityContext
	if key != "" && o.aggregator != nil {
		vctx, _ = o.aggregator.WindowStats(ctx, entity.Type, key, entity.ObservedAt)
	}

	score, triggered, reasons := o.evaluator.Evaluate(entity, vctx)
	tier := o.policy.Classify(score)

	amount, _ := entity.Number("amount")
	result := &models.EvaluationResult{
		EntityID:         entity.ID,
		EntityType:       entity.Type,
		EntityKey:        key,
		ObservedAt:       entity.ObservedAt,
		Score:            score,
		Tier:             tier,
		TriggeredRuleIDs: triggered,
		Reasons:          reasons,
		Amount:           amount,
		EvaluatedAt:      o.now().UTC(),
	}

	err = retry.Do(ctx, o.retryPolicy, func(ctx context.Context) error {
		return o.results.Put(ctx, result)
	})
	if err != nil {
		o.toDeadLetter(payload, StagePersist, err)
		return nil, err
	}
	metrics.EvaluationsTotal.WithLabelValues(tier).Inc()

	if o.dispatcher != nil {
		sent, err := o.dispatcher.Dispatch(ctx, result)
		if err != nil {
			logger.Warnf("Alert dispatch failed for %s/%s: %v", entity.Type, entity.ID, err)
		} else if sent {
			logger.Debugf("Alert sent for %s/%s tier=%s score=%.0f", entity.Type, entity.ID, tier, score)
		}
	}

	return result, nil
}

func (o *Orchestrator) entityKey(entity *models.Entity) string {
	field, ok := o.keyFields[entity.Type]
	if !ok || field == "" {
		return ""
	}
	return entity.Field(field)
}

func (o *Orchestrator) toDeadLetter(payload []byte, stage string, cause error) {
	if o.deadLetter == nil {
		return
	}
	if err := o.deadLetter.Write(payload, stage, cause.Error()); err != nil {
		logger.Errorf("Failed to dead-letter event at stage %s: %v", stage, err)
	}
}
