package models

import "time"

// EvaluationResult records the outcome of scoring one entity observation.
// It is created once and never mutated; a later observation of the same
// logical entity produces a new result with a new ObservedAt.
type EvaluationResult struct {
	EntityID         string     `json:"entity_id"`
	EntityType       EntityType `json:"entity_type"`
	EntityKey        string     `json:"entity_key,omitempty"`
	ObservedAt       time.Time  `json:"observed_at"`
	Score            float64    `json:"score"`
	Tier             string     `json:"tier"`
	TriggeredRuleIDs []string   `json:"triggered_rule_ids,omitempty"`
	Reasons          []string   `json:"reasons,omitempty"`
	Amount           float64    `json:"amount,omitempty"`
	EvaluatedAt      time.Time  `json:"evaluated_at"`
}
