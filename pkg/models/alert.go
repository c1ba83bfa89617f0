package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Alert describes a dispatched notification for a high-tier evaluation.
type Alert struct {
	AlertID          string     `json:"alert_id"`
	EntityID         string     `json:"entity_id"`
	EntityType       EntityType `json:"entity_type"`
	Tier             string     `json:"tier"`
	Score            float64    `json:"score"`
	TriggeredRuleIDs []string   `json:"triggered_rule_ids,omitempty"`
	Reasons          []string   `json:"reasons,omitempty"`
	ObservedAt       time.Time  `json:"observed_at"`
	SentAt           time.Time  `json:"sent_at"`
}

// NewAlertID generates a unique alert identifier scoped to an entity.
func NewAlertID(entityID string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return entityID + "-" + time.Now().Format("20060102150405")
	}
	return entityID + "-" + hex.EncodeToString(buf)
}
