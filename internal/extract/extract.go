package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"riskengine/pkg/models"
)

// ValidationError reports a malformed or missing required attribute.
// It is permanent: events failing validation are dead-lettered, never
// retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Msg)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// Extract converts a raw event payload into a typed Entity. Required
// fields that are missing or malformed produce a ValidationError; there
// are no silent defaults.
func Extract(payload []byte) (*models.Entity, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, invalid("payload", "is not valid JSON")
	}

	typRaw := getString(raw, "entity_type")
	if typRaw == "" {
		return nil, invalid("entity_type", "is required")
	}
	typ, ok := models.ParseEntityType(typRaw)
	if !ok {
		return nil, invalid("entity_type", fmt.Sprintf("%q is not a known entity type", typRaw))
	}

	id := strings.TrimSpace(getString(raw, "entity_id"))
	if id == "" {
		return nil, invalid("entity_id", "is required")
	}

	observedAt, ok := parseTime(getString(raw, "observed_at"))
	if !ok {
		return nil, invalid("observed_at", "must be an RFC3339 timestamp")
	}

	attrs := make(map[string]interface{})
	if v, ok := raw["attributes"]; ok {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, invalid("attributes", "must be an object")
		}
		attrs = m
	}

	entity := &models.Entity{
		ID:         id,
		Type:       typ,
		ObservedAt: observedAt,
		Attributes: attrs,
	}
	if err := validateRequired(entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// validateRequired enforces the per-type attribute contract.
func validateRequired(e *models.Entity) error {
	switch e.Type {
	case models.EntityTransaction:
		if _, ok := e.Number("amount"); !ok {
			return invalid("attributes.amount", "is required and must be numeric for transactions")
		}
	case models.EntityCloudResource:
		if strings.TrimSpace(e.Field("resource_type")) == "" {
			return invalid("attributes.resource_type", "is required for cloud resources")
		}
	case models.EntityStack:
		if strings.TrimSpace(e.Field("stack_name")) == "" {
			return invalid("attributes.stack_name", "is required for stacks")
		}
	}
	return nil
}

func parseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func getString(root map[string]interface{}, key string) string {
	v, ok := root[key]
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%f", val)
	}
	return ""
}
