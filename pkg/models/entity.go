package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntityType identifies the kind of subject being evaluated.
type EntityType string

const (
	EntityTransaction   EntityType = "transaction"
	EntityCloudResource EntityType = "cloud_resource"
	EntityStack         EntityType = "stack"
)

// ParseEntityType normalizes a raw entity type string.
func ParseEntityType(raw string) (EntityType, bool) {
	switch EntityType(strings.ToLower(strings.TrimSpace(raw))) {
	case EntityTransaction:
		return EntityTransaction, true
	case EntityCloudResource:
		return EntityCloudResource, true
	case EntityStack:
		return EntityStack, true
	}
	return "", false
}

// Entity is the immutable subject of one evaluation.
type Entity struct {
	ID         string                 `json:"entity_id"`
	Type       EntityType             `json:"entity_type"`
	ObservedAt time.Time              `json:"observed_at"`
	Attributes map[string]interface{} `json:"attributes"`
}

// Field returns an attribute rendered as a string, or "" when absent.
func (e *Entity) Field(name string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	v, ok := e.Attributes[name]
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Number returns an attribute coerced to float64. Strings are parsed;
// anything non-numeric reports ok=false.
func (e *Entity) Number(name string) (float64, bool) {
	if e == nil || e.Attributes == nil {
		return 0, false
	}
	v, ok := e.Attributes[name]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

// Has reports whether an attribute is present.
func (e *Entity) Has(name string) bool {
	if e == nil || e.Attributes == nil {
		return false
	}
	_, ok := e.Attributes[name]
	return ok
}

// VelocityContext summarizes peer activity for an entity key inside a
// trailing window: how many prior entities were observed and the sum of
// their recorded amounts. A zero value means no velocity signal.
type VelocityContext struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
}
