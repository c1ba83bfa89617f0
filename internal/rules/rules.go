package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"riskengine/pkg/models"
)

// RuleSet is an ordered collection of weighted checks for one or more
// entity types. Order affects only the presentation order of triggered
// rule IDs and reasons, never the score.
type RuleSet struct {
	Version  int          `yaml:"version"`
	Defaults RuleDefaults `yaml:"defaults"`
	Rules    []Rule       `yaml:"rules"`
}

// RuleDefaults are fallback options for rules.
type RuleDefaults struct {
	Weight float64 `yaml:"weight"`
}

// Rule defines one weighted boolean check. A rule triggers when every
// configured block (when conditions, velocity condition, sigma pattern)
// matches; absent blocks are vacuously true.
type Rule struct {
	ID         string             `yaml:"id"`
	EntityType string             `yaml:"entity_type"`
	Category   string             `yaml:"category"`
	Weight     float64            `yaml:"weight"`
	Disabled   bool               `yaml:"disabled"`
	When       []Condition        `yaml:"when"`
	Velocity   *VelocityCondition `yaml:"velocity"`
	Pattern    string             `yaml:"pattern"`
	Reason     string             `yaml:"reason"`
}

// Condition compares one entity attribute against a value.
type Condition struct {
	Field string      `yaml:"field"`
	Op    string      `yaml:"op"`
	Value interface{} `yaml:"value"`
}

// VelocityCondition compares a window statistic against a value.
type VelocityCondition struct {
	Metric string  `yaml:"metric"` // count | sum
	Op     string  `yaml:"op"`
	Value  float64 `yaml:"value"`
}

var validOps = map[string]struct{}{
	"gt": {}, "gte": {}, "lt": {}, "lte": {},
	"eq": {}, "ne": {}, "contains": {},
	"present": {}, "absent": {},
}

// LoadRuleSet reads rule definitions from a YAML file, applies defaults
// and validates the result.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}
	if err := normalize(&rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

func normalize(rs *RuleSet) error {
	if rs.Defaults.Weight <= 0 {
		rs.Defaults.Weight = 10
	}
	if len(rs.Rules) == 0 {
		return fmt.Errorf("rule set has no rules")
	}

	seen := make(map[string]struct{}, len(rs.Rules))
	for i := range rs.Rules {
		r := &rs.Rules[i]
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			r.ID = fmt.Sprintf("rule-%d", i+1)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}

		if r.EntityType != "" {
			typ, ok := models.ParseEntityType(r.EntityType)
			if !ok {
				return fmt.Errorf("rule %s: unknown entity type %q", r.ID, r.EntityType)
			}
			r.EntityType = string(typ)
		}
		if r.Category == "" {
			r.Category = "general"
		}
		if r.Weight == 0 {
			r.Weight = rs.Defaults.Weight
		}
		if r.Weight < 0 {
			return fmt.Errorf("rule %s: weight must be non-negative", r.ID)
		}

		for j := range r.When {
			c := &r.When[j]
			c.Field = strings.TrimSpace(c.Field)
			c.Op = strings.ToLower(strings.TrimSpace(c.Op))
			if c.Field == "" {
				return fmt.Errorf("rule %s: condition %d has no field", r.ID, j+1)
			}
			if _, ok := validOps[c.Op]; !ok {
				return fmt.Errorf("rule %s: unknown op %q", r.ID, c.Op)
			}
		}

		if v := r.Velocity; v != nil {
			v.Metric = strings.ToLower(strings.TrimSpace(v.Metric))
			v.Op = strings.ToLower(strings.TrimSpace(v.Op))
			if v.Metric != "count" && v.Metric != "sum" {
				return fmt.Errorf("rule %s: velocity metric must be count or sum", r.ID)
			}
			switch v.Op {
			case "gt", "gte", "lt", "lte":
			default:
				return fmt.Errorf("rule %s: velocity op must be a numeric comparison", r.ID)
			}
		}

		if len(r.When) == 0 && r.Velocity == nil && strings.TrimSpace(r.Pattern) == "" {
			return fmt.Errorf("rule %s: no conditions, velocity or pattern", r.ID)
		}
	}

	return nil
}
