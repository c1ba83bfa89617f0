package rules

import (
	"context"
	"fmt"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"riskengine/pkg/models"
)

// patternMatcher evaluates an inline Sigma rule against entity attributes.
// Patterns cover compliance-style string matching (wildcard CIDRs, path
// prefixes) that typed threshold conditions cannot express.
type patternMatcher struct {
	eval *sigmaevaluator.RuleEvaluator
	ctx  context.Context
}

func compilePattern(raw string) (*patternMatcher, error) {
	rule, err := sigma.ParseRule([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("parse sigma pattern: %w", err)
	}
	if len(rule.Detection.Searches) == 0 {
		return nil, fmt.Errorf("sigma pattern has no detection searches")
	}
	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return nil, fmt.Errorf("sigma aggregation conditions are not supported")
		}
	}
	return &patternMatcher{
		eval: sigmaevaluator.ForRule(rule),
		ctx:  context.Background(),
	}, nil
}

// Match reports whether the pattern matches the entity's attribute map.
// Evaluator errors count as no match, keeping predicates total.
func (m *patternMatcher) Match(e *models.Entity) bool {
	if m == nil || e == nil {
		return false
	}
	res, err := m.eval.Matches(m.ctx, patternEventFrom(e))
	if err != nil {
		return false
	}
	return res.Match
}

func patternEventFrom(e *models.Entity) map[string]interface{} {
	buf := make(map[string]interface{}, len(e.Attributes)+2)
	for k, v := range e.Attributes {
		buf[k] = v
	}
	buf["entity_id"] = e.ID
	buf["entity_type"] = string(e.Type)
	return buf
}
