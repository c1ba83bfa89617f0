package rules

import (
	"fmt"
	"strings"

	"riskengine/internal/metrics"
	"riskengine/pkg/models"
)

type compiledRule struct {
	rule    Rule
	pattern *patternMatcher
}

// Evaluator scores entities against a compiled rule set. Evaluation is
// deterministic and side-effect free: a malformed or missing attribute
// makes the rule not trigger, never an error.
type Evaluator struct {
	rules    []compiledRule
	maxScore float64
}

// NewEvaluator compiles a rule set. Sigma patterns are parsed once here
// so Evaluate stays allocation-light on the hot path.
func NewEvaluator(rs *RuleSet, maxScore float64) (*Evaluator, error) {
	if rs == nil || len(rs.Rules) == 0 {
		return nil, fmt.Errorf("rule set must not be empty")
	}
	if maxScore <= 0 {
		maxScore = 100
	}

	compiled := make([]compiledRule, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		cr := compiledRule{rule: r}
		if strings.TrimSpace(r.Pattern) != "" {
			m, err := compilePattern(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.ID, err)
			}
			cr.pattern = m
		}
		compiled = append(compiled, cr)
	}

	return &Evaluator{rules: compiled, maxScore: maxScore}, nil
}

// MaxScore returns the configured score cap.
func (ev *Evaluator) MaxScore() float64 {
	return ev.maxScore
}

// Evaluate runs every rule against the entity and returns the clamped
// weight sum, triggered rule IDs and rendered reasons in rule-set order.
func (ev *Evaluator) Evaluate(e *models.Entity, vctx models.VelocityContext) (float64, []string, []string) {
	var total float64
	var triggered []string
	var reasons []string

	for _, cr := range ev.rules {
		r := cr.rule
		if r.Disabled {
			continue
		}
		if r.EntityType != "" && e != nil && r.EntityType != string(e.Type) {
			continue
		}
		if !ev.matches(cr, e, vctx) {
			continue
		}

		total += r.Weight
		triggered = append(triggered, r.ID)
		reasons = append(reasons, renderReason(r, e))
		metrics.RuleHits.WithLabelValues(r.Category).Inc()
	}

	if total > ev.maxScore {
		total = ev.maxScore
	}
	if total < 0 {
		total = 0
	}
	return total, triggered, reasons
}

func (ev *Evaluator) matches(cr compiledRule, e *models.Entity, vctx models.VelocityContext) bool {
	for _, c := range cr.rule.When {
		if !evalCondition(e, c) {
			return false
		}
	}
	if v := cr.rule.Velocity; v != nil && !evalVelocity(*v, vctx) {
		return false
	}
	if cr.pattern != nil && !cr.pattern.Match(e) {
		return false
	}
	return true
}

func evalCondition(e *models.Entity, c Condition) bool {
	switch c.Op {
	case "present":
		return e.Has(c.Field)
	case "absent":
		return !e.Has(c.Field)
	case "gt", "gte", "lt", "lte":
		have, ok := e.Number(c.Field)
		if !ok {
			return false
		}
		want, ok := asFloat(c.Value)
		if !ok {
			return false
		}
		return compareFloat(c.Op, have, want)
	case "eq", "ne":
		if want, ok := asFloat(c.Value); ok {
			if have, numeric := e.Number(c.Field); numeric {
				eq := have == want
				if c.Op == "ne" {
					return !eq
				}
				return eq
			}
		}
		eq := e.Field(c.Field) == asString(c.Value)
		if c.Op == "ne" {
			return !eq
		}
		return eq
	case "contains":
		return strings.Contains(e.Field(c.Field), asString(c.Value))
	}
	return false
}

func evalVelocity(v VelocityCondition, vctx models.VelocityContext) bool {
	have := float64(vctx.Count)
	if v.Metric == "sum" {
		have = vctx.Sum
	}
	return compareFloat(v.Op, have, v.Value)
}

func compareFloat(op string, have, want float64) bool {
	switch op {
	case "gt":
		return have > want
	case "gte":
		return have >= want
	case "lt":
		return have < want
	case "lte":
		return have <= want
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

func asString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderReason substitutes {attribute} tokens in the reason template with
// entity attribute values.
func renderReason(r Rule, e *models.Entity) string {
	tpl := r.Reason
	if strings.TrimSpace(tpl) == "" {
		return fmt.Sprintf("rule %s matched", r.ID)
	}

	var b strings.Builder
	for {
		open := strings.Index(tpl, "{")
		if open < 0 {
			b.WriteString(tpl)
			break
		}
		close := strings.Index(tpl[open:], "}")
		if close < 0 {
			b.WriteString(tpl)
			break
		}
		b.WriteString(tpl[:open])
		b.WriteString(e.Field(tpl[open+1 : open+close]))
		tpl = tpl[open+close+1:]
	}
	return b.String()
}
