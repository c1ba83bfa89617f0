package rules

import (
	"testing"
	"time"

	"riskengine/pkg/models"
)

func testEntity(attrs map[string]interface{}) *models.Entity {
	return &models.Entity{
		ID:         "tx-1",
		Type:       models.EntityTransaction,
		ObservedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Attributes: attrs,
	}
}

func mustEvaluator(t *testing.T, rs *RuleSet, maxScore float64) *Evaluator {
	t.Helper()
	if err := normalize(rs); err != nil {
		t.Fatalf("normalize rule set: %v", err)
	}
	ev, err := NewEvaluator(rs, maxScore)
	if err != nil {
		t.Fatalf("compile rule set: %v", err)
	}
	return ev
}

func TestEvaluateSumsWeightsOfTriggeredRules(t *testing.T) {
	rs := &RuleSet{Rules: []Rule{
		{ID: "high-amount", Weight: 30, When: []Condition{{Field: "amount", Op: "gt", Value: 5000}}},
		{ID: "very-high-amount", Weight: 30, When: []Condition{{Field: "amount", Op: "gt", Value: 10000}}},
		{ID: "foreign", Weight: 20, When: []Condition{{Field: "currency", Op: "ne", Value: "USD"}}},
	}}
	ev := mustEvaluator(t, rs, 100)

	entity := testEntity(map[string]interface{}{"amount": 12000.0, "currency": "USD", "merchant": "acme"})
	score, triggered, reasons := ev.Evaluate(entity, models.VelocityContext{})

	if score != 60 {
		t.Fatalf("expected score 60, got %v", score)
	}
	if len(triggered) != 2 || triggered[0] != "high-amount" || triggered[1] != "very-high-amount" {
		t.Fatalf("unexpected triggered rules: %v", triggered)
	}
	if len(reasons) != 2 {
		t.Fatalf("expected 2 reasons, got %d", len(reasons))
	}
}

func TestEvaluateClampsScoreToMax(t *testing.T) {
	rs := &RuleSet{Rules: []Rule{
		{ID: "a", Weight: 70, When: []Condition{{Field: "amount", Op: "gt", Value: 0}}},
		{ID: "b", Weight: 70, When: []Condition{{Field: "amount", Op: "gt", Value: 0}}},
	}}
	ev := mustEvaluator(t, rs, 100)

	score, _, _ := ev.Evaluate(testEntity(map[string]interface{}{"amount": 10.0}), models.VelocityContext{})
	if score != 100 {
		t.Fatalf("expected clamped score 100, got %v", score)
	}
}

func TestEvaluateScoreIsIndependentOfRuleOrder(t *testing.T) {
	base := []Rule{
		{ID: "a", Weight: 10, When: []Condition{{Field: "amount", Op: "gt", Value: 100}}},
		{ID: "b", Weight: 20, When: []Condition{{Field: "currency", Op: "eq", Value: "EUR"}}},
		{ID: "c", Weight: 40, When: []Condition{{Field: "merchant", Op: "contains", Value: "acme"}}},
	}
	reversed := []Rule{base[2], base[1], base[0]}

	entity := testEntity(map[string]interface{}{"amount": 500.0, "currency": "EUR", "merchant": "acme-shop"})

	forward := mustEvaluator(t, &RuleSet{Rules: base}, 100)
	backward := mustEvaluator(t, &RuleSet{Rules: reversed}, 100)

	s1, t1, _ := forward.Evaluate(entity, models.VelocityContext{})
	s2, t2, _ := backward.Evaluate(entity, models.VelocityContext{})

	if s1 != s2 {
		t.Fatalf("score depends on rule order: %v vs %v", s1, s2)
	}
	if s1 != 70 {
		t.Fatalf("expected score 70, got %v", s1)
	}
	// Presentation order follows rule-set order.
	if t1[0] != "a" || t2[0] != "c" {
		t.Fatalf("unexpected trigger order: %v / %v", t1, t2)
	}
}

func TestEvaluateTreatsMalformedAttributesAsNotTriggered(t *testing.T) {
	rs := &RuleSet{Rules: []Rule{
		{ID: "high-amount", Weight: 30, When: []Condition{{Field: "amount", Op: "gt", Value: 5000}}},
		{ID: "always", Weight: 5, When: []Condition{{Field: "amount", Op: "present"}}},
	}}
	ev := mustEvaluator(t, rs, 100)

	// amount is a non-numeric string: the gt rule must silently not trigger.
	entity := testEntity(map[string]interface{}{"amount": "not-a-number"})
	score, triggered, _ := ev.Evaluate(entity, models.VelocityContext{})

	if score != 5 {
		t.Fatalf("expected only presence rule to trigger, score=%v triggered=%v", score, triggered)
	}
}

func TestEvaluateVelocityThresholdIsStrict(t *testing.T) {
	rs := &RuleSet{Rules: []Rule{
		{ID: "high-frequency", Weight: 40, Velocity: &VelocityCondition{Metric: "count", Op: "gt", Value: 10}},
	}}
	ev := mustEvaluator(t, rs, 100)
	entity := testEntity(map[string]interface{}{"amount": 10.0, "merchant": "acme"})

	score, _, _ := ev.Evaluate(entity, models.VelocityContext{Count: 11})
	if score != 40 {
		t.Fatalf("count=11 must trigger count>10, got score %v", score)
	}

	score, _, _ = ev.Evaluate(entity, models.VelocityContext{Count: 10})
	if score != 0 {
		t.Fatalf("count=10 must not trigger count>10, got score %v", score)
	}
}

func TestEvaluateVelocitySumMetric(t *testing.T) {
	rs := &RuleSet{Rules: []Rule{
		{ID: "high-volume", Weight: 25, Velocity: &VelocityCondition{Metric: "sum", Op: "gte", Value: 50000}},
	}}
	ev := mustEvaluator(t, rs, 100)
	entity := testEntity(map[string]interface{}{"amount": 10.0})

	if score, _, _ := ev.Evaluate(entity, models.VelocityContext{Sum: 50000}); score != 25 {
		t.Fatalf("sum=50000 must trigger sum>=50000, got score %v", score)
	}
	if score, _, _ := ev.Evaluate(entity, models.VelocityContext{Sum: 49999}); score != 0 {
		t.Fatalf("sum=49999 must not trigger, got score %v", score)
	}
}

func TestEvaluateSkipsRulesForOtherEntityTypes(t *testing.T) {
	rs := &RuleSet{Rules: []Rule{
		{ID: "stack-only", EntityType: "stack", Weight: 30, When: []Condition{{Field: "drift", Op: "eq", Value: "DRIFTED"}}},
		{ID: "any-type", Weight: 10, When: []Condition{{Field: "drift", Op: "present"}}},
	}}
	ev := mustEvaluator(t, rs, 100)

	entity := testEntity(map[string]interface{}{"drift": "DRIFTED"})
	score, triggered, _ := ev.Evaluate(entity, models.VelocityContext{})
	if score != 10 || len(triggered) != 1 || triggered[0] != "any-type" {
		t.Fatalf("stack rule must not apply to transactions: score=%v triggered=%v", score, triggered)
	}
}

func TestEvaluateSigmaPatternAgainstAttributes(t *testing.T) {
	pattern := `
title: open ingress
detection:
  open:
    cidr|contains: "0.0.0.0/0"
  condition: open
`
	rs := &RuleSet{Rules: []Rule{
		{ID: "open-ingress", EntityType: "cloud_resource", Weight: 50, Pattern: pattern},
	}}
	ev := mustEvaluator(t, rs, 100)

	open := &models.Entity{
		ID:   "sg-1",
		Type: models.EntityCloudResource,
		Attributes: map[string]interface{}{
			"resource_type": "security_group",
			"cidr":          "0.0.0.0/0",
		},
	}
	closed := &models.Entity{
		ID:   "sg-2",
		Type: models.EntityCloudResource,
		Attributes: map[string]interface{}{
			"resource_type": "security_group",
			"cidr":          "10.0.0.0/8",
		},
	}

	if score, _, _ := ev.Evaluate(open, models.VelocityContext{}); score != 50 {
		t.Fatalf("expected open ingress to match, got score %v", score)
	}
	if score, _, _ := ev.Evaluate(closed, models.VelocityContext{}); score != 0 {
		t.Fatalf("expected private CIDR not to match, got score %v", score)
	}
}

func TestRenderReasonSubstitutesAttributes(t *testing.T) {
	r := Rule{ID: "high-amount", Reason: "amount {amount} exceeds limit for {merchant}"}
	entity := testEntity(map[string]interface{}{"amount": 12000.0, "merchant": "acme"})

	got := renderReason(r, entity)
	want := "amount 12000 exceeds limit for acme"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRenderReasonFallsBackWithoutTemplate(t *testing.T) {
	got := renderReason(Rule{ID: "x"}, testEntity(nil))
	if got != "rule x matched" {
		t.Fatalf("unexpected fallback reason %q", got)
	}
}
