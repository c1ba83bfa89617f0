package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRuleFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}
	return path
}

func TestLoadRuleSetAppliesDefaults(t *testing.T) {
	path := writeRuleFile(t, `
version: 1
defaults:
  weight: 15
rules:
  - when:
      - {field: amount, op: GT, value: 5000}
  - id: named
    category: velocity
    weight: 40
    velocity: {metric: count, op: gt, value: 10}
`)

	rs, err := LoadRuleSet(path)
	if err != nil {
		t.Fatalf("load rule set: %v", err)
	}
	if len(rs.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rs.Rules))
	}

	first := rs.Rules[0]
	if first.ID != "rule-1" {
		t.Fatalf("expected generated id rule-1, got %q", first.ID)
	}
	if first.Weight != 15 {
		t.Fatalf("expected default weight 15, got %v", first.Weight)
	}
	if first.Category != "general" {
		t.Fatalf("expected default category, got %q", first.Category)
	}
	if first.When[0].Op != "gt" {
		t.Fatalf("expected op normalized to lowercase, got %q", first.When[0].Op)
	}
}

func TestLoadRuleSetRejectsInvalidDefinitions(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty rules", "version: 1\nrules: []\n"},
		{"negative weight", `
rules:
  - id: bad
    weight: -5
    when:
      - {field: amount, op: gt, value: 1}
`},
		{"unknown op", `
rules:
  - id: bad
    when:
      - {field: amount, op: between, value: 1}
`},
		{"duplicate id", `
rules:
  - id: dup
    when: [{field: a, op: present}]
  - id: dup
    when: [{field: b, op: present}]
`},
		{"no predicate blocks", `
rules:
  - id: empty
    weight: 10
`},
		{"bad velocity metric", `
rules:
  - id: v
    velocity: {metric: median, op: gt, value: 1}
`},
		{"unknown entity type", `
rules:
  - id: t
    entity_type: invoice
    when: [{field: a, op: present}]
`},
	}

	for _, tc := range cases {
		path := writeRuleFile(t, tc.content)
		if _, err := LoadRuleSet(path); err == nil {
			t.Fatalf("%s: expected load error", tc.name)
		}
	}
}

func TestNewEvaluatorRejectsEmptyRuleSet(t *testing.T) {
	if _, err := NewEvaluator(nil, 100); err == nil {
		t.Fatalf("expected error for nil rule set")
	}
	if _, err := NewEvaluator(&RuleSet{}, 100); err == nil {
		t.Fatalf("expected error for empty rule set")
	}
}
