package classify

import (
	"fmt"
	"sort"
	"strings"
)

// Threshold binds a tier name to the minimum score that reaches it.
type Threshold struct {
	Tier     string
	MinScore float64
}

// Policy maps scores onto an ordered tier ladder. Thresholds are
// inclusive-lower and the highest qualifying tier always wins.
type Policy struct {
	// ascending severity, as configured
	ladder []Threshold
	// descending by MinScore for classification scans
	byScore []Threshold
	rank    map[string]int
}

// NewPolicy builds a policy from thresholds listed in ascending severity
// order. At least one tier is required.
func NewPolicy(thresholds []Threshold) (*Policy, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("tier thresholds must not be empty")
	}

	p := &Policy{
		ladder: append([]Threshold(nil), thresholds...),
		rank:   make(map[string]int, len(thresholds)),
	}
	for i, t := range p.ladder {
		name := strings.TrimSpace(t.Tier)
		if name == "" {
			return nil, fmt.Errorf("tier %d has an empty name", i)
		}
		if _, dup := p.rank[name]; dup {
			return nil, fmt.Errorf("duplicate tier %q", name)
		}
		p.rank[name] = i
	}

	p.byScore = append([]Threshold(nil), p.ladder...)
	sort.SliceStable(p.byScore, func(i, j int) bool {
		if p.byScore[i].MinScore != p.byScore[j].MinScore {
			return p.byScore[i].MinScore > p.byScore[j].MinScore
		}
		// Equal thresholds: the more severe tier wins the scan.
		return p.rank[p.byScore[i].Tier] > p.rank[p.byScore[j].Tier]
	})

	return p, nil
}

// Classify returns the highest tier whose threshold is at or below score.
// It is total: scores below every threshold fall into the lowest tier.
func (p *Policy) Classify(score float64) string {
	for _, t := range p.byScore {
		if t.MinScore <= score {
			return t.Tier
		}
	}
	return p.ladder[0].Tier
}

// Rank returns the severity position of a tier, or -1 for unknown tiers.
func (p *Policy) Rank(tier string) int {
	r, ok := p.rank[tier]
	if !ok {
		return -1
	}
	return r
}

// AtOrAbove reports whether tier is at least as severe as floor.
// Unknown tiers never qualify.
func (p *Policy) AtOrAbove(tier, floor string) bool {
	tr, fr := p.Rank(tier), p.Rank(floor)
	if tr < 0 || fr < 0 {
		return false
	}
	return tr >= fr
}
