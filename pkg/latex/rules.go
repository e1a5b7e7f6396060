package latex

import (
	"maps"
	"slices"
)

// RuleID names one independently toggleable rewrite.
type RuleID string

const (
	RuleFractions RuleID = "fractions"
	RuleExponents RuleID = "exponents"
	RuleSqrt      RuleID = "sqrt"
)

// Rules maps rule identifiers to their enabled flag.
//
// A rule that is absent from the map is disabled.
type Rules map[RuleID]bool

// Enabled reports whether id is switched on.
func (r Rules) Enabled(id RuleID) bool {
	if r == nil {
		return false
	}

	return r[id]
}

// Clone returns an independent copy so a conversion never observes later edits.
func (r Rules) Clone() Rules {
	if r == nil {
		return Rules{}
	}

	return maps.Clone(r)
}

// AnyEnabled reports whether at least one rule is switched on.
func (r Rules) AnyEnabled() bool {
	for _, enabled := range r {
		if enabled {
			return true
		}
	}

	return false
}

// DefaultRules enables every known rule.
func DefaultRules() Rules {
	rules := make(Rules, len(greekLexicon)+3)
	for _, id := range KnownRules() {
		rules[id] = true
	}

	return rules
}

// KnownRules lists every rule identifier in display order:
// structural rewrites first, then the Greek lexicon order.
func KnownRules() []RuleID {
	ids := []RuleID{RuleFractions, RuleExponents, RuleSqrt}
	for _, letter := range greekLexicon {
		ids = append(ids, letter.Rule)
	}

	return ids
}

// IsKnownRule reports whether id names a rule the pipeline understands.
func IsKnownRule(id RuleID) bool {
	return slices.Contains(KnownRules(), id)
}
