// Package rules defines the pure rule-evaluation primitives of the scoring
// engine: a rule inspects one transaction plus a read-only population context
// and reports zero or more firings. The batch and single-transaction modes
// each carry their own constant table (BatchPolicy, SinglePolicy); the two
// tables look similar but differ in constants and stacking behavior and are
// kept separate on purpose.
package rules

import "strings"

// Firing is one fired rule: a human-readable label plus the score
// contribution it adds. Contributions are additive across firings.
type Firing struct {
	Label        string  `json:"label"`
	Contribution float64 `json:"contribution"`
}

// KeywordSet is a named list of lowercase keywords checked via
// case-insensitive substring match. Kept data-driven so the lists can be
// tuned without touching rule code.
type KeywordSet []string

// Matches returns every keyword contained in text (case-insensitive).
// An empty keyword matches any text.
func (ks KeywordSet) Matches(text string) []string {
	lower := strings.ToLower(text)
	var hits []string
	for _, kw := range ks {
		if strings.Contains(lower, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

// ContainsAny reports whether at least one keyword matches text.
func (ks KeywordSet) ContainsAny(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range ks {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsRoundAmount reports whether amount is an exact multiple of unit.
func IsRoundAmount(amount, unit float64) bool {
	if unit <= 0 {
		return false
	}
	quot := amount / unit
	return quot == float64(int64(quot))
}
