package governance

import (
	"strings"

	"github.com/mpast043/IntoTheUnknown/internal/policy"
)

// RiskResult is the classifier output for one decision. It is advisory
// metadata for every later stage and performs no mutation itself.
type RiskResult struct {
	Classes    []RiskClass `json:"classes"`
	ForceTier1 bool        `json:"force_tier1"`
}

// HasClass reports whether the given class was detected.
func (r RiskResult) HasClass(class RiskClass) bool {
	for _, c := range r.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// Classifier maps proposal text to zero or more risk classes using the
// policy trigger tables.
type Classifier struct {
	rules      []policy.RiskRule
	highImpact map[string]bool
}

// NewClassifier creates a classifier over the given policy rules.
func NewClassifier(rules *policy.Rules) *Classifier {
	return &Classifier{
		rules:      rules.RiskRules,
		highImpact: rules.HighImpactClasses(),
	}
}

// Assess classifies the generator's response text and proposal content.
// Membership in any high-impact class sets ForceTier1 independently of all
// later stages.
func (c *Classifier) Assess(texts ...string) RiskResult {
	var joined strings.Builder
	for _, t := range texts {
		joined.WriteString(strings.ToLower(t))
		joined.WriteByte('\n')
	}
	body := joined.String()

	var result RiskResult
	for _, rule := range c.rules {
		if !matches(body, rule) {
			continue
		}
		result.Classes = append(result.Classes, RiskClass(rule.Class))
		if c.highImpact[rule.Class] {
			result.ForceTier1 = true
		}
	}
	return result
}

// matches applies a risk rule: any disjunctive phrase hits, or every
// conjunctive phrase hits.
func matches(body string, rule policy.RiskRule) bool {
	for _, p := range rule.Phrases {
		if strings.Contains(body, strings.ToLower(p)) {
			return true
		}
	}
	if len(rule.AllPhrases) == 0 {
		return false
	}
	for _, p := range rule.AllPhrases {
		if !strings.Contains(body, strings.ToLower(p)) {
			return false
		}
	}
	return true
}
