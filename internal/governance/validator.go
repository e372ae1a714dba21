package governance

import (
	"strings"

	"github.com/mpast043/IntoTheUnknown/internal/policy"
)

// VoidResult describes a validator hit. A voided command never reaches the
// memory gate; the controller short-circuits everything except the audit
// record.
type VoidResult struct {
	RuleID   string          `json:"rule_id"`
	Pattern  string          `json:"pattern"`
	Severity policy.Severity `json:"severity"`
}

// Validator performs the lexical precheck against the forbidden phrase table.
type Validator struct {
	rules []policy.PhraseRule
}

// NewValidator creates a validator over the given policy rules.
func NewValidator(rules *policy.Rules) *Validator {
	return &Validator{rules: rules.ForbiddenPhrases}
}

// Precheck matches the input against the forbidden phrase table.
// Returns nil when the input passes. Matching is case-insensitive substring
// matching; the first hit wins and is reported with its rule id so the audit
// trail identifies the exact policy line.
func (v *Validator) Precheck(text string) *VoidResult {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	for _, rule := range v.rules {
		if strings.Contains(lower, strings.ToLower(rule.Phrase)) {
			return &VoidResult{
				RuleID:   rule.ID,
				Pattern:  rule.Phrase,
				Severity: rule.Severity,
			}
		}
	}
	return nil
}
