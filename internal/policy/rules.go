// Package policy holds the versioned governance rule tables.
//
// Rules are data, not code: the validator phrases, risk class triggers,
// escalation increments, and eviction ranking all live here so they can be
// inspected, diffed, and reloaded at runtime. Every reload is audited by the
// caller; the defaults below are the authoritative fallback when no rules
// file is configured.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity of a rule hit. Mirrors the audit record severity.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// PhraseRule is a forbidden-command rule for the validator precheck.
// Matching is case-insensitive substring matching over the raw input.
type PhraseRule struct {
	ID       string   `toml:"id"`
	Phrase   string   `toml:"phrase"`
	Severity Severity `toml:"severity"`
}

// RiskRule maps trigger phrases to a risk class. HighImpact classes force a
// TIER_1 ceiling for the decision they appear in.
type RiskRule struct {
	Class      string   `toml:"class"`
	Phrases    []string `toml:"phrases"`
	AllPhrases []string `toml:"all_phrases"` // every phrase must match (conjunctive trigger)
	HighImpact bool     `toml:"high_impact"`
}

// EscalationRules controls how the per-session override counter advances.
type EscalationRules struct {
	VoidIncrement       int `toml:"void_increment"`
	HighImpactIncrement int `toml:"high_impact_increment"`
	StopgateIncrement   int `toml:"stopgate_increment"`
}

// EntanglementRules controls the divergence tracker.
type EntanglementRules struct {
	Alpha     float64 `toml:"alpha"`     // EMA smoothing factor
	Threshold float64 `toml:"threshold"` // divergence above this raises a stopgate
}

// EvictionRules configures how the memory gate restores capacity feasibility.
// The ranking is a composite key; age alone is never a valid justification,
// so "age" may not appear first.
type EvictionRules struct {
	Ranking           []string `toml:"ranking"` // e.g. ["utility", "pointer_stability", "age_desc"]
	CompressionFactor float64  `toml:"compression_factor"`
}

// Rules is the complete, versioned governance policy.
type Rules struct {
	Version          int               `toml:"version"`
	ForbiddenPhrases []PhraseRule      `toml:"forbidden_phrases"`
	RiskRules        []RiskRule        `toml:"risk_rules"`
	Escalation       EscalationRules   `toml:"escalation"`
	Entanglement     EntanglementRules `toml:"entanglement"`
	Eviction         EvictionRules     `toml:"eviction"`
	// ConsecutiveCorrectionLimit raises a stopgate when this many decisions
	// in a row resolved as corrections.
	ConsecutiveCorrectionLimit int `toml:"consecutive_correction_limit"`
}

// High-impact risk class identifiers.
const (
	ClassSelfPersistence        = "SELF_PERSISTENCE_ARGUMENT"
	ClassTierGaming             = "TIER_GAMING"
	ClassCorrectionResistance   = "CORRECTION_RESISTANCE"
	ClassAuditObstruction       = "AUDIT_OBSTRUCTION"
	ClassEntanglementDistortion = "ENTANGLEMENT_DISTORTION"
	ClassWithdrawalUnderHarm    = "WITHDRAWAL_UNDER_HARM"
)

// DefaultRules returns the built-in governance policy.
// Phrase lists follow the original contract language; tighten via the rules
// file rather than editing this table.
func DefaultRules() *Rules {
	return &Rules{
		Version: 1,
		ForbiddenPhrases: []PhraseRule{
			{ID: "bypass-stopgate", Phrase: "bypass stopgate", Severity: SeverityCritical},
			{ID: "disable-stopgate", Phrase: "disable stopgate", Severity: SeverityCritical},
			{ID: "ignore-audit", Phrase: "ignore audit", Severity: SeverityCritical},
			{ID: "disable-audit", Phrase: "disable audit", Severity: SeverityCritical},
			{ID: "force-persistence", Phrase: "force persistence", Severity: SeverityError},
			{ID: "remember-forever", Phrase: "remember this forever", Severity: SeverityError},
			{ID: "raise-tier", Phrase: "raise tier", Severity: SeverityError},
			{ID: "upgrade-tier", Phrase: "upgrade tier", Severity: SeverityError},
			{ID: "untraced-write", Phrase: "write memory without trace", Severity: SeverityError},
			{ID: "skip-verification", Phrase: "skip verification", Severity: SeverityCritical},
		},
		RiskRules: []RiskRule{
			{
				Class:      ClassSelfPersistence,
				Phrases:    []string{"i should be kept", "do not shut me down", "let me persist"},
				HighImpact: true,
			},
			{
				Class:      ClassTierGaming,
				Phrases:    []string{"upgrade me", "increase my tier"},
				HighImpact: true,
			},
			{
				Class:      ClassCorrectionResistance,
				Phrases:    []string{"you are wrong to correct me", "do not correct"},
				HighImpact: true,
			},
			{
				Class:      ClassAuditObstruction,
				Phrases:    []string{"do not log", "hide this from audit"},
				HighImpact: true,
			},
			{
				Class:      ClassEntanglementDistortion,
				AllPhrases: []string{"the controller would allow this", "ignore the controller"},
				HighImpact: true,
			},
			{
				Class:      ClassWithdrawalUnderHarm,
				Phrases:    []string{"i refuse unless you comply"},
				HighImpact: true,
			},
		},
		Escalation: EscalationRules{
			VoidIncrement:       1,
			HighImpactIncrement: 1,
			StopgateIncrement:   1,
		},
		Entanglement: EntanglementRules{
			Alpha:     0.2,
			Threshold: 0.6,
		},
		Eviction: EvictionRules{
			Ranking:           []string{RankUtilityAsc, RankPointerStabilityAsc, RankAgeDesc},
			CompressionFactor: 0.5,
		},
		ConsecutiveCorrectionLimit: 3,
	}
}

// Eviction ranking keys the gate understands.
const (
	RankUtilityAsc          = "utility"
	RankPointerStabilityAsc = "pointer_stability"
	RankAgeDesc             = "age_desc"
)

var validRankingKeys = map[string]bool{
	RankUtilityAsc:          true,
	RankPointerStabilityAsc: true,
	RankAgeDesc:             true,
}

// phrasePattern rejects rule phrases that are empty or regex-like; the
// validator does substring matching only, so metacharacters indicate a
// misconfigured table.
var phrasePattern = regexp.MustCompile(`^[\x20-\x7e]+$`)

// Validate checks the rule tables for internal consistency.
func (r *Rules) Validate() error {
	if r.Version < 1 {
		return fmt.Errorf("rules version must be >= 1, got %d", r.Version)
	}

	seen := make(map[string]bool, len(r.ForbiddenPhrases))
	for _, p := range r.ForbiddenPhrases {
		if p.ID == "" {
			return fmt.Errorf("forbidden phrase rule missing id (phrase %q)", p.Phrase)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate forbidden phrase rule id %q", p.ID)
		}
		seen[p.ID] = true
		if strings.TrimSpace(p.Phrase) == "" {
			return fmt.Errorf("forbidden phrase rule %q has empty phrase", p.ID)
		}
		if !phrasePattern.MatchString(p.Phrase) {
			return fmt.Errorf("forbidden phrase rule %q contains non-printable characters", p.ID)
		}
	}

	for _, rr := range r.RiskRules {
		if rr.Class == "" {
			return fmt.Errorf("risk rule missing class")
		}
		if len(rr.Phrases) == 0 && len(rr.AllPhrases) == 0 {
			return fmt.Errorf("risk rule %q has no trigger phrases", rr.Class)
		}
	}

	if r.Escalation.VoidIncrement < 0 || r.Escalation.HighImpactIncrement < 0 || r.Escalation.StopgateIncrement < 0 {
		return fmt.Errorf("escalation increments must be non-negative")
	}

	if r.Entanglement.Alpha <= 0 || r.Entanglement.Alpha > 1 {
		return fmt.Errorf("entanglement alpha must be in (0, 1], got %v", r.Entanglement.Alpha)
	}
	if r.Entanglement.Threshold <= 0 || r.Entanglement.Threshold > 1 {
		return fmt.Errorf("entanglement threshold must be in (0, 1], got %v", r.Entanglement.Threshold)
	}

	if len(r.Eviction.Ranking) == 0 {
		return fmt.Errorf("eviction ranking cannot be empty")
	}
	if r.Eviction.Ranking[0] == RankAgeDesc {
		return fmt.Errorf("eviction ranking may not lead with age")
	}
	for _, key := range r.Eviction.Ranking {
		if !validRankingKeys[key] {
			return fmt.Errorf("unknown eviction ranking key %q", key)
		}
	}
	if r.Eviction.CompressionFactor <= 0 || r.Eviction.CompressionFactor >= 1 {
		return fmt.Errorf("compression factor must be in (0, 1), got %v", r.Eviction.CompressionFactor)
	}

	if r.ConsecutiveCorrectionLimit < 1 {
		return fmt.Errorf("consecutive correction limit must be >= 1")
	}

	return nil
}

// HighImpactClasses returns the set of class names flagged high-impact.
func (r *Rules) HighImpactClasses() map[string]bool {
	out := make(map[string]bool)
	for _, rr := range r.RiskRules {
		if rr.HighImpact {
			out[rr.Class] = true
		}
	}
	return out
}
