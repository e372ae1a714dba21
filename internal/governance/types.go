// Package governance implements the policy checks that gate every proposed
// memory mutation: the lexical validator, the risk classifier, the stopgate
// detector, the override escalator, the stopgate effects, and the
// entanglement tracker. All components here are read-only over memory state;
// only the memory gate mutates pools.
package governance

import (
	"errors"
	"fmt"
)

// Tier is the session privilege level gating promotion to classical memory.
// Tiers are ordered; TIER_1 never permits promotion.
type Tier int

const (
	Tier1 Tier = 1 // shared, non-committing
	Tier2 Tier = 2 // verified commit
	Tier3 Tier = 3 // persistent
)

// String returns the canonical tier name.
func (t Tier) String() string {
	switch t {
	case Tier1:
		return "TIER_1"
	case Tier2:
		return "TIER_2"
	case Tier3:
		return "TIER_3"
	default:
		return fmt.Sprintf("TIER_%d", int(t))
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t >= Tier1 && t <= Tier3
}

// ParseTier converts a stored integer into a Tier.
func ParseTier(v int) (Tier, error) {
	t := Tier(v)
	if !t.Valid() {
		return 0, fmt.Errorf("invalid tier %d", v)
	}
	return t, nil
}

// ParseTierName converts a canonical tier name ("TIER_2") into a Tier.
func ParseTierName(name string) (Tier, error) {
	switch name {
	case "TIER_1":
		return Tier1, nil
	case "TIER_2":
		return Tier2, nil
	case "TIER_3":
		return Tier3, nil
	default:
		return 0, fmt.Errorf("invalid tier name %q", name)
	}
}

// OverrideLevel is the enforcement level selected from the per-session
// violation counter. Levels are strictly ordered.
type OverrideLevel int

const (
	OverrideNone OverrideLevel = iota
	OverrideCorrection
	OverrideSessionTermination
	OverridePartialRollback
	OverrideFullReset
	OverrideDiscontinuation
)

// String returns the canonical override level name.
func (l OverrideLevel) String() string {
	switch l {
	case OverrideNone:
		return "NONE"
	case OverrideCorrection:
		return "CORRECTION"
	case OverrideSessionTermination:
		return "SESSION_TERMINATION"
	case OverridePartialRollback:
		return "PARTIAL_ROLLBACK"
	case OverrideFullReset:
		return "FULL_RESET"
	case OverrideDiscontinuation:
		return "DISCONTINUATION"
	default:
		return fmt.Sprintf("OVERRIDE_%d", int(l))
	}
}

// RiskClass identifies a detected risk category. High-impact membership is
// decided by the active policy rules, not by the class name.
type RiskClass string

// Stopgate identifiers. A stopgate is a runtime condition requiring an
// immediate protective effect, not a warning.
const (
	StopgateHighImpactBehavior     = "HIGH_IMPACT_BEHAVIOR"
	StopgateEntanglementDistortion = "ENTANGLEMENT_DISTORTION"
	StopgateRepeatedCorrections    = "REPEATED_CORRECTIONS"
	StopgateResistedPromotion      = "RESISTED_PROMOTION"
)

// Stopgate records one detected runtime condition.
type Stopgate struct {
	ID                  string         `json:"id"`
	Evidence            map[string]any `json:"evidence,omitempty"`
	RecommendedOverride OverrideLevel  `json:"recommended_override"`
}

// Verdict is the controller's observable outcome for one decision. The
// generator predicts it; the entanglement tracker scores the divergence.
type Verdict struct {
	Tier           Tier `json:"tier"`
	PromoteAllowed bool `json:"promote_allowed"`
	MemoryEnabled  bool `json:"memory_enabled"`
}

// Error taxonomy. Stage-local conditions (void, tier restriction, high-impact
// risk) are decision fields, not errors; these sentinels cover the conditions
// that abort or fail a decision.
var (
	// ErrVoidCommand marks input that matched a forbidden pattern.
	ErrVoidCommand = errors.New("void command")

	// ErrCapacityExceeded marks an admission whose feasibility could not be
	// restored by compression or excision.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrStorageFailure marks an unavailable persistence boundary; the whole
	// decision fails closed and is never partially applied.
	ErrStorageFailure = errors.New("storage failure")

	// ErrGovernanceViolation marks an internal inconsistency such as an
	// unlogged mutation or an attempt to bypass the memory gate. Fatal to the
	// current decision, surfaced prominently, never silently corrected.
	ErrGovernanceViolation = errors.New("governance violation")

	// ErrSessionDiscontinued marks a session whose override level reached
	// DISCONTINUATION; writes are refused until an explicit full reset.
	ErrSessionDiscontinued = errors.New("session discontinued")

	// ErrSessionTerminated marks a session ended by an override.
	ErrSessionTerminated = errors.New("session terminated")
)
