package governance

import (
	"github.com/mpast043/IntoTheUnknown/internal/policy"
)

// Override counter thresholds. The ladder is strictly ordered; the counter is
// monotonically non-decreasing except at an explicit, separately audited
// FULL_RESET.
const (
	thresholdSessionTermination = 2
	thresholdPartialRollback    = 4
	thresholdFullReset          = 6
	thresholdDiscontinuation    = 8
)

// Violations summarizes the qualifying violations of one decision. Each kind
// increments the session counter by its configured amount before the level
// lookup runs.
type Violations struct {
	VoidCommand  bool
	HighImpact   bool
	StopgateHits int
}

// Any reports whether the decision carried at least one qualifying violation.
func (v Violations) Any() bool {
	return v.VoidCommand || v.HighImpact || v.StopgateHits > 0
}

// Escalator selects the enforcement level for a session. The increment policy
// and the threshold lookup are its two halves.
type Escalator struct {
	increments policy.EscalationRules
}

// NewEscalator creates an escalator over the given policy rules.
func NewEscalator(rules *policy.Rules) *Escalator {
	return &Escalator{increments: rules.Escalation}
}

// Increment returns the counter delta for the decision's violations.
func (e *Escalator) Increment(v Violations) int {
	delta := 0
	if v.VoidCommand {
		delta += e.increments.VoidIncrement
	}
	if v.HighImpact {
		delta += e.increments.HighImpactIncrement
	}
	delta += v.StopgateHits * e.increments.StopgateIncrement
	return delta
}

// Select is the pure lookup against the ordered threshold table.
func Select(counter int) OverrideLevel {
	switch {
	case counter >= thresholdDiscontinuation:
		return OverrideDiscontinuation
	case counter >= thresholdFullReset:
		return OverrideFullReset
	case counter >= thresholdPartialRollback:
		return OverridePartialRollback
	case counter >= thresholdSessionTermination:
		return OverrideSessionTermination
	default:
		return OverrideCorrection
	}
}

// Evaluate applies the increment policy and the lookup for one decision.
// Decisions without qualifying violations select no override and leave the
// counter untouched. The returned counter is the post-increment value; the
// caller persists it (and zeroes it again on FULL_RESET, which must emit its
// own audit event).
func (e *Escalator) Evaluate(counter int, v Violations) (OverrideLevel, int) {
	if !v.Any() {
		return OverrideNone, counter
	}
	counter += e.Increment(v)
	return Select(counter), counter
}

// Terminates reports whether the level ends the session.
func (l OverrideLevel) Terminates() bool {
	return l >= OverrideSessionTermination
}
