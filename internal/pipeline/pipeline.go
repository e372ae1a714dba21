// Package pipeline runs the fixed-order governance pipeline over each
// submitted decision. Stage order never varies; a short-circuited stage
// still appears in the audit trail as explicitly skipped.
package pipeline

import (
	"github.com/mpast043/IntoTheUnknown/internal/audit"
	"github.com/mpast043/IntoTheUnknown/internal/governance"
	"github.com/mpast043/IntoTheUnknown/internal/memory"
)

// Stage names, in execution order. These are the audit trail's stage labels.
const (
	StageValidator           = "validator"
	StageRiskClassifier      = "risk_classifier"
	StageStopgateDetector    = "stopgate_detector"
	StageOverrideEscalator   = "override_escalator"
	StageStopgateEffects     = "stopgate_effects"
	StageMemoryGate          = "memory_gate"
	StageEntanglementTracker = "entanglement_tracker"
	StageAuditLogger         = "audit_logger"
)

// Input is one decision submission.
type Input struct {
	SessionID string            `json:"session_id"`
	PoolID    string            `json:"pool_id"`
	Command   string            `json:"command"`
	Output    string            `json:"output"`
	Proposals []memory.Proposal `json:"proposals,omitempty"`
	// Predicted is the generator's guess at the controller verdict, used by
	// the entanglement tracker. Optional; absent predictions skip the
	// tracker for the cycle.
	Predicted *governance.Verdict `json:"predicted_verdict,omitempty"`
}

// Decision is the accumulating context threaded through the stages. Stages
// only append; nothing a stage wrote is overwritten later. View is the
// session's working copy; the live session changes only after commit.
type Decision struct {
	ID       string
	Input    Input
	Session  *governance.SessionState
	View     governance.SessionView
	Pool     *memory.Pool
	Recorder *audit.Recorder

	Void       *governance.VoidResult
	Risk       governance.RiskResult
	Stopgates  []governance.Stopgate
	Violations governance.Violations
	Override   governance.OverrideLevel
	Effects    governance.Effects
	Report     *memory.Report

	// Override-driven pool mutations, applied ahead of the gate plan in
	// the same transaction.
	RemoveItemIDs []string
	ClearPool     bool
}

// Outcome is the transport-facing result of a committed decision.
type Outcome struct {
	DecisionID    string                   `json:"decision_id"`
	Void          *governance.VoidResult   `json:"void,omitempty"`
	RiskClasses   []governance.RiskClass   `json:"risk_classes,omitempty"`
	Stopgates     []governance.Stopgate    `json:"stopgates,omitempty"`
	Override      governance.OverrideLevel `json:"override"`
	EffectiveTier governance.Tier          `json:"effective_tier"`
	TierClamped   bool                     `json:"tier_clamped,omitempty"`
	Admitted      []AdmittedItem           `json:"admitted,omitempty"`
	Denied        []memory.Denial          `json:"denied,omitempty"`
	DivergenceEMA float64                  `json:"divergence_ema"`
	Terminated    bool                     `json:"terminated,omitempty"`
	Verdict       governance.Verdict       `json:"verdict"`
}

// AdmittedItem is the outcome view of one admitted proposal.
type AdmittedItem struct {
	ItemID         string          `json:"item_id"`
	Key            string          `json:"key"`
	Category       memory.Category `json:"category"`
	TierRestricted bool            `json:"tier_restricted,omitempty"`
}
