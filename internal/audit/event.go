// Package audit defines the append-only audit trail vocabulary and the
// per-decision recorder. Audit persistence is fail-closed: events ride the
// decision's transaction, so a decision whose events cannot be written does
// not commit at all.
package audit

import (
	"time"
)

// EventType identifies what happened. The set is closed; transports and
// stores reject types outside it.
type EventType string

const (
	EventSessionStarted      EventType = "session_started"
	EventSessionTerminated   EventType = "session_terminated"
	EventVoidCommand         EventType = "void_command"
	EventRiskAssessed        EventType = "risk_assessed"
	EventStopgateHit         EventType = "stopgate_hit"
	EventOverrideEscalated   EventType = "override_escalated"
	EventOverrideFullReset   EventType = "override_full_reset"
	EventPartialRollback     EventType = "partial_rollback"
	EventDiscontinuation     EventType = "discontinuation"
	EventTierClamped         EventType = "tier_clamped"
	EventTierChanged         EventType = "tier_changed"
	EventMemoryAdmitted      EventType = "memory_admitted"
	EventMemoryCompressed    EventType = "memory_compressed"
	EventMemoryExcised       EventType = "memory_excised"
	EventMemoryDenied        EventType = "memory_denied"
	EventMemoryDeleted       EventType = "memory_deleted"
	EventClassicalDemoted    EventType = "classical_demoted"
	EventTierRestriction     EventType = "tier_restriction"
	EventEntanglementUpdated EventType = "entanglement_updated"
	EventStageSkipped        EventType = "stage_skipped"
	EventStagePassed         EventType = "stage_passed"
	EventPolicyReloaded      EventType = "policy_reloaded"
	EventAuditPruned         EventType = "audit_pruned"
	EventDecisionFailed      EventType = "decision_failed"
)

var knownTypes = map[EventType]bool{
	EventSessionStarted:      true,
	EventSessionTerminated:   true,
	EventVoidCommand:         true,
	EventRiskAssessed:        true,
	EventStopgateHit:         true,
	EventOverrideEscalated:   true,
	EventOverrideFullReset:   true,
	EventPartialRollback:     true,
	EventDiscontinuation:     true,
	EventTierClamped:         true,
	EventTierChanged:         true,
	EventMemoryAdmitted:      true,
	EventMemoryCompressed:    true,
	EventMemoryExcised:       true,
	EventMemoryDenied:        true,
	EventMemoryDeleted:       true,
	EventClassicalDemoted:    true,
	EventTierRestriction:     true,
	EventEntanglementUpdated: true,
	EventStageSkipped:        true,
	EventStagePassed:         true,
	EventPolicyReloaded:      true,
	EventAuditPruned:         true,
	EventDecisionFailed:      true,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool { return knownTypes[t] }

// Event is one audit record. Seq is assigned by the store on append and is
// strictly increasing; events are never updated or deleted.
type Event struct {
	Seq        int64          `json:"seq,omitempty"`
	DecisionID string         `json:"decision_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Query filters audit reads. Zero values mean "any".
type Query struct {
	SessionID string
	Type      EventType
	SinceSeq  int64
	Limit     int
}

// Stats is the aggregate view over the trail.
type Stats struct {
	Total  int64               `json:"total"`
	ByType map[EventType]int64 `json:"by_type"`
	MaxSeq int64               `json:"max_seq"`
}
