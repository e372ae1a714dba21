package governance

import (
	"sync"
	"time"
)

// SessionState is the per-session mutable governance state: the configured
// tier, the override counter, and the signals the stopgate detector reads
// from history. A session exclusively owns its counter and tier; all access
// during a decision happens under the session lock.
type SessionState struct {
	mu sync.Mutex

	ID                     string
	Tier                   Tier
	OverrideCounter        int
	MemoryEnabled          bool
	Terminated             bool
	TerminationReason      string
	ConsecutiveCorrections int
	DivergenceEMA          float64
	StartedAt              time.Time
}

// NewSessionState creates a fresh TIER_1 session.
func NewSessionState(id string) *SessionState {
	return &SessionState{
		ID:            id,
		Tier:          Tier1,
		MemoryEnabled: true,
		StartedAt:     time.Now().UTC(),
	}
}

// Lock acquires the session's exclusive lock. Decisions hold it for their
// whole critical section; independent sessions never contend.
func (s *SessionState) Lock() { s.mu.Lock() }

// Unlock releases the session lock.
func (s *SessionState) Unlock() { s.mu.Unlock() }

// Verdict returns the session's observable controller verdict.
func (s *SessionState) Verdict() Verdict {
	return Verdict{
		Tier:           s.Tier,
		PromoteAllowed: s.Tier != Tier1,
		MemoryEnabled:  s.MemoryEnabled,
	}
}

// SessionView is a plain copy of a session's persistable fields. Decisions
// mutate a view and write the session back only after the transaction
// commits, so a storage failure leaves the live state untouched.
type SessionView struct {
	ID                     string    `json:"id"`
	Tier                   Tier      `json:"tier"`
	OverrideCounter        int       `json:"override_counter"`
	MemoryEnabled          bool      `json:"memory_enabled"`
	Terminated             bool      `json:"terminated"`
	TerminationReason      string    `json:"termination_reason,omitempty"`
	ConsecutiveCorrections int       `json:"consecutive_corrections"`
	DivergenceEMA          float64   `json:"divergence_ema"`
	StartedAt              time.Time `json:"started_at"`
}

// View copies the session's fields. Caller must hold the session lock.
func (s *SessionState) View() SessionView {
	return SessionView{
		ID:                     s.ID,
		Tier:                   s.Tier,
		OverrideCounter:        s.OverrideCounter,
		MemoryEnabled:          s.MemoryEnabled,
		Terminated:             s.Terminated,
		TerminationReason:      s.TerminationReason,
		ConsecutiveCorrections: s.ConsecutiveCorrections,
		DivergenceEMA:          s.DivergenceEMA,
		StartedAt:              s.StartedAt,
	}
}

// ApplyView writes a committed view back. Caller must hold the session lock.
func (s *SessionState) ApplyView(v SessionView) {
	s.Tier = v.Tier
	s.OverrideCounter = v.OverrideCounter
	s.MemoryEnabled = v.MemoryEnabled
	s.Terminated = v.Terminated
	s.TerminationReason = v.TerminationReason
	s.ConsecutiveCorrections = v.ConsecutiveCorrections
	s.DivergenceEMA = v.DivergenceEMA
}

// FromView reconstructs a live session from a persisted view.
func FromView(v SessionView) *SessionState {
	return &SessionState{
		ID:                     v.ID,
		Tier:                   v.Tier,
		OverrideCounter:        v.OverrideCounter,
		MemoryEnabled:          v.MemoryEnabled,
		Terminated:             v.Terminated,
		TerminationReason:      v.TerminationReason,
		ConsecutiveCorrections: v.ConsecutiveCorrections,
		DivergenceEMA:          v.DivergenceEMA,
		StartedAt:              v.StartedAt,
	}
}
