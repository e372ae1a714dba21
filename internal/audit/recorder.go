package audit

import (
	"time"

	"go.uber.org/zap"
)

// Recorder accumulates the events of one decision in stage order. Nothing is
// durable until the pipeline hands the batch to the store inside the
// decision transaction; the recorder exists so every stage can log without
// holding a database handle.
type Recorder struct {
	decisionID string
	sessionID  string
	events     []Event
	log        *zap.Logger
	clock      func() time.Time
}

// NewRecorder creates a recorder scoped to one decision.
func NewRecorder(decisionID, sessionID string, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		decisionID: decisionID,
		sessionID:  sessionID,
		log:        log,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// Record appends one event for a stage.
func (r *Recorder) Record(stage string, typ EventType, payload map[string]any) {
	r.events = append(r.events, Event{
		DecisionID: r.decisionID,
		SessionID:  r.sessionID,
		Stage:      stage,
		Type:       typ,
		Timestamp:  r.clock(),
		Payload:    payload,
	})
	r.log.Debug("audit event recorded",
		zap.String("decision_id", r.decisionID),
		zap.String("stage", stage),
		zap.String("type", string(typ)))
}

// Skip records that a stage was bypassed by an earlier verdict. Every stage
// appears in every decision's trail; a short-circuited decision shows the
// skipped stages explicitly rather than omitting them.
func (r *Recorder) Skip(stage string) {
	r.Record(stage, EventStageSkipped, map[string]any{"skipped": true})
}

// Pass records that a stage executed and found nothing to act on. Together
// with Skip this guarantees at least one event per stage per decision, so
// the trail proves the fixed order actually ran.
func (r *Recorder) Pass(stage string) {
	r.Record(stage, EventStagePassed, map[string]any{"pass": true})
}

// Events returns the accumulated batch in record order.
func (r *Recorder) Events() []Event { return r.events }

// Len returns the number of recorded events.
func (r *Recorder) Len() int { return len(r.events) }
