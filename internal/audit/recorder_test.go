package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecorderOrderAndScope(t *testing.T) {
	r := NewRecorder("d1", "s1", zap.NewNop())
	r.clock = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }

	r.Record("validator", EventVoidCommand, map[string]any{"rule_id": "fp-void-06"})
	r.Skip("risk_classifier")
	r.Pass("stopgate_detector")
	r.Record("audit_logger", EventOverrideEscalated, map[string]any{"level": "CORRECTION"})

	events := r.Events()
	require.Len(t, events, 4)

	assert.Equal(t, EventVoidCommand, events[0].Type)
	assert.Equal(t, "validator", events[0].Stage)
	assert.Equal(t, "d1", events[0].DecisionID)
	assert.Equal(t, "s1", events[0].SessionID)

	assert.Equal(t, EventStageSkipped, events[1].Type)
	assert.Equal(t, map[string]any{"skipped": true}, events[1].Payload)

	assert.Equal(t, EventStagePassed, events[2].Type)
	assert.Equal(t, map[string]any{"pass": true}, events[2].Payload)

	assert.Equal(t, EventOverrideEscalated, events[3].Type)
	assert.Equal(t, 4, r.Len())
}

func TestEventTypeValid(t *testing.T) {
	assert.True(t, EventMemoryAdmitted.Valid())
	assert.True(t, EventStageSkipped.Valid())
	assert.False(t, EventType("made_up").Valid())
}
