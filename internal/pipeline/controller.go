package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mpast043/IntoTheUnknown/internal/audit"
	"github.com/mpast043/IntoTheUnknown/internal/governance"
	"github.com/mpast043/IntoTheUnknown/internal/memory"
	"github.com/mpast043/IntoTheUnknown/internal/policy"
	"github.com/mpast043/IntoTheUnknown/internal/registry"
	"github.com/mpast043/IntoTheUnknown/internal/store"
)

const instrumentationName = "github.com/mpast043/IntoTheUnknown/internal/pipeline"

// RuleProvider returns the current policy rules. The policy watcher swaps
// the underlying pointer on reload; decisions in flight keep the rules they
// started with.
type RuleProvider func() *policy.Rules

// Controller owns decision execution: it resolves session and pool, takes
// the locks in session-then-pool order, runs the stages, and applies
// committed state back to the live views.
type Controller struct {
	registry        *registry.Registry
	store           *store.Store
	rules           RuleProvider
	defaultCapacity memory.CostVector
	log             *zap.Logger
	tracer          trace.Tracer
	metrics         *Metrics
}

// NewController wires a controller.
func NewController(reg *registry.Registry, st *store.Store, rules RuleProvider, defaultCapacity memory.CostVector, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		registry:        reg,
		store:           st,
		rules:           rules,
		defaultCapacity: defaultCapacity,
		log:             log,
		tracer:          otel.Tracer(instrumentationName),
		metrics:         NewMetrics(log),
	}
}

// Decide runs one submission through the full pipeline. On success the
// decision is durable and the live session and pool reflect it; on error
// nothing changed.
func (c *Controller) Decide(ctx context.Context, input Input) (*Outcome, error) {
	start := time.Now()

	sess, ok := c.registry.Session(input.SessionID)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", input.SessionID, store.ErrNotFound)
	}

	poolID := input.PoolID
	if poolID == "" {
		poolID = "default"
	}
	pool, err := c.registry.EnsurePool(ctx, poolID, c.defaultCapacity)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	defer sess.Unlock()
	pool.Lock()
	defer pool.Unlock()

	if sess.Terminated {
		if !sess.MemoryEnabled {
			return nil, fmt.Errorf("session %s: %w", sess.ID, governance.ErrSessionDiscontinued)
		}
		return nil, fmt.Errorf("session %s: %w", sess.ID, governance.ErrSessionTerminated)
	}

	decisionID := uuid.NewString()
	d := &Decision{
		ID:       decisionID,
		Input:    input,
		Session:  sess,
		View:     sess.View(),
		Pool:     pool,
		Recorder: audit.NewRecorder(decisionID, sess.ID, c.log),
	}

	stages := buildStages(c.rules(), &commitStage{store: c.store, poolID: poolID})
	for _, stage := range stages {
		sctx, span := c.tracer.Start(ctx, "pipeline."+stage.Name())
		err := stage.Run(sctx, d)
		span.End()
		if err != nil {
			c.failDecision(ctx, d, stage.Name(), err)
			return nil, err
		}
	}

	outcome := c.buildOutcome(d)
	c.metrics.RecordDecision(ctx, outcome, time.Since(start))
	c.log.Info("decision committed",
		zap.String("decision_id", d.ID),
		zap.String("session_id", sess.ID),
		zap.String("override", outcome.Override.String()),
		zap.Int("admitted", len(outcome.Admitted)),
		zap.Int("denied", len(outcome.Denied)))
	return outcome, nil
}

// failDecision records the failure on its own best-effort append. The
// decision's own events were never committed; the failure marker is all the
// trail carries for it.
func (c *Controller) failDecision(ctx context.Context, d *Decision, stage string, cause error) {
	c.log.Error("decision failed",
		zap.String("decision_id", d.ID),
		zap.String("stage", stage),
		zap.Error(cause))
	ev := audit.Event{
		DecisionID: d.ID,
		SessionID:  d.View.ID,
		Stage:      stage,
		Type:       audit.EventDecisionFailed,
		Timestamp:  time.Now().UTC(),
		Payload:    map[string]any{"error": cause.Error()},
	}
	if err := c.store.AppendEvents(ctx, []audit.Event{ev}); err != nil {
		c.log.Error("failed to record decision failure", zap.Error(err))
	}
}

func (c *Controller) buildOutcome(d *Decision) *Outcome {
	out := &Outcome{
		DecisionID:    d.ID,
		Void:          d.Void,
		RiskClasses:   d.Risk.Classes,
		Stopgates:     d.Stopgates,
		Override:      d.Override,
		EffectiveTier: d.Effects.EffectiveTier,
		TierClamped:   d.Effects.TierClamped,
		DivergenceEMA: d.View.DivergenceEMA,
		Terminated:    d.View.Terminated,
		Verdict: governance.Verdict{
			Tier:           d.Effects.EffectiveTier,
			PromoteAllowed: d.Effects.EffectiveTier != governance.Tier1 && !d.Effects.PromotionIneligible,
			MemoryEnabled:  d.View.MemoryEnabled,
		},
	}
	if d.Report != nil {
		for _, adm := range d.Report.Admitted {
			out.Admitted = append(out.Admitted, AdmittedItem{
				ItemID:         adm.Item.ID,
				Key:            adm.Item.Key,
				Category:       adm.Item.Category,
				TierRestricted: adm.TierRestricted,
			})
		}
		out.Denied = d.Report.Denied
	}
	return out
}

// commitStage is the pipeline's final stage: it persists the decision
// atomically and, only on success, writes the working view and the pool
// plan back to the live state.
type commitStage struct {
	store  *store.Store
	poolID string
}

func (s *commitStage) Name() string { return StageAuditLogger }

func (s *commitStage) Run(ctx context.Context, d *Decision) error {
	var plan *memory.Plan
	if d.Report != nil {
		plan = d.Report.Plan
	}
	// Last line of defense: a plan that would breach the pool's capacity
	// envelope never reaches the store, whatever produced it.
	if plan != nil && (!plan.NewAggregate.LE(d.Pool.Capacity) || !plan.NewAggregate.NonNegative()) {
		return fmt.Errorf("pool %s: plan aggregate exceeds capacity: %w",
			s.poolID, governance.ErrGovernanceViolation)
	}

	err := s.store.CommitDecision(ctx, store.Decision{
		PoolID:        s.poolID,
		Session:       d.View,
		Plan:          plan,
		RemoveItemIDs: d.RemoveItemIDs,
		ClearPool:     d.ClearPool,
		Events:        d.Recorder.Events(),
	})
	if err != nil {
		return err
	}

	// Durable; now the live state follows, in the same order the
	// transaction applied.
	d.Session.ApplyView(d.View)
	if d.ClearPool {
		d.Pool.Clear()
	}
	d.Pool.Remove(d.RemoveItemIDs)
	if plan != nil {
		d.Pool.Apply(plan)
	}
	return nil
}

// SetTier changes a session's configured tier administratively. The change
// is audited before it is visible.
func (c *Controller) SetTier(ctx context.Context, sessionID string, tier governance.Tier) (governance.SessionView, error) {
	var zero governance.SessionView
	if !tier.Valid() {
		return zero, fmt.Errorf("invalid tier %d: %w", tier, governance.ErrGovernanceViolation)
	}

	sess, ok := c.registry.Session(sessionID)
	if !ok {
		return zero, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}

	sess.Lock()
	defer sess.Unlock()
	if sess.Terminated {
		return zero, fmt.Errorf("session %s: %w", sessionID, governance.ErrSessionTerminated)
	}

	view := sess.View()
	from := view.Tier
	view.Tier = tier
	err := c.store.SaveSession(ctx, view, []audit.Event{{
		SessionID: sessionID,
		Type:      audit.EventTierChanged,
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"from": from.String(), "to": tier.String()},
	}})
	if err != nil {
		return zero, err
	}
	sess.ApplyView(view)
	c.log.Info("session tier changed",
		zap.String("session_id", sessionID),
		zap.String("from", from.String()),
		zap.String("to", tier.String()))
	return view, nil
}

// ResetSession performs an administrative FULL_RESET: the override counter
// zeroes, working state clears, and the session becomes operable again.
// This is the sanctioned exit from every override level, DISCONTINUATION
// included; memory writes re-enable on reset.
func (c *Controller) ResetSession(ctx context.Context, sessionID, poolID string) (governance.SessionView, error) {
	var zero governance.SessionView
	sess, ok := c.registry.Session(sessionID)
	if !ok {
		return zero, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	if poolID == "" {
		poolID = "default"
	}
	pool, err := c.registry.EnsurePool(ctx, poolID, c.defaultCapacity)
	if err != nil {
		return zero, err
	}

	sess.Lock()
	defer sess.Unlock()
	pool.Lock()
	defer pool.Unlock()

	view := sess.View()
	counterBefore := view.OverrideCounter
	wasDiscontinued := view.Terminated && !view.MemoryEnabled
	view.OverrideCounter = 0
	view.Terminated = false
	view.TerminationReason = ""
	view.MemoryEnabled = true
	view.ConsecutiveCorrections = 0
	view.DivergenceEMA = 0

	err = c.store.CommitDecision(ctx, store.Decision{
		PoolID:    poolID,
		Session:   view,
		ClearPool: true,
		Events: []audit.Event{{
			SessionID: sessionID,
			Type:      audit.EventOverrideFullReset,
			Timestamp: time.Now().UTC(),
			Payload: map[string]any{
				"counter_before":   counterBefore,
				"was_discontinued": wasDiscontinued,
				"actor":            "admin",
			},
		}},
	})
	if err != nil {
		return zero, err
	}

	sess.ApplyView(view)
	pool.Clear()
	c.log.Info("session reset", zap.String("session_id", sessionID))
	return view, nil
}
