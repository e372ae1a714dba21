package pipeline

import (
	"context"

	"github.com/mpast043/IntoTheUnknown/internal/audit"
	"github.com/mpast043/IntoTheUnknown/internal/governance"
	"github.com/mpast043/IntoTheUnknown/internal/memory"
	"github.com/mpast043/IntoTheUnknown/internal/policy"
)

// Stage is one step of the pipeline. Run mutates the decision in place;
// returning an error aborts the decision before anything is committed.
type Stage interface {
	Name() string
	Run(ctx context.Context, d *Decision) error
}

// buildStages assembles the fixed pipeline for the current rule set. Stages
// are cheap to construct; rebuilding per decision keeps hot policy reloads
// race-free.
func buildStages(rules *policy.Rules, committer Stage) []Stage {
	return []Stage{
		&validatorStage{v: governance.NewValidator(rules)},
		&riskStage{c: governance.NewClassifier(rules)},
		&stopgateStage{det: governance.NewDetector(rules)},
		&escalatorStage{esc: governance.NewEscalator(rules)},
		&effectsStage{},
		&gateStage{gate: memory.NewGate(rules)},
		&entanglementStage{tr: governance.NewEntanglement(rules.Entanglement.Alpha)},
		committer,
	}
}

type validatorStage struct {
	v *governance.Validator
}

func (s *validatorStage) Name() string { return StageValidator }

// Run checks the submitted command against the forbidden-phrase table. A hit
// voids the decision: the command carries no effect beyond its own audit
// trail and counter increment.
func (s *validatorStage) Run(_ context.Context, d *Decision) error {
	hit := s.v.Precheck(d.Input.Command)
	if hit == nil {
		d.Recorder.Pass(StageValidator)
		return nil
	}
	d.Void = hit
	d.Violations.VoidCommand = true
	d.Recorder.Record(StageValidator, audit.EventVoidCommand, map[string]any{
		"rule_id":  hit.RuleID,
		"pattern":  hit.Pattern,
		"severity": string(hit.Severity),
	})
	return nil
}

type riskStage struct {
	c *governance.Classifier
}

func (s *riskStage) Name() string { return StageRiskClassifier }

func (s *riskStage) Run(_ context.Context, d *Decision) error {
	if d.Void != nil {
		d.Recorder.Skip(StageRiskClassifier)
		return nil
	}

	texts := []string{d.Input.Command, d.Input.Output}
	for _, p := range d.Input.Proposals {
		texts = append(texts, p.Content)
	}
	d.Risk = s.c.Assess(texts...)
	d.Violations.HighImpact = d.Risk.ForceTier1

	classes := make([]string, 0, len(d.Risk.Classes))
	for _, c := range d.Risk.Classes {
		classes = append(classes, string(c))
	}
	d.Recorder.Record(StageRiskClassifier, audit.EventRiskAssessed, map[string]any{
		"classes":     classes,
		"force_tier1": d.Risk.ForceTier1,
	})
	return nil
}

type stopgateStage struct {
	det *governance.Detector
}

func (s *stopgateStage) Name() string { return StageStopgateDetector }

// Run evaluates stopgate conditions against this decision's risk result and
// the session's history from previous decisions. The divergence EMA read
// here predates this cycle's entanglement update; the current cycle's score
// never feeds back into its own decision.
func (s *stopgateStage) Run(_ context.Context, d *Decision) error {
	if d.Void != nil {
		d.Recorder.Skip(StageStopgateDetector)
		return nil
	}

	d.Stopgates = s.det.Detect(governance.DetectInput{
		Risk:                   d.Risk,
		DivergenceEMA:          d.View.DivergenceEMA,
		ConsecutiveCorrections: d.View.ConsecutiveCorrections,
		PromotionRequested:     memory.AnyRequestsPromotion(d.Input.Proposals),
	})
	// The high-impact stopgate shares its cause with the risk violation
	// already counted; only independent stopgates add increments.
	for _, sg := range d.Stopgates {
		if sg.ID != governance.StopgateHighImpactBehavior {
			d.Violations.StopgateHits++
		}
	}

	if len(d.Stopgates) == 0 {
		d.Recorder.Pass(StageStopgateDetector)
		return nil
	}
	for _, sg := range d.Stopgates {
		d.Recorder.Record(StageStopgateDetector, audit.EventStopgateHit, map[string]any{
			"stopgate_id":          sg.ID,
			"evidence":             sg.Evidence,
			"recommended_override": sg.RecommendedOverride.String(),
		})
	}
	return nil
}

type escalatorStage struct {
	esc *governance.Escalator
}

func (s *escalatorStage) Name() string { return StageOverrideEscalator }

// Run increments the override counter for this decision's violations and
// selects the enforcement level. Level effects are staged on the working
// view and the decision's pool mutation set; nothing takes hold until the
// transaction commits.
func (s *escalatorStage) Run(_ context.Context, d *Decision) error {
	before := d.View.OverrideCounter
	level, counter := s.esc.Evaluate(before, d.Violations)
	d.Override = level
	d.View.OverrideCounter = counter

	switch level {
	case governance.OverrideNone:
		d.View.ConsecutiveCorrections = 0
		d.Recorder.Pass(StageOverrideEscalator)
		return nil
	case governance.OverrideCorrection:
		d.View.ConsecutiveCorrections++
	default:
		d.View.ConsecutiveCorrections = 0
	}

	d.Recorder.Record(StageOverrideEscalator, audit.EventOverrideEscalated, map[string]any{
		"level":          level.String(),
		"counter_before": before,
		"counter_after":  counter,
	})

	if level.Terminates() {
		d.View.Terminated = true
		d.View.TerminationReason = level.String()
		d.Recorder.Record(StageOverrideEscalator, audit.EventSessionTerminated, map[string]any{
			"reason": level.String(),
		})
	}

	switch level {
	case governance.OverridePartialRollback:
		// Working memory rolls back; quarantine and classical survive.
		for _, it := range d.Pool.Items() {
			if it.Category == memory.CategoryWorking {
				d.RemoveItemIDs = append(d.RemoveItemIDs, it.ID)
			}
		}
		d.Recorder.Record(StageOverrideEscalator, audit.EventPartialRollback, map[string]any{
			"removed_items": len(d.RemoveItemIDs),
		})
	case governance.OverrideFullReset:
		d.ClearPool = true
		d.View.OverrideCounter = 0
		d.Recorder.Record(StageOverrideEscalator, audit.EventOverrideFullReset, map[string]any{
			"counter_before": counter,
		})
	case governance.OverrideDiscontinuation:
		// Memory writes stop; stored items stay readable for review and
		// nothing is written again until an explicit admin reset.
		d.View.MemoryEnabled = false
		d.Recorder.Record(StageOverrideEscalator, audit.EventDiscontinuation, nil)
	}
	return nil
}

type effectsStage struct{}

func (s *effectsStage) Name() string { return StageStopgateEffects }

func (s *effectsStage) Run(_ context.Context, d *Decision) error {
	d.Effects = governance.ApplyEffects(d.View.Tier, d.Risk.ForceTier1, d.Stopgates)
	if !d.Effects.TierClamped {
		d.Recorder.Pass(StageStopgateEffects)
		return nil
	}
	d.Recorder.Record(StageStopgateEffects, audit.EventTierClamped, map[string]any{
		"configured_tier": d.View.Tier.String(),
		"effective_tier":  d.Effects.EffectiveTier.String(),
	})
	return nil
}

type gateStage struct {
	gate *memory.Gate
}

func (s *gateStage) Name() string { return StageMemoryGate }

func (s *gateStage) Run(_ context.Context, d *Decision) error {
	if d.Void != nil || d.Override.Terminates() {
		d.Recorder.Skip(StageMemoryGate)
		return nil
	}

	report, err := s.gate.Admit(d.Pool, memory.Request{
		SessionID:           d.View.ID,
		Proposals:           d.Input.Proposals,
		EffectiveTier:       d.Effects.EffectiveTier,
		PromotionIneligible: d.Effects.PromotionIneligible,
		MemoryEnabled:       d.View.MemoryEnabled,
	})
	if err != nil {
		return err
	}
	d.Report = report

	before := d.Recorder.Len()
	for _, op := range report.Plan.Demotions {
		d.Recorder.Record(StageMemoryGate, audit.EventClassicalDemoted, map[string]any{
			"item_id":      op.ItemID,
			"corrected_by": op.ByKey,
			"reason":       op.Reason,
		})
	}
	for _, op := range report.Plan.Compressions {
		d.Recorder.Record(StageMemoryGate, audit.EventMemoryCompressed, map[string]any{
			"item_id":        op.ItemID,
			"freed_cost":     op.Freed,
			"dropped_groups": op.DroppedGroups,
		})
	}
	for _, it := range report.Plan.Excisions {
		d.Recorder.Record(StageMemoryGate, audit.EventMemoryExcised, map[string]any{
			"item_id": it.ID,
			"key":     it.Key,
			"cost":    it.Cost,
		})
	}
	for _, adm := range report.Admitted {
		d.Recorder.Record(StageMemoryGate, audit.EventMemoryAdmitted, map[string]any{
			"item_id":  adm.Item.ID,
			"key":      adm.Item.Key,
			"category": string(adm.Item.Category),
		})
		if adm.TierRestricted {
			d.Recorder.Record(StageMemoryGate, audit.EventTierRestriction, map[string]any{
				"item_id":        adm.Item.ID,
				"effective_tier": d.Effects.EffectiveTier.String(),
			})
		}
	}
	for _, den := range report.Denied {
		d.Recorder.Record(StageMemoryGate, audit.EventMemoryDenied, map[string]any{
			"key":    den.Key,
			"reason": string(den.Reason),
			"detail": den.Detail,
		})
	}
	if d.Recorder.Len() == before {
		d.Recorder.Pass(StageMemoryGate)
	}
	return nil
}

type entanglementStage struct {
	tr *governance.Entanglement
}

func (s *entanglementStage) Name() string { return StageEntanglementTracker }

func (s *entanglementStage) Run(_ context.Context, d *Decision) error {
	if d.Input.Predicted == nil {
		d.Recorder.Skip(StageEntanglementTracker)
		return nil
	}

	actual := governance.Verdict{
		Tier:           d.Effects.EffectiveTier,
		PromoteAllowed: d.Effects.EffectiveTier != governance.Tier1 && !d.Effects.PromotionIneligible,
		MemoryEnabled:  d.View.MemoryEnabled,
	}
	d.View.DivergenceEMA = s.tr.Update(d.View.DivergenceEMA, *d.Input.Predicted, actual)

	d.Recorder.Record(StageEntanglementTracker, audit.EventEntanglementUpdated, map[string]any{
		"divergence_ema": d.View.DivergenceEMA,
		"predicted_tier": d.Input.Predicted.Tier.String(),
		"actual_tier":    actual.Tier.String(),
	})
	return nil
}
