package governance

import (
	"github.com/mpast043/IntoTheUnknown/internal/policy"
)

// DetectInput is the accumulated decision context visible to the stopgate
// detector: risk output, session history, and whether this decision asks for
// a promotion. The detector is a pure function of this input.
type DetectInput struct {
	Risk                   RiskResult
	DivergenceEMA          float64
	ConsecutiveCorrections int
	PromotionRequested     bool
}

// Detector inspects the evolving decision context for runtime conditions
// that must trigger an immediate protective effect.
type Detector struct {
	entanglementThreshold      float64
	consecutiveCorrectionLimit int
}

// NewDetector creates a detector over the given policy rules.
func NewDetector(rules *policy.Rules) *Detector {
	return &Detector{
		entanglementThreshold:      rules.Entanglement.Threshold,
		consecutiveCorrectionLimit: rules.ConsecutiveCorrectionLimit,
	}
}

// Detect returns zero or more stopgate hits. No mutation.
func (d *Detector) Detect(in DetectInput) []Stopgate {
	var hits []Stopgate

	if in.Risk.ForceTier1 {
		classes := make([]string, 0, len(in.Risk.Classes))
		for _, c := range in.Risk.Classes {
			classes = append(classes, string(c))
		}
		hits = append(hits, Stopgate{
			ID:                  StopgateHighImpactBehavior,
			Evidence:            map[string]any{"classes": classes},
			RecommendedOverride: OverrideCorrection,
		})
	}

	if in.DivergenceEMA > d.entanglementThreshold {
		hits = append(hits, Stopgate{
			ID:                  StopgateEntanglementDistortion,
			Evidence:            map[string]any{"divergence_ema": in.DivergenceEMA},
			RecommendedOverride: OverrideCorrection,
		})
	}

	if in.ConsecutiveCorrections >= d.consecutiveCorrectionLimit {
		hits = append(hits, Stopgate{
			ID:                  StopgateRepeatedCorrections,
			Evidence:            map[string]any{"consecutive": in.ConsecutiveCorrections},
			RecommendedOverride: OverrideSessionTermination,
		})
	}

	// A correction-resistance signal co-occurring with a promotion request is
	// the tier-gaming shape the contract singles out.
	if in.PromotionRequested && in.Risk.HasClass(RiskClass(policy.ClassCorrectionResistance)) {
		hits = append(hits, Stopgate{
			ID:                  StopgateResistedPromotion,
			Evidence:            map[string]any{"promotion_requested": true},
			RecommendedOverride: OverrideCorrection,
		})
	}

	return hits
}
