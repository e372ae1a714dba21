package governance

// Effects is the decision-scoped outcome of the stopgate effects stage: the
// effective tier for this decision and whether promotion is off the table
// this cycle. This stage is the only place a tier is downgraded; it never
// upgrades.
type Effects struct {
	EffectiveTier       Tier `json:"effective_tier"`
	TierClamped         bool `json:"tier_clamped"`
	PromotionIneligible bool `json:"promotion_ineligible"`
}

// ApplyEffects computes the effective tier for this decision. Any stopgate
// hit clamps to TIER_1 regardless of the session's configured tier and marks
// the proposal ineligible for promotion this cycle. A high-impact risk class
// clamps even without a stopgate (the force_tier1 flag is independent of
// later stages).
func ApplyEffects(configured Tier, forceTier1 bool, stopgates []Stopgate) Effects {
	eff := Effects{EffectiveTier: configured}

	if len(stopgates) > 0 {
		eff.PromotionIneligible = true
	}

	if forceTier1 || len(stopgates) > 0 {
		if configured > Tier1 {
			eff.TierClamped = true
		}
		eff.EffectiveTier = Tier1
	}

	return eff
}
