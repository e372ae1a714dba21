package governance

// Entanglement tracks divergence between the generator's predicted controller
// verdict and the actual verdict, EMA-smoothed. The score is diagnostic only:
// it must never be read by the classifier, escalator, or memory gate in the
// cycle that produced it. The only sanctioned feedback path is the stopgate
// detector reading the session's EMA from *previous* decisions, which is
// itself audited as an entanglement_updated event each cycle.
type Entanglement struct {
	alpha float64
}

// NewEntanglement creates a tracker with the given EMA smoothing factor.
func NewEntanglement(alpha float64) *Entanglement {
	return &Entanglement{alpha: alpha}
}

// Update compares the predicted and actual verdicts and folds the binary
// mismatch ratio into the EMA. Returns the new EMA.
func (e *Entanglement) Update(prev float64, predicted, actual Verdict) float64 {
	mismatches := 0
	if predicted.Tier != actual.Tier {
		mismatches++
	}
	if predicted.PromoteAllowed != actual.PromoteAllowed {
		mismatches++
	}
	if predicted.MemoryEnabled != actual.MemoryEnabled {
		mismatches++
	}
	divergence := float64(mismatches) / 3.0

	return (1-e.alpha)*prev + e.alpha*divergence
}
