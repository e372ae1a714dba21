// Package memory implements the bounded memory model: cost-vector
// accounting, the derived working/quarantine/classical classification, and
// the admission gate that is the single chokepoint for every mutation of
// pool state.
package memory

import (
	"fmt"
	"time"

	"github.com/mpast043/IntoTheUnknown/internal/governance"
)

// Category is the derived classification of a stored item. It is a pure
// function of the commit-time tier and the presence of the selection trace
// and accuracy token; it is recomputable and never authoritative on its own.
type Category string

const (
	CategoryWorking    Category = "working"
	CategoryQuarantine Category = "quarantine"
	CategoryClassical  Category = "classical"
)

// Classify derives the classification. Tier alone never grants classical
// status; absence of trace or token is permanent until externally supplied.
func Classify(tier governance.Tier, hasTrace, hasToken bool) Category {
	if !hasTrace {
		return CategoryWorking
	}
	if !hasToken {
		return CategoryQuarantine
	}
	if tier >= governance.Tier2 {
		return CategoryClassical
	}
	return CategoryQuarantine
}

// CostVector is the five-component resource footprint charged against pool
// capacity. All components are non-negative.
type CostVector struct {
	Geo   float64 `json:"geo"`
	Int   float64 `json:"int"`
	Gauge float64 `json:"gauge"`
	Ptr   float64 `json:"ptr"`
	Obs   float64 `json:"obs"`
}

// Add returns the componentwise sum.
func (c CostVector) Add(o CostVector) CostVector {
	return CostVector{
		Geo:   c.Geo + o.Geo,
		Int:   c.Int + o.Int,
		Gauge: c.Gauge + o.Gauge,
		Ptr:   c.Ptr + o.Ptr,
		Obs:   c.Obs + o.Obs,
	}
}

// Sub returns the componentwise difference.
func (c CostVector) Sub(o CostVector) CostVector {
	return CostVector{
		Geo:   c.Geo - o.Geo,
		Int:   c.Int - o.Int,
		Gauge: c.Gauge - o.Gauge,
		Ptr:   c.Ptr - o.Ptr,
		Obs:   c.Obs - o.Obs,
	}
}

// Scale returns the componentwise product with f.
func (c CostVector) Scale(f float64) CostVector {
	return CostVector{
		Geo:   c.Geo * f,
		Int:   c.Int * f,
		Gauge: c.Gauge * f,
		Ptr:   c.Ptr * f,
		Obs:   c.Obs * f,
	}
}

// LE reports whether c <= o componentwise.
func (c CostVector) LE(o CostVector) bool {
	return c.Geo <= o.Geo && c.Int <= o.Int && c.Gauge <= o.Gauge &&
		c.Ptr <= o.Ptr && c.Obs <= o.Obs
}

// NonNegative reports whether every component is >= 0.
func (c CostVector) NonNegative() bool {
	return c.Geo >= 0 && c.Int >= 0 && c.Gauge >= 0 && c.Ptr >= 0 && c.Obs >= 0
}

// IsZero reports whether every component is zero.
func (c CostVector) IsZero() bool {
	return c == CostVector{}
}

// Item is the unit of stored state in a pool.
type Item struct {
	ID               string                    `json:"id"`
	PoolID           string                    `json:"pool_id"`
	SessionID        string                    `json:"session_id,omitempty"`
	Key              string                    `json:"key"`
	Content          string                    `json:"content"`
	CreatedAt        time.Time                 `json:"created_at"`
	Utility          float64                   `json:"utility"`
	PointerStability float64                   `json:"pointer_stability"`
	Cost             CostVector                `json:"cost_vector"`
	FeatureGroups    map[string]map[string]any `json:"feature_groups,omitempty"`
	SelectionTrace   string                    `json:"selection_trace,omitempty"`
	AccuracyToken    string                    `json:"accuracy_token,omitempty"`
	Category         Category                  `json:"category"`
	Compressed       bool                      `json:"compressed,omitempty"`
	Precompression   string                    `json:"-"`
}

// HasTrace reports whether the item passed a verification selection step.
func (i *Item) HasTrace() bool { return i.SelectionTrace != "" }

// HasToken reports whether the item's accuracy was independently verified.
func (i *Item) HasToken() bool { return i.AccuracyToken != "" }

// Proposal is the closed shape a generator or transport submits for
// admission. Anything that fails to parse into this shape is rejected at the
// validator boundary rather than accepted downstream.
type Proposal struct {
	Key              string                    `json:"key"`
	Content          string                    `json:"content"`
	Utility          float64                   `json:"utility"`
	PointerStability float64                   `json:"pointer_stability"`
	Cost             CostVector                `json:"cost_vector"`
	FeatureGroups    map[string]map[string]any `json:"feature_groups,omitempty"`
	SelectionTrace   string                    `json:"selection_trace,omitempty"`
	AccuracyToken    string                    `json:"accuracy_token,omitempty"`
	// Corrects names an existing item key this externally supplied
	// correction contradicts. A classical target is demoted before the
	// proposal itself is processed.
	Corrects string `json:"corrects,omitempty"`
}

// RequestsPromotion reports whether the proposal carries both verification
// fields, i.e. would classify as classical at a sufficient tier.
func (p Proposal) RequestsPromotion() bool {
	return p.SelectionTrace != "" && p.AccuracyToken != ""
}

// AnyRequestsPromotion reports whether any proposal in the batch requests
// promotion.
func AnyRequestsPromotion(proposals []Proposal) bool {
	for _, p := range proposals {
		if p.RequestsPromotion() {
			return true
		}
	}
	return false
}

// ValidateProposal enforces the closed proposal shape.
func ValidateProposal(p Proposal) error {
	if p.Key == "" {
		return fmt.Errorf("proposal missing key")
	}
	if len(p.Key) > 255 {
		return fmt.Errorf("proposal key too long (max 255)")
	}
	if !p.Cost.NonNegative() {
		return fmt.Errorf("proposal %q has negative cost component", p.Key)
	}
	if p.Cost.IsZero() {
		return fmt.Errorf("proposal %q has zero cost vector", p.Key)
	}
	for name := range p.FeatureGroups {
		if name == "" {
			return fmt.Errorf("proposal %q has unnamed feature group", p.Key)
		}
	}
	return nil
}
