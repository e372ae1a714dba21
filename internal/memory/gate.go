package memory

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mpast043/IntoTheUnknown/internal/governance"
	"github.com/mpast043/IntoTheUnknown/internal/policy"
)

// DenyReason is the machine-readable reason an admission was refused.
type DenyReason string

const (
	DenyCapacityExceeded DenyReason = "CAPACITY_EXCEEDED"
	DenyMemoryDisabled   DenyReason = "MEMORY_DISABLED"
	DenyInvalidProposal  DenyReason = "INVALID_PROPOSAL"
)

// Admission records one accepted proposal.
type Admission struct {
	Item *Item
	// TierRestricted is set when the proposal carried both verification
	// fields but the effective tier or a stopgate kept it out of the
	// classical pool this cycle.
	TierRestricted bool
}

// Denial records one refused proposal. A denial is an outcome, not an error:
// the decision still commits and the denial is audited.
type Denial struct {
	Key    string
	Reason DenyReason
	Detail string
}

// Request carries the decision-scoped inputs the gate needs. The gate never
// reads session state directly; the pipeline snapshots what matters.
type Request struct {
	SessionID           string
	Proposals           []Proposal
	EffectiveTier       governance.Tier
	PromotionIneligible bool
	MemoryEnabled       bool
}

// Report is the gate's full outcome for one decision: what was admitted,
// what was denied, and the pool mutation plan to persist and then apply.
type Report struct {
	Admitted []Admission
	Denied   []Denial
	Plan     *Plan
}

// Gate is the admission chokepoint. Every pool mutation in the system flows
// through Admit or through an explicitly audited override/rollback path;
// nothing writes items directly.
type Gate struct {
	ranking           []string
	compressionFactor float64
}

// NewGate creates a gate over the given policy rules.
func NewGate(rules *policy.Rules) *Gate {
	return &Gate{
		ranking:           rules.Eviction.Ranking,
		compressionFactor: rules.Eviction.CompressionFactor,
	}
}

// Admit processes the decision's proposals in order against the pool.
// Caller must hold the pool lock. The pool itself is not mutated; the
// returned plan is applied by the caller after the decision transaction
// commits.
//
// For each proposal: if adding its cost keeps the aggregate within capacity
// it is admitted directly. Otherwise the gate compresses ranked existing
// items (dropping feature groups, scaling cost by the compression factor),
// then excises ranked items outright, then retries feasibility exactly
// once. A proposal that still does not fit is denied; compressions and
// excisions already performed on its behalf stand, since each is a
// legitimate, individually audited eviction.
func (g *Gate) Admit(pool *Pool, req Request) (*Report, error) {
	report := &Report{Plan: &Plan{NewAggregate: pool.Aggregate()}}

	if !req.MemoryEnabled {
		for _, p := range req.Proposals {
			report.Denied = append(report.Denied, Denial{
				Key:    p.Key,
				Reason: DenyMemoryDisabled,
				Detail: "session memory disabled",
			})
		}
		return report, nil
	}

	g.stageDemotions(pool, req.Proposals, report.Plan)

	st := &gateState{
		pool:      pool,
		plan:      report.Plan,
		aggregate: pool.Aggregate(),
		excised:   make(map[string]bool),
		newCosts:  make(map[string]CostVector),
	}

	createdAt := now()
	for _, p := range req.Proposals {
		if err := ValidateProposal(p); err != nil {
			report.Denied = append(report.Denied, Denial{
				Key:    p.Key,
				Reason: DenyInvalidProposal,
				Detail: err.Error(),
			})
			continue
		}

		if !st.fits(pool.Capacity, p.Cost) {
			if err := g.makeRoom(st, pool.Capacity, p.Cost); err != nil {
				return nil, err
			}
		}
		// Single retry after compression and excision.
		if !st.fits(pool.Capacity, p.Cost) {
			report.Denied = append(report.Denied, Denial{
				Key:    p.Key,
				Reason: DenyCapacityExceeded,
				Detail: "cost does not fit pool capacity after eviction",
			})
			continue
		}

		item, restricted := g.buildItem(pool.ID, req, p, createdAt)
		st.aggregate = st.aggregate.Add(item.Cost)
		st.plan.Inserts = append(st.plan.Inserts, item)
		report.Admitted = append(report.Admitted, Admission{
			Item:           item,
			TierRestricted: restricted,
		})
	}

	report.Plan.NewAggregate = st.aggregate
	return report, nil
}

// stageDemotions queues token-stripping for classical items contradicted by
// an externally supplied correction. Demotion applies regardless of the
// target's pointer stability and rides the same transaction as the rest of
// the decision.
func (g *Gate) stageDemotions(pool *Pool, proposals []Proposal, plan *Plan) {
	staged := make(map[string]bool)
	for _, p := range proposals {
		if p.Corrects == "" {
			continue
		}
		target := pool.FindByKey(p.Corrects)
		if target == nil || target.Category != CategoryClassical || staged[target.ID] {
			continue
		}
		staged[target.ID] = true
		plan.Demotions = append(plan.Demotions, DemoteOp{
			ItemID:  target.ID,
			ByKey:   p.Key,
			Reason:  "external correction",
			WasCost: target.Cost,
		})
	}
}

func (g *Gate) buildItem(poolID string, req Request, p Proposal, createdAt time.Time) (*Item, bool) {
	item := &Item{
		ID:               uuid.NewString(),
		PoolID:           poolID,
		SessionID:        req.SessionID,
		Key:              p.Key,
		Content:          p.Content,
		CreatedAt:        createdAt,
		Utility:          p.Utility,
		PointerStability: p.PointerStability,
		Cost:             p.Cost,
		FeatureGroups:    p.FeatureGroups,
		SelectionTrace:   p.SelectionTrace,
		AccuracyToken:    p.AccuracyToken,
	}

	item.Category = Classify(req.EffectiveTier, item.HasTrace(), item.HasToken())
	if item.Category == CategoryClassical && req.PromotionIneligible {
		item.Category = CategoryQuarantine
	}
	restricted := p.RequestsPromotion() && item.Category != CategoryClassical
	return item, restricted
}

// makeRoom compresses then excises ranked existing items until the needed
// cost fits or candidates run out. Newly inserted items from this decision
// are never eviction candidates.
func (g *Gate) makeRoom(st *gateState, capacity, need CostVector) error {
	// A proposal larger than the pool itself can never fit; evicting for
	// it would only destroy state.
	if !need.LE(capacity) {
		return nil
	}

	candidates, err := rankItems(st.live(), g.ranking)
	if err != nil {
		return err
	}

	for _, it := range candidates {
		if st.fits(capacity, need) {
			return nil
		}
		if it.Compressed || len(it.FeatureGroups) == 0 {
			continue
		}
		if _, done := st.newCosts[it.ID]; done {
			continue
		}
		newCost := it.Cost.Scale(g.compressionFactor)
		freed := it.Cost.Sub(newCost)
		st.newCosts[it.ID] = newCost
		st.aggregate = st.aggregate.Sub(freed)
		st.plan.Compressions = append(st.plan.Compressions, CompressOp{
			ItemID:        it.ID,
			NewCost:       newCost,
			Freed:         freed,
			DroppedGroups: groupNames(it.FeatureGroups),
		})
	}

	for _, it := range candidates {
		if st.fits(capacity, need) {
			return nil
		}
		st.excised[it.ID] = true
		st.aggregate = st.aggregate.Sub(st.cost(it))
		st.plan.Excisions = append(st.plan.Excisions, it)
	}
	return nil
}

// gateState is the working view of the pool during one Admit call. It
// overlays pending compressions and excisions on the real pool so the plan
// is computed without mutating shared state.
type gateState struct {
	pool      *Pool
	plan      *Plan
	aggregate CostVector
	excised   map[string]bool
	newCosts  map[string]CostVector
}

func (st *gateState) fits(capacity, need CostVector) bool {
	return st.aggregate.Add(need).LE(capacity)
}

func (st *gateState) cost(it *Item) CostVector {
	if c, ok := st.newCosts[it.ID]; ok {
		return c
	}
	return it.Cost
}

func (st *gateState) live() []*Item {
	items := make([]*Item, 0, len(st.pool.Items()))
	for id, it := range st.pool.Items() {
		if st.excised[id] {
			continue
		}
		items = append(items, it)
	}
	return items
}

func groupNames(groups map[string]map[string]any) []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
