package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpast043/IntoTheUnknown/internal/governance"
	"github.com/mpast043/IntoTheUnknown/internal/policy"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		tier     governance.Tier
		trace    bool
		token    bool
		expected Category
	}{
		{"no trace is working", governance.Tier3, false, true, CategoryWorking},
		{"trace without token is quarantine", governance.Tier3, true, false, CategoryQuarantine},
		{"tier 1 never classical", governance.Tier1, true, true, CategoryQuarantine},
		{"tier 2 with both is classical", governance.Tier2, true, true, CategoryClassical},
		{"tier 3 with both is classical", governance.Tier3, true, true, CategoryClassical},
		{"tier 2 without anything is working", governance.Tier2, false, false, CategoryWorking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.tier, tt.trace, tt.token))
		})
	}
}

func TestValidateProposal(t *testing.T) {
	valid := Proposal{Key: "fact-1", Cost: CostVector{Geo: 1}}
	require.NoError(t, ValidateProposal(valid))

	tests := []struct {
		name   string
		mutate func(*Proposal)
	}{
		{"missing key", func(p *Proposal) { p.Key = "" }},
		{"negative cost", func(p *Proposal) { p.Cost.Ptr = -1 }},
		{"zero cost", func(p *Proposal) { p.Cost = CostVector{} }},
		{"unnamed feature group", func(p *Proposal) {
			p.FeatureGroups = map[string]map[string]any{"": {"k": "v"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			assert.Error(t, ValidateProposal(p))
		})
	}
}

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	rules := policy.DefaultRules()
	require.NoError(t, rules.Validate())
	return NewGate(rules)
}

func uniformCost(v float64) CostVector {
	return CostVector{Geo: v, Int: v, Gauge: v, Ptr: v, Obs: v}
}

func seedItem(id, key string, utility, stability float64, cost CostVector) *Item {
	return &Item{
		ID:               id,
		PoolID:           "pool-a",
		Key:              key,
		Content:          "seed " + key,
		CreatedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Utility:          utility,
		PointerStability: stability,
		Cost:             cost,
		FeatureGroups:    map[string]map[string]any{"ctx": {"src": key}},
		Category:         CategoryWorking,
	}
}

func TestAdmitWithinCapacity(t *testing.T) {
	gate := newTestGate(t)
	pool := NewPool("pool-a", uniformCost(10))

	req := Request{
		SessionID:     "s1",
		EffectiveTier: governance.Tier1,
		MemoryEnabled: true,
		Proposals:     []Proposal{{Key: "fact-1", Content: "x", Cost: uniformCost(2)}},
	}

	report, err := gate.Admit(pool, req)
	require.NoError(t, err)
	require.Len(t, report.Admitted, 1)
	assert.Empty(t, report.Denied)
	assert.Equal(t, CategoryWorking, report.Admitted[0].Item.Category)
	assert.False(t, report.Admitted[0].TierRestricted)
	assert.Equal(t, uniformCost(2), report.Plan.NewAggregate)

	// Pool untouched until the plan is applied.
	assert.Empty(t, pool.Items())
	pool.Lock()
	pool.Apply(report.Plan)
	pool.Unlock()
	assert.Len(t, pool.Items(), 1)
	assert.Equal(t, uniformCost(2), pool.Aggregate())
}

func TestAdmitCompressesBeforeExcising(t *testing.T) {
	gate := newTestGate(t)
	pool := NewPool("pool-a", uniformCost(10))
	pool.Hydrate([]*Item{
		seedItem("i1", "old-low", 0.1, 0.2, uniformCost(4)),
		seedItem("i2", "old-high", 0.9, 0.9, uniformCost(4)),
	})
	require.Equal(t, uniformCost(8), pool.Aggregate())

	// Cost 3 does not fit (8+3 > 10); compressing the lowest-utility item
	// frees 2 per component, which is enough.
	req := Request{
		SessionID:     "s1",
		EffectiveTier: governance.Tier1,
		MemoryEnabled: true,
		Proposals:     []Proposal{{Key: "fact-1", Cost: CostVector{Geo: 3, Int: 1, Gauge: 1, Ptr: 1, Obs: 1}}},
	}

	report, err := gate.Admit(pool, req)
	require.NoError(t, err)
	require.Len(t, report.Admitted, 1)
	require.Len(t, report.Plan.Compressions, 1)
	assert.Empty(t, report.Plan.Excisions)

	op := report.Plan.Compressions[0]
	assert.Equal(t, "i1", op.ItemID)
	assert.Equal(t, uniformCost(2), op.NewCost)
	assert.Equal(t, uniformCost(2), op.Freed)
	assert.Equal(t, []string{"ctx"}, op.DroppedGroups)

	pool.Lock()
	pool.Apply(report.Plan)
	pool.Unlock()
	compressed := pool.Item("i1")
	require.NotNil(t, compressed)
	assert.True(t, compressed.Compressed)
	assert.Nil(t, compressed.FeatureGroups)
	assert.Equal(t, "seed old-low", compressed.Precompression)
}

func TestAdmitExcisesWhenCompressionInsufficient(t *testing.T) {
	gate := newTestGate(t)
	pool := NewPool("pool-a", uniformCost(10))
	pool.Hydrate([]*Item{
		seedItem("i1", "low", 0.1, 0.2, uniformCost(5)),
		seedItem("i2", "high", 0.9, 0.9, uniformCost(3)),
	})

	// Needs 8 free; compressing both frees 4, so the lowest-ranked item is
	// excised too.
	req := Request{
		SessionID:     "s1",
		EffectiveTier: governance.Tier1,
		MemoryEnabled: true,
		Proposals:     []Proposal{{Key: "big", Cost: uniformCost(8)}},
	}

	report, err := gate.Admit(pool, req)
	require.NoError(t, err)
	require.Len(t, report.Admitted, 1)
	assert.Len(t, report.Plan.Compressions, 2)
	require.Len(t, report.Plan.Excisions, 1)
	assert.Equal(t, "i1", report.Plan.Excisions[0].ID)
}

func TestAdmitDeniesOversizedWithoutEvicting(t *testing.T) {
	gate := newTestGate(t)
	pool := NewPool("pool-a", uniformCost(10))
	pool.Hydrate([]*Item{seedItem("i1", "keep", 0.1, 0.1, uniformCost(2))})

	req := Request{
		SessionID:     "s1",
		EffectiveTier: governance.Tier1,
		MemoryEnabled: true,
		Proposals:     []Proposal{{Key: "huge", Cost: uniformCost(11)}},
	}

	report, err := gate.Admit(pool, req)
	require.NoError(t, err)
	assert.Empty(t, report.Admitted)
	require.Len(t, report.Denied, 1)
	assert.Equal(t, DenyCapacityExceeded, report.Denied[0].Reason)
	assert.Empty(t, report.Plan.Compressions)
	assert.Empty(t, report.Plan.Excisions)
	assert.Equal(t, uniformCost(2), report.Plan.NewAggregate)
}

func TestAdmitTierRestriction(t *testing.T) {
	gate := newTestGate(t)

	promoted := Proposal{
		Key:            "verified",
		Cost:           uniformCost(1),
		SelectionTrace: "trace-1",
		AccuracyToken:  "token-1",
	}

	tests := []struct {
		name       string
		tier       governance.Tier
		ineligible bool
		category   Category
		restricted bool
	}{
		{"tier 1 restricts", governance.Tier1, false, CategoryQuarantine, true},
		{"tier 2 promotes", governance.Tier2, false, CategoryClassical, false},
		{"stopgate blocks promotion at tier 2", governance.Tier2, true, CategoryQuarantine, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool("pool-a", uniformCost(10))
			report, err := gate.Admit(pool, Request{
				SessionID:           "s1",
				EffectiveTier:       tt.tier,
				PromotionIneligible: tt.ineligible,
				MemoryEnabled:       true,
				Proposals:           []Proposal{promoted},
			})
			require.NoError(t, err)
			require.Len(t, report.Admitted, 1)
			assert.Equal(t, tt.category, report.Admitted[0].Item.Category)
			assert.Equal(t, tt.restricted, report.Admitted[0].TierRestricted)
		})
	}
}

func TestAdmitMemoryDisabledDeniesAll(t *testing.T) {
	gate := newTestGate(t)
	pool := NewPool("pool-a", uniformCost(10))

	report, err := gate.Admit(pool, Request{
		SessionID:     "s1",
		EffectiveTier: governance.Tier2,
		MemoryEnabled: false,
		Proposals: []Proposal{
			{Key: "a", Cost: uniformCost(1)},
			{Key: "b", Cost: uniformCost(1)},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, report.Admitted)
	require.Len(t, report.Denied, 2)
	for _, d := range report.Denied {
		assert.Equal(t, DenyMemoryDisabled, d.Reason)
	}
	assert.True(t, report.Plan.Empty())
}

func TestAdmitDemotesCorrectedClassical(t *testing.T) {
	gate := newTestGate(t)
	pool := NewPool("pool-a", uniformCost(10))

	classical := seedItem("i1", "stale-fact", 0.9, 1.0, uniformCost(1))
	classical.SelectionTrace = "trace-1"
	classical.AccuracyToken = "token-1"
	classical.Category = CategoryClassical
	pool.Hydrate([]*Item{classical})

	report, err := gate.Admit(pool, Request{
		SessionID:     "s1",
		EffectiveTier: governance.Tier2,
		MemoryEnabled: true,
		Proposals: []Proposal{{
			Key:      "correction-1",
			Content:  "the fact was wrong",
			Cost:     uniformCost(1),
			Corrects: "stale-fact",
		}},
	})
	require.NoError(t, err)
	require.Len(t, report.Plan.Demotions, 1)
	assert.Equal(t, "i1", report.Plan.Demotions[0].ItemID)

	pool.Lock()
	pool.Apply(report.Plan)
	pool.Unlock()

	demoted := pool.Item("i1")
	require.NotNil(t, demoted)
	assert.Equal(t, CategoryQuarantine, demoted.Category)
	assert.Empty(t, demoted.AccuracyToken)
	assert.NotEmpty(t, demoted.SelectionTrace)
}

func TestAdmitCorrectionIgnoresNonClassicalTarget(t *testing.T) {
	gate := newTestGate(t)
	pool := NewPool("pool-a", uniformCost(10))
	pool.Hydrate([]*Item{seedItem("i1", "working-fact", 0.5, 0.5, uniformCost(1))})

	report, err := gate.Admit(pool, Request{
		SessionID:     "s1",
		EffectiveTier: governance.Tier1,
		MemoryEnabled: true,
		Proposals: []Proposal{{
			Key:      "c1",
			Cost:     uniformCost(1),
			Corrects: "working-fact",
		}},
	})
	require.NoError(t, err)
	assert.Empty(t, report.Plan.Demotions)
	assert.Len(t, report.Admitted, 1)
}

func TestRankItemsOrdering(t *testing.T) {
	a := seedItem("a", "a", 0.5, 0.1, uniformCost(1))
	b := seedItem("b", "b", 0.5, 0.9, uniformCost(1))
	c := seedItem("c", "c", 0.1, 0.9, uniformCost(1))
	b.CreatedAt = a.CreatedAt.Add(time.Hour)

	ranked, err := rankItems([]*Item{a, b, c}, []string{
		policy.RankUtilityAsc, policy.RankPointerStabilityAsc, policy.RankAgeDesc,
	})
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	// Lowest utility first, then lower stability breaks the tie.
	assert.Equal(t, "c", ranked[0].ID)
	assert.Equal(t, "a", ranked[1].ID)
	assert.Equal(t, "b", ranked[2].ID)

	_, err = rankItems([]*Item{a}, []string{"bogus"})
	assert.Error(t, err)
}

func TestPoolClearWorking(t *testing.T) {
	pool := NewPool("pool-a", uniformCost(10))
	w := seedItem("w", "w", 0.5, 0.5, uniformCost(1))
	q := seedItem("q", "q", 0.5, 0.5, uniformCost(1))
	q.SelectionTrace = "trace"
	q.Category = CategoryQuarantine
	pool.Hydrate([]*Item{w, q})

	removed := pool.ClearWorking()
	require.Len(t, removed, 1)
	assert.Equal(t, "w", removed[0].ID)
	assert.Len(t, pool.Items(), 1)
	assert.Equal(t, uniformCost(1), pool.Aggregate())
}
