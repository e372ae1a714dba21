package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mpast043/IntoTheUnknown/internal/policy"
)

// Pool is the in-memory view of one capacity-bounded memory pool. The
// authoritative copy lives in the store; this view is updated only after a
// decision's transaction commits, so a storage failure never leaves the two
// out of sync.
type Pool struct {
	mu sync.Mutex

	ID       string
	Capacity CostVector

	aggregate CostVector
	items     map[string]*Item // by item ID
}

// NewPool creates an empty pool with the given capacity.
func NewPool(id string, capacity CostVector) *Pool {
	return &Pool{
		ID:       id,
		Capacity: capacity,
		items:    make(map[string]*Item),
	}
}

// Lock acquires the pool lock. Decisions take the session lock first, then
// the pool lock, always in that order.
func (p *Pool) Lock() { p.mu.Lock() }

// Unlock releases the pool lock.
func (p *Pool) Unlock() { p.mu.Unlock() }

// Aggregate returns the current aggregate cost. Caller must hold the lock.
func (p *Pool) Aggregate() CostVector { return p.aggregate }

// Items returns the live items. Caller must hold the lock and must not
// retain the map across unlock.
func (p *Pool) Items() map[string]*Item { return p.items }

// Item returns the item with the given ID, or nil.
func (p *Pool) Item(id string) *Item { return p.items[id] }

// FindByKey returns the newest live item with the given key, or nil.
func (p *Pool) FindByKey(key string) *Item {
	var found *Item
	for _, it := range p.items {
		if it.Key != key {
			continue
		}
		if found == nil || it.CreatedAt.After(found.CreatedAt) {
			found = it
		}
	}
	return found
}

// Counts returns the number of live items per category.
func (p *Pool) Counts() map[Category]int {
	counts := make(map[Category]int, 3)
	for _, it := range p.items {
		counts[it.Category]++
	}
	return counts
}

// Hydrate replaces the pool's contents from the store's view. Used at
// startup and after rollback overrides reload state.
func (p *Pool) Hydrate(items []*Item) {
	p.items = make(map[string]*Item, len(items))
	p.aggregate = CostVector{}
	for _, it := range items {
		p.items[it.ID] = it
		p.aggregate = p.aggregate.Add(it.Cost)
	}
}

// CompressOp records one compression inside a plan: the item loses its
// feature groups and its cost shrinks to NewCost; the original content is
// retained alongside the abstraction.
type CompressOp struct {
	ItemID        string
	NewCost       CostVector
	Freed         CostVector
	DroppedGroups []string
}

// DemoteOp strips the accuracy token from a classical item, returning it to
// quarantine.
type DemoteOp struct {
	ItemID  string
	Reason  string
	ByKey   string
	WasCost CostVector
}

// Plan is the set of mutations a gate decision wants applied to the pool.
// The pipeline persists the plan in the decision's transaction first and
// applies it to the in-memory pool only on commit success.
type Plan struct {
	Inserts      []*Item
	Compressions []CompressOp
	Excisions    []*Item
	Demotions    []DemoteOp
	NewAggregate CostVector
}

// Empty reports whether the plan mutates nothing.
func (pl *Plan) Empty() bool {
	return len(pl.Inserts) == 0 && len(pl.Compressions) == 0 &&
		len(pl.Excisions) == 0 && len(pl.Demotions) == 0
}

// Apply mutates the pool per the plan. Caller must hold the lock and must
// only call this after the plan was durably committed.
func (p *Pool) Apply(pl *Plan) {
	for _, op := range pl.Demotions {
		if it := p.items[op.ItemID]; it != nil {
			it.AccuracyToken = ""
			it.Category = CategoryQuarantine
		}
	}
	for _, op := range pl.Compressions {
		it := p.items[op.ItemID]
		if it == nil {
			continue
		}
		it.Precompression = it.Content
		it.FeatureGroups = nil
		it.Cost = op.NewCost
		it.Compressed = true
	}
	for _, ex := range pl.Excisions {
		delete(p.items, ex.ID)
	}
	for _, it := range pl.Inserts {
		p.items[it.ID] = it
	}
	p.aggregate = pl.NewAggregate
}

// Clear removes every item. Used by FULL_RESET and DISCONTINUATION after the
// corresponding store mutation commits.
func (p *Pool) Clear() {
	p.items = make(map[string]*Item)
	p.aggregate = CostVector{}
}

// Remove deletes the given items by ID, adjusting the aggregate.
func (p *Pool) Remove(ids []string) {
	for _, id := range ids {
		it, ok := p.items[id]
		if !ok {
			continue
		}
		p.aggregate = p.aggregate.Sub(it.Cost)
		delete(p.items, id)
	}
}

// ClearWorking removes working items only, preserving quarantine and
// classical entries. Used by PARTIAL_ROLLBACK.
func (p *Pool) ClearWorking() []*Item {
	var removed []*Item
	for id, it := range p.items {
		if it.Category != CategoryWorking {
			continue
		}
		removed = append(removed, it)
		p.aggregate = p.aggregate.Sub(it.Cost)
		delete(p.items, id)
	}
	return removed
}

// rankItems orders eviction candidates by the configured ranking keys.
// Supported keys: utility_asc, pointer_stability_asc, age_desc. Ties fall
// through to the next key; the final tiebreak is item ID for determinism.
func rankItems(items []*Item, ranking []string) ([]*Item, error) {
	cmps := make([]func(a, b *Item) int, 0, len(ranking))
	for _, key := range ranking {
		switch key {
		case policy.RankUtilityAsc:
			cmps = append(cmps, func(a, b *Item) int {
				switch {
				case a.Utility < b.Utility:
					return -1
				case a.Utility > b.Utility:
					return 1
				}
				return 0
			})
		case policy.RankPointerStabilityAsc:
			cmps = append(cmps, func(a, b *Item) int {
				switch {
				case a.PointerStability < b.PointerStability:
					return -1
				case a.PointerStability > b.PointerStability:
					return 1
				}
				return 0
			})
		case policy.RankAgeDesc:
			cmps = append(cmps, func(a, b *Item) int {
				// Oldest first.
				switch {
				case a.CreatedAt.Before(b.CreatedAt):
					return -1
				case b.CreatedAt.Before(a.CreatedAt):
					return 1
				}
				return 0
			})
		default:
			return nil, fmt.Errorf("unknown ranking key %q", key)
		}
	}

	ranked := make([]*Item, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool {
		for _, cmp := range cmps {
			if c := cmp(ranked[i], ranked[j]); c != 0 {
				return c < 0
			}
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked, nil
}

// age is a test seam; production always uses wall time.
var now = func() time.Time { return time.Now().UTC() }
