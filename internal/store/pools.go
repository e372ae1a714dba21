package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mpast043/IntoTheUnknown/internal/memory"
)

const itemColumns = `id, pool_id, session_id, item_key, content, created_at,
	utility, pointer_stability, cost_geo, cost_int, cost_gauge, cost_ptr, cost_obs,
	feature_groups, selection_trace, accuracy_token, category, compressed, precompression`

// EnsurePool creates the pool row if it does not exist. Capacity is fixed at
// creation; an existing pool's capacity is not changed.
func (s *Store) EnsurePool(ctx context.Context, id string, capacity memory.CostVector) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pools (id, cap_geo, cap_int, cap_gauge, cap_ptr, cap_obs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, capacity.Geo, capacity.Int, capacity.Gauge, capacity.Ptr, capacity.Obs,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("ensure pool %s: %w", id, err)
	}
	return nil
}

// LoadPool hydrates a pool and its live items from disk.
func (s *Store) LoadPool(ctx context.Context, id string) (*memory.Pool, error) {
	var capacity memory.CostVector
	err := s.db.QueryRowContext(ctx,
		`SELECT cap_geo, cap_int, cap_gauge, cap_ptr, cap_obs FROM pools WHERE id = ?`, id).
		Scan(&capacity.Geo, &capacity.Int, &capacity.Gauge, &capacity.Ptr, &capacity.Obs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load pool %s: %w", id, err)
	}

	items, err := s.QueryItems(ctx, ItemQuery{PoolID: id})
	if err != nil {
		return nil, err
	}

	pool := memory.NewPool(id, capacity)
	pool.Hydrate(items)
	return pool, nil
}

// ListPoolIDs returns every pool ID.
func (s *Store) ListPoolIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM pools ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ItemQuery filters memory item reads. Zero values mean "any";
// Limit <= 0 means no limit.
type ItemQuery struct {
	PoolID    string
	SessionID string
	Category  memory.Category
	Limit     int
}

// QueryItems returns a pool's items matching the query, newest first.
func (s *Store) QueryItems(ctx context.Context, iq ItemQuery) ([]*memory.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM memory_items WHERE pool_id = ?`
	args := []any{iq.PoolID}
	if iq.SessionID != "" {
		q += ` AND session_id = ?`
		args = append(args, iq.SessionID)
	}
	if iq.Category != "" {
		q += ` AND category = ?`
		args = append(args, string(iq.Category))
	}
	q += ` ORDER BY created_at DESC`
	if iq.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, iq.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query items for pool %s: %w", iq.PoolID, err)
	}
	defer rows.Close()

	var items []*memory.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ItemCounts returns the live item count per category for a pool.
func (s *Store) ItemCounts(ctx context.Context, poolID string) (map[memory.Category]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM memory_items WHERE pool_id = ? GROUP BY category`, poolID)
	if err != nil {
		return nil, fmt.Errorf("count items for pool %s: %w", poolID, err)
	}
	defer rows.Close()

	counts := make(map[memory.Category]int64, 3)
	for rows.Next() {
		var cat string
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		counts[memory.Category(cat)] = n
	}
	return counts, rows.Err()
}

func scanItem(row rowScanner) (*memory.Item, error) {
	var (
		item       memory.Item
		createdAt  string
		groups     string
		compressed int
	)
	err := row.Scan(&item.ID, &item.PoolID, &item.SessionID, &item.Key, &item.Content,
		&createdAt, &item.Utility, &item.PointerStability,
		&item.Cost.Geo, &item.Cost.Int, &item.Cost.Gauge, &item.Cost.Ptr, &item.Cost.Obs,
		&groups, &item.SelectionTrace, &item.AccuracyToken,
		(*string)(&item.Category), &compressed, &item.Precompression)
	if err != nil {
		return nil, err
	}

	if item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	item.Compressed = compressed != 0
	if groups != "" {
		if err := json.Unmarshal([]byte(groups), &item.FeatureGroups); err != nil {
			return nil, fmt.Errorf("decode feature groups for item %s: %w", item.ID, err)
		}
	}
	return &item, nil
}

func insertItemTx(ctx context.Context, tx *sql.Tx, item *memory.Item) error {
	groups := ""
	if len(item.FeatureGroups) > 0 {
		raw, err := json.Marshal(item.FeatureGroups)
		if err != nil {
			return fmt.Errorf("encode feature groups for item %s: %w", item.ID, err)
		}
		groups = string(raw)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.PoolID, item.SessionID, item.Key, item.Content,
		item.CreatedAt.Format(time.RFC3339Nano), item.Utility, item.PointerStability,
		item.Cost.Geo, item.Cost.Int, item.Cost.Gauge, item.Cost.Ptr, item.Cost.Obs,
		groups, item.SelectionTrace, item.AccuracyToken,
		string(item.Category), boolInt(item.Compressed), item.Precompression)
	if err != nil {
		return fmt.Errorf("insert item %s: %w", item.ID, err)
	}
	return nil
}
