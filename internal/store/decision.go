package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mpast043/IntoTheUnknown/internal/audit"
	"github.com/mpast043/IntoTheUnknown/internal/governance"
	"github.com/mpast043/IntoTheUnknown/internal/memory"
)

// Decision is the full durable outcome of one pipeline run: the updated
// session row, the pool mutation plan, any override-driven removals, and the
// decision's audit events. Everything commits in one transaction.
type Decision struct {
	PoolID  string
	Session governance.SessionView
	Plan    *memory.Plan
	// RemoveItemIDs are items cleared by a PARTIAL_ROLLBACK.
	RemoveItemIDs []string
	// ClearPool drops every item; set by FULL_RESET and DISCONTINUATION.
	ClearPool bool
	Events    []audit.Event
}

// CommitDecision atomically persists a decision. On any failure nothing is
// written and the caller must leave in-memory state untouched; audit
// append failure therefore fails the whole decision.
func (s *Store) CommitDecision(ctx context.Context, d Decision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin decision: %v", governance.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if err := s.commitDecisionTx(ctx, tx, d); err != nil {
		return fmt.Errorf("%w: %v", governance.ErrStorageFailure, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit decision: %v", governance.ErrStorageFailure, err)
	}

	s.log.Debug("decision committed",
		zap.String("session_id", d.Session.ID),
		zap.String("pool_id", d.PoolID),
		zap.Int("events", len(d.Events)))
	return nil
}

func (s *Store) commitDecisionTx(ctx context.Context, tx *sql.Tx, d Decision) error {
	if err := appendEventsTx(ctx, tx, d.Events); err != nil {
		return err
	}

	if d.ClearPool {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memory_items WHERE pool_id = ?`, d.PoolID); err != nil {
			return fmt.Errorf("clear pool %s: %w", d.PoolID, err)
		}
	}
	for _, id := range d.RemoveItemIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memory_items WHERE id = ?`, id); err != nil {
			return fmt.Errorf("remove item %s: %w", id, err)
		}
	}

	if d.Plan != nil {
		if err := applyPlanTx(ctx, tx, d.Plan); err != nil {
			return err
		}
	}

	return updateSessionTx(ctx, tx, d.Session)
}

func applyPlanTx(ctx context.Context, tx *sql.Tx, plan *memory.Plan) error {
	for _, op := range plan.Demotions {
		if _, err := tx.ExecContext(ctx, `
			UPDATE memory_items SET accuracy_token = '', category = ?
			WHERE id = ?`, string(memory.CategoryQuarantine), op.ItemID); err != nil {
			return fmt.Errorf("demote item %s: %w", op.ItemID, err)
		}
	}
	for _, op := range plan.Compressions {
		if _, err := tx.ExecContext(ctx, `
			UPDATE memory_items SET precompression = content, feature_groups = '',
				compressed = 1, cost_geo = ?, cost_int = ?, cost_gauge = ?,
				cost_ptr = ?, cost_obs = ?
			WHERE id = ?`,
			op.NewCost.Geo, op.NewCost.Int, op.NewCost.Gauge, op.NewCost.Ptr,
			op.NewCost.Obs, op.ItemID); err != nil {
			return fmt.Errorf("compress item %s: %w", op.ItemID, err)
		}
	}
	for _, it := range plan.Excisions {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memory_items WHERE id = ?`, it.ID); err != nil {
			return fmt.Errorf("excise item %s: %w", it.ID, err)
		}
	}
	for _, it := range plan.Inserts {
		if err := insertItemTx(ctx, tx, it); err != nil {
			return err
		}
	}
	return nil
}

func appendEventsTx(ctx context.Context, tx *sql.Tx, events []audit.Event) error {
	for _, ev := range events {
		if !ev.Type.Valid() {
			return fmt.Errorf("unknown audit event type %q", ev.Type)
		}
		payload := "{}"
		if len(ev.Payload) > 0 {
			raw, err := json.Marshal(ev.Payload)
			if err != nil {
				return fmt.Errorf("encode audit payload: %w", err)
			}
			payload = string(raw)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_log (decision_id, session_id, stage, type, ts, payload)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ev.DecisionID, ev.SessionID, ev.Stage, string(ev.Type),
			ev.Timestamp.Format(time.RFC3339Nano), payload)
		if err != nil {
			return fmt.Errorf("append audit event: %w", err)
		}
	}
	return nil
}

// AppendEvents durably appends events outside a decision, for lifecycle and
// administrative actions. Fail-closed like everything else.
func (s *Store) AppendEvents(ctx context.Context, events []audit.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin append: %v", governance.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if err := appendEventsTx(ctx, tx, events); err != nil {
		return fmt.Errorf("%w: %v", governance.ErrStorageFailure, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit append: %v", governance.ErrStorageFailure, err)
	}
	return nil
}

// DeleteItem removes one item administratively. The deletion event is
// appended in the same transaction, so an unauditable delete never happens.
func (s *Store) DeleteItem(ctx context.Context, poolID, itemID string, events []audit.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin delete: %v", governance.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if err := appendEventsTx(ctx, tx, events); err != nil {
		return fmt.Errorf("%w: %v", governance.ErrStorageFailure, err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM memory_items WHERE id = ? AND pool_id = ?`, itemID, poolID)
	if err != nil {
		return fmt.Errorf("%w: delete item %s: %v", governance.ErrStorageFailure, itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete: %v", governance.ErrStorageFailure, err)
	}
	return nil
}

// PruneAudit deletes trail entries with seq < beforeSeq. The only sanctioned
// deletion from the trail; the prune itself is recorded in the same
// transaction, so the trail always shows that it was cut and where.
func (s *Store) PruneAudit(ctx context.Context, beforeSeq int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin prune: %v", governance.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM audit_log WHERE seq < ?`, beforeSeq)
	if err != nil {
		return 0, fmt.Errorf("%w: prune audit: %v", governance.ErrStorageFailure, err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	err = appendEventsTx(ctx, tx, []audit.Event{{
		Type:      audit.EventAuditPruned,
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"before_seq": beforeSeq, "pruned": pruned, "actor": "admin"},
	}})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", governance.ErrStorageFailure, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit prune: %v", governance.ErrStorageFailure, err)
	}
	s.log.Info("audit trail pruned",
		zap.Int64("before_seq", beforeSeq),
		zap.Int64("pruned", pruned))
	return pruned, nil
}

// QueryAudit reads the trail in seq order.
func (s *Store) QueryAudit(ctx context.Context, q audit.Query) ([]audit.Event, error) {
	query := `SELECT seq, decision_id, session_id, stage, type, ts, payload
		FROM audit_log WHERE seq > ?`
	args := []any{q.SinceSeq}
	if q.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, q.SessionID)
	}
	if q.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(q.Type))
	}
	query += ` ORDER BY seq ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			ev      audit.Event
			ts      string
			payload string
		)
		if err := rows.Scan(&ev.Seq, &ev.DecisionID, &ev.SessionID, &ev.Stage,
			(*string)(&ev.Type), &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse audit timestamp: %w", err)
		}
		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AuditStats aggregates the trail.
func (s *Store) AuditStats(ctx context.Context) (audit.Stats, error) {
	stats := audit.Stats{ByType: make(map[audit.EventType]int64)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM audit_log GROUP BY type`)
	if err != nil {
		return stats, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return stats, err
		}
		stats.ByType[audit.EventType(typ)] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM audit_log`).Scan(&stats.MaxSeq)
	if err != nil {
		return stats, fmt.Errorf("audit max seq: %w", err)
	}
	return stats, nil
}
