package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mpast043/IntoTheUnknown/internal/audit"
	"github.com/mpast043/IntoTheUnknown/internal/governance"
)

// ErrNotFound is returned when a session, pool, or item does not exist.
var ErrNotFound = errors.New("not found")

const sessionColumns = `id, tier, override_counter, memory_enabled, terminated,
	termination_reason, consecutive_corrections, divergence_ema, started_at, updated_at`

// CreateSession persists a fresh session row.
func (s *Store) CreateSession(ctx context.Context, v governance.SessionView) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Tier.String(), v.OverrideCounter, boolInt(v.MemoryEnabled),
		boolInt(v.Terminated), v.TerminationReason, v.ConsecutiveCorrections,
		v.DivergenceEMA, v.StartedAt.Format(time.RFC3339Nano), now)
	if err != nil {
		return fmt.Errorf("create session %s: %w", v.ID, err)
	}
	return nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id string) (governance.SessionView, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	v, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return v, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return v, fmt.Errorf("get session %s: %w", id, err)
	}
	return v, nil
}

// ListSessions loads every session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]governance.SessionView, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []governance.SessionView
	for rows.Next() {
		v, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, v)
	}
	return sessions, rows.Err()
}

// SaveSession persists a session view outside a decision, with its audit
// events in the same transaction. Used by administrative tier changes and
// resets.
func (s *Store) SaveSession(ctx context.Context, v governance.SessionView, events []audit.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin save session: %v", governance.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if err := appendEventsTx(ctx, tx, events); err != nil {
		return fmt.Errorf("%w: %v", governance.ErrStorageFailure, err)
	}
	if err := updateSessionTx(ctx, tx, v); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", governance.ErrStorageFailure, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit save session: %v", governance.ErrStorageFailure, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (governance.SessionView, error) {
	var (
		v                    governance.SessionView
		tier                 string
		memEnabled, termed   int
		startedAt, updatedAt string
	)
	err := row.Scan(&v.ID, &tier, &v.OverrideCounter, &memEnabled, &termed,
		&v.TerminationReason, &v.ConsecutiveCorrections, &v.DivergenceEMA,
		&startedAt, &updatedAt)
	if err != nil {
		return v, err
	}

	parsed, err := governance.ParseTierName(tier)
	if err != nil {
		return v, err
	}
	v.Tier = parsed
	v.MemoryEnabled = memEnabled != 0
	v.Terminated = termed != 0
	if v.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return v, fmt.Errorf("parse started_at: %w", err)
	}
	return v, nil
}

func updateSessionTx(ctx context.Context, tx *sql.Tx, v governance.SessionView) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET tier = ?, override_counter = ?, memory_enabled = ?,
			terminated = ?, termination_reason = ?, consecutive_corrections = ?,
			divergence_ema = ?, updated_at = ?
		WHERE id = ?`,
		v.Tier.String(), v.OverrideCounter, boolInt(v.MemoryEnabled),
		boolInt(v.Terminated), v.TerminationReason, v.ConsecutiveCorrections,
		v.DivergenceEMA, time.Now().UTC().Format(time.RFC3339Nano), v.ID)
	if err != nil {
		return fmt.Errorf("update session %s: %w", v.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", v.ID, ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
