// Package registry holds the live in-memory views of sessions and pools.
// The store stays authoritative; the registry hydrates from it at startup
// and is updated only after decision transactions commit.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mpast043/IntoTheUnknown/internal/audit"
	"github.com/mpast043/IntoTheUnknown/internal/governance"
	"github.com/mpast043/IntoTheUnknown/internal/memory"
	"github.com/mpast043/IntoTheUnknown/internal/store"
)

// ErrSessionExists is returned when creating a session whose ID is taken.
var ErrSessionExists = errors.New("session already exists")

// Registry is the process-wide map of live sessions and pools.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*governance.SessionState
	pools    map[string]*memory.Pool

	store *store.Store
	log   *zap.Logger
}

// New creates an empty registry over the store.
func New(st *store.Store, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*governance.SessionState),
		pools:    make(map[string]*memory.Pool),
		store:    st,
		log:      log,
	}
}

// Hydrate loads every persisted session and pool. Called once at startup
// before the server accepts traffic.
func (r *Registry) Hydrate(ctx context.Context) error {
	sessions, err := r.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("hydrate sessions: %w", err)
	}
	poolIDs, err := r.store.ListPoolIDs(ctx)
	if err != nil {
		return fmt.Errorf("hydrate pools: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range sessions {
		r.sessions[v.ID] = governance.FromView(v)
	}
	for _, id := range poolIDs {
		pool, err := r.store.LoadPool(ctx, id)
		if err != nil {
			return fmt.Errorf("hydrate pool %s: %w", id, err)
		}
		r.pools[id] = pool
	}

	r.log.Info("registry hydrated",
		zap.Int("sessions", len(r.sessions)),
		zap.Int("pools", len(r.pools)))
	return nil
}

// CreateSession persists and registers a fresh TIER_1 session. An empty id
// gets a generated UUID. The session_started event is appended before the
// session is visible.
func (r *Registry) CreateSession(ctx context.Context, id string) (*governance.SessionState, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionExists)
	}

	sess := governance.NewSessionState(id)
	if err := r.store.CreateSession(ctx, sess.View()); err != nil {
		return nil, err
	}
	if err := r.store.AppendEvents(ctx, []audit.Event{{
		SessionID: id,
		Type:      audit.EventSessionStarted,
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"tier": sess.Tier.String()},
	}}); err != nil {
		return nil, err
	}

	r.sessions[id] = sess
	r.log.Info("session created", zap.String("session_id", id))
	return sess, nil
}

// Session returns the live session, if registered.
func (r *Registry) Session(id string) (*governance.SessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Sessions returns every live session, sorted by ID for stable output.
func (r *Registry) Sessions() []*governance.SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*governance.SessionState, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EnsurePool returns the live pool, creating and persisting it with the
// given capacity if it does not exist yet.
func (r *Registry) EnsurePool(ctx context.Context, id string, capacity memory.CostVector) (*memory.Pool, error) {
	r.mu.RLock()
	pool, ok := r.pools[id]
	r.mu.RUnlock()
	if ok {
		return pool, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if pool, ok = r.pools[id]; ok {
		return pool, nil
	}

	if err := r.store.EnsurePool(ctx, id, capacity); err != nil {
		return nil, err
	}
	pool, err := r.store.LoadPool(ctx, id)
	if err != nil {
		return nil, err
	}
	r.pools[id] = pool
	r.log.Info("pool registered", zap.String("pool_id", id))
	return pool, nil
}

// Pool returns the live pool, if registered.
func (r *Registry) Pool(id string) (*memory.Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pool, ok := r.pools[id]
	return pool, ok
}

// PoolIDs returns the registered pool IDs, sorted.
func (r *Registry) PoolIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
