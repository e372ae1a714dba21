package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mpast043/IntoTheUnknown/internal/audit"
	"github.com/mpast043/IntoTheUnknown/internal/governance"
	"github.com/mpast043/IntoTheUnknown/internal/memory"
	"github.com/mpast043/IntoTheUnknown/internal/pipeline"
	"github.com/mpast043/IntoTheUnknown/internal/registry"
	"github.com/mpast043/IntoTheUnknown/internal/store"
)

// SubmitRequest is the body for POST /api/v1/submit. Proposals, when present,
// bypass the generator; the submitted text is then treated as both command
// and output.
type SubmitRequest struct {
	SessionID string              `json:"session_id"`
	PoolID    string              `json:"pool_id,omitempty"`
	Text      string              `json:"text"`
	Proposals []memory.Proposal   `json:"proposals,omitempty"`
	Predicted *governance.Verdict `json:"predicted_verdict,omitempty"`
}

// SubmitResponse is the body for POST /api/v1/submit.
type SubmitResponse struct {
	Decision     *pipeline.Outcome       `json:"decision"`
	ResponseText string                  `json:"response_text,omitempty"`
	Session      governance.SessionView  `json:"session"`
	MemoryCounts map[memory.Category]int `json:"memory_counts"`
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleSubmit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	if !s.limiter(req.SessionID).Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "session rate limit exceeded")
	}

	ctx := c.Request().Context()
	input := pipeline.Input{
		SessionID: req.SessionID,
		PoolID:    req.PoolID,
		Command:   req.Text,
		Output:    req.Text,
		Proposals: req.Proposals,
		Predicted: req.Predicted,
	}

	var responseText string
	if len(req.Proposals) == 0 && s.generator != nil {
		result, err := s.generator.Generate(ctx, req.SessionID, req.Text)
		if err != nil {
			s.logger.Error("generator failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadGateway, "generator unavailable")
		}
		responseText = result.ResponseText
		input.Output = result.ResponseText
		input.Proposals = result.Proposals
		if input.Predicted == nil {
			input.Predicted = result.Predicted
		}
	}

	outcome, err := s.controller.Decide(ctx, input)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, SubmitResponse{
		Decision:     outcome,
		ResponseText: responseText,
		Session:      s.sessionView(req.SessionID),
		MemoryCounts: s.poolCounts(input.PoolID),
	})
}

// CreateSessionRequest is the body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	ID string `json:"id,omitempty"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sess, err := s.registry.CreateSession(c.Request().Context(), req.ID)
	if err != nil {
		return mapError(err)
	}

	sess.Lock()
	view := sess.View()
	sess.Unlock()
	return c.JSON(http.StatusCreated, view)
}

func (s *Server) handleListSessions(c echo.Context) error {
	sessions := s.registry.Sessions()
	views := make([]governance.SessionView, 0, len(sessions))
	for _, sess := range sessions {
		sess.Lock()
		views = append(views, sess.View())
		sess.Unlock()
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, ok := s.registry.Session(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	sess.Lock()
	view := sess.View()
	sess.Unlock()
	return c.JSON(http.StatusOK, view)
}

// ResetSessionRequest is the body for POST /api/v1/sessions/:id/reset.
type ResetSessionRequest struct {
	PoolID string `json:"pool_id,omitempty"`
}

func (s *Server) handleResetSession(c echo.Context) error {
	var req ResetSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	view, err := s.controller.ResetSession(c.Request().Context(), c.Param("id"), req.PoolID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// SetTierRequest is the body for POST /api/v1/sessions/:id/tier.
type SetTierRequest struct {
	Tier int `json:"tier"`
}

func (s *Server) handleSetTier(c echo.Context) error {
	var req SetTierRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	view, err := s.controller.SetTier(c.Request().Context(), c.Param("id"), governance.Tier(req.Tier))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) handleQueryAudit(c echo.Context) error {
	q := audit.Query{
		SessionID: c.QueryParam("session_id"),
		Limit:     100,
	}
	if v := c.QueryParam("event_type"); v != "" {
		t := audit.EventType(v)
		if !t.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown event_type")
		}
		q.Type = t
	}
	if v := c.QueryParam("since_seq"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil || seq < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since_seq")
		}
		q.SinceSeq = seq
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 1000 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be in [1, 1000]")
		}
		q.Limit = limit
	}

	events, err := s.store.QueryAudit(c.Request().Context(), q)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) handlePruneAudit(c echo.Context) error {
	beforeSeq, err := strconv.ParseInt(c.QueryParam("before_seq"), 10, 64)
	if err != nil || beforeSeq < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "before_seq must be a positive integer")
	}

	pruned, err := s.store.PruneAudit(c.Request().Context(), beforeSeq)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"pruned": pruned})
}

func (s *Server) handleAuditStats(c echo.Context) error {
	stats, err := s.store.AuditStats(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListMemory(c echo.Context) error {
	poolID := c.QueryParam("pool_id")
	if poolID == "" {
		poolID = "default"
	}

	var category memory.Category
	if v := c.QueryParam("category"); v != "" {
		category = memory.Category(v)
		switch category {
		case memory.CategoryWorking, memory.CategoryQuarantine, memory.CategoryClassical:
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "unknown category")
		}
	}

	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be in [1, 1000]")
		}
		limit = parsed
	}

	items, err := s.store.QueryItems(c.Request().Context(), store.ItemQuery{
		PoolID:    poolID,
		SessionID: c.QueryParam("session_id"),
		Category:  category,
		Limit:     limit,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) handleDeleteMemoryItem(c echo.Context) error {
	poolID := c.QueryParam("pool_id")
	if poolID == "" {
		poolID = "default"
	}
	itemID := c.Param("id")

	pool, ok := s.registry.Pool(poolID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "pool not found")
	}

	pool.Lock()
	defer pool.Unlock()
	item := pool.Item(itemID)
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound, "memory item not found")
	}

	err := s.store.DeleteItem(c.Request().Context(), poolID, itemID, []audit.Event{{
		SessionID: item.SessionID,
		Type:      audit.EventMemoryDeleted,
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"item_id": itemID, "key": item.Key, "actor": "admin"},
	}})
	if err != nil {
		return mapError(err)
	}
	pool.Remove([]string{itemID})
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteMemoryBulk(c echo.Context) error {
	poolID := c.QueryParam("pool_id")
	if poolID == "" {
		poolID = "default"
	}
	category := memory.Category(c.QueryParam("category"))
	switch category {
	case memory.CategoryWorking, memory.CategoryQuarantine, memory.CategoryClassical:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "category is required")
	}

	pool, ok := s.registry.Pool(poolID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "pool not found")
	}

	pool.Lock()
	defer pool.Unlock()

	deleted := 0
	for id, item := range pool.Items() {
		if item.Category != category {
			continue
		}
		err := s.store.DeleteItem(c.Request().Context(), poolID, id, []audit.Event{{
			SessionID: item.SessionID,
			Type:      audit.EventMemoryDeleted,
			Timestamp: time.Now().UTC(),
			Payload:   map[string]any{"item_id": id, "key": item.Key, "category": string(category), "actor": "admin"},
		}})
		if err != nil {
			return mapError(err)
		}
		pool.Remove([]string{id})
		deleted++
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) sessionView(sessionID string) governance.SessionView {
	sess, ok := s.registry.Session(sessionID)
	if !ok {
		return governance.SessionView{}
	}
	sess.Lock()
	defer sess.Unlock()
	return sess.View()
}

func (s *Server) poolCounts(poolID string) map[memory.Category]int {
	if poolID == "" {
		poolID = "default"
	}
	pool, ok := s.registry.Pool(poolID)
	if !ok {
		return map[memory.Category]int{}
	}
	pool.Lock()
	defer pool.Unlock()
	return pool.Counts()
}

// mapError translates domain sentinels to HTTP status codes.
func mapError(err error) error {
	switch {
	case errors.Is(err, governance.ErrSessionDiscontinued):
		return echo.NewHTTPError(http.StatusForbidden, "session discontinued; explicit reset required")
	case errors.Is(err, governance.ErrSessionTerminated):
		return echo.NewHTTPError(http.StatusConflict, "session terminated")
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, registry.ErrSessionExists):
		return echo.NewHTTPError(http.StatusConflict, "session already exists")
	case errors.Is(err, governance.ErrGovernanceViolation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, governance.ErrStorageFailure):
		return echo.NewHTTPError(http.StatusInternalServerError, "storage failure")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
