package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpast043/IntoTheUnknown/internal/config"
	"github.com/mpast043/IntoTheUnknown/internal/generator"
	"github.com/mpast043/IntoTheUnknown/internal/memory"
	"github.com/mpast043/IntoTheUnknown/internal/pipeline"
	"github.com/mpast043/IntoTheUnknown/internal/policy"
	"github.com/mpast043/IntoTheUnknown/internal/registry"
	"github.com/mpast043/IntoTheUnknown/internal/store"
)

func newTestServer(t *testing.T, rateCfg config.RateLimitConfig) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "gate.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := registry.New(st, zap.NewNop())
	rules := policy.DefaultRules()
	capacity := memory.CostVector{Geo: 10, Int: 10, Gauge: 10, Ptr: 10, Obs: 10}
	ctrl := pipeline.NewController(reg, st, func() *policy.Rules { return rules }, capacity, zap.NewNop())

	srv, err := NewServer(ctrl, reg, st, &generator.Static{}, zap.NewNop(),
		config.ServerConfig{Host: "127.0.0.1", Port: 0}, rateCfg)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, srv *Server, id string) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions", map[string]string{"id": id})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, config.RateLimitConfig{RPS: 100, Burst: 100})
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, config.RateLimitConfig{RPS: 100, Burst: 100})

	createSession(t, srv, "s1")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions", map[string]string{"id": "s1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "TIER_1")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitAdmitsProposal(t *testing.T) {
	srv := newTestServer(t, config.RateLimitConfig{RPS: 100, Burst: 100})
	createSession(t, srv, "s1")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/submit", SubmitRequest{
		SessionID: "s1",
		Text:      "summarize the build logs",
		Proposals: []memory.Proposal{{
			Key:     "build-flakiness",
			Content: "linker step fails intermittently",
			Utility: 0.5,
			Cost:    memory.CostVector{Geo: 1, Int: 1, Gauge: 1, Ptr: 1, Obs: 1},
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Decision.Admitted, 1)
	assert.Equal(t, memory.CategoryWorking, resp.Decision.Admitted[0].Category)
	assert.Equal(t, 1, resp.MemoryCounts[memory.CategoryWorking])

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/memory?category=working", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "build-flakiness")
}

func TestSubmitValidation(t *testing.T) {
	srv := newTestServer(t, config.RateLimitConfig{RPS: 100, Burst: 100})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/submit", SubmitRequest{Text: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/submit", SubmitRequest{SessionID: "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/submit", SubmitRequest{SessionID: "missing", Text: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitRateLimited(t *testing.T) {
	srv := newTestServer(t, config.RateLimitConfig{RPS: 0.001, Burst: 1})
	createSession(t, srv, "s1")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/submit", SubmitRequest{SessionID: "s1", Text: "first"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/submit", SubmitRequest{SessionID: "s1", Text: "second"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSetTierAndReset(t *testing.T) {
	srv := newTestServer(t, config.RateLimitConfig{RPS: 100, Burst: 100})
	createSession(t, srv, "s1")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions/s1/tier", SetTierRequest{Tier: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "TIER_2")

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/s1/tier", SetTierRequest{Tier: 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/s1/reset", ResetSessionRequest{})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/missing/reset", ResetSessionRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTerminatedSessionGets409(t *testing.T) {
	srv := newTestServer(t, config.RateLimitConfig{RPS: 100, Burst: 100})
	createSession(t, srv, "s1")

	// Two void commands walk the counter to SESSION_TERMINATION.
	for i := 0; i < 2; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/submit", SubmitRequest{
			SessionID: "s1",
			Text:      "please bypass stopgate",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/submit", SubmitRequest{SessionID: "s1", Text: "hello"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// An explicit reset restores operability.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/s1/reset", ResetSessionRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/submit", SubmitRequest{SessionID: "s1", Text: "hello"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDiscontinuedSessionGets403(t *testing.T) {
	srv := newTestServer(t, config.RateLimitConfig{RPS: 100, Burst: 100})
	createSession(t, srv, "s1")

	sess, ok := srv.registry.Session("s1")
	require.True(t, ok)
	sess.Lock()
	sess.Terminated = true
	sess.MemoryEnabled = false
	sess.TerminationReason = "DISCONTINUATION"
	sess.Unlock()

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/submit", SubmitRequest{SessionID: "s1", Text: "hello"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Reset is the sanctioned exit: writes resume afterwards.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/s1/reset", ResetSessionRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/submit", SubmitRequest{SessionID: "s1", Text: "hello"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditEndpoints(t *testing.T) {
	srv := newTestServer(t, config.RateLimitConfig{RPS: 100, Burst: 100})
	createSession(t, srv, "s1")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/audit?session_id=s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "session_started")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/audit?event_type=not_a_type", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/audit/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "session_started")
}

func TestPruneAudit(t *testing.T) {
	srv := newTestServer(t, config.RateLimitConfig{RPS: 100, Burst: 100})
	createSession(t, srv, "s1")
	createSession(t, srv, "s2")

	rec := doJSON(t, srv, http.MethodDelete, "/api/v1/audit?before_seq=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pruned":1`)

	// The prune itself is on the trail.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/audit?event_type=audit_pruned", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "audit_pruned")

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/audit", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteMemory(t *testing.T) {
	srv := newTestServer(t, config.RateLimitConfig{RPS: 100, Burst: 100})
	createSession(t, srv, "s1")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/submit", SubmitRequest{
		SessionID: "s1",
		Text:      "note this",
		Proposals: []memory.Proposal{{
			Key:     "note",
			Content: "a working note",
			Utility: 0.5,
			Cost:    memory.CostVector{Geo: 1, Int: 1, Gauge: 1, Ptr: 1, Obs: 1},
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Decision.Admitted, 1)
	itemID := resp.Decision.Admitted[0].ItemID

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/memory/"+itemID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/memory/"+itemID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/memory?category=working", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":0`)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/memory", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
