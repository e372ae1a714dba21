// Package http exposes the decision pipeline and its admin surfaces over a
// JSON API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mpast043/IntoTheUnknown/internal/config"
	"github.com/mpast043/IntoTheUnknown/internal/generator"
	"github.com/mpast043/IntoTheUnknown/internal/pipeline"
	"github.com/mpast043/IntoTheUnknown/internal/registry"
	"github.com/mpast043/IntoTheUnknown/internal/store"
)

// Server hosts the JSON API.
type Server struct {
	echo       *echo.Echo
	controller *pipeline.Controller
	registry   *registry.Registry
	store      *store.Store
	generator  generator.Generator
	logger     *zap.Logger
	config     config.ServerConfig

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateCfg   config.RateLimitConfig
}

// NewServer wires the echo server with middleware and routes.
func NewServer(
	controller *pipeline.Controller,
	reg *registry.Registry,
	st *store.Store,
	gen generator.Generator,
	logger *zap.Logger,
	cfg config.ServerConfig,
	rateCfg config.RateLimitConfig,
) (*Server, error) {
	if controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:       e,
		controller: controller,
		registry:   reg,
		store:      st,
		generator:  gen,
		logger:     logger,
		config:     cfg,
		limiters:   make(map[string]*rate.Limiter),
		rateCfg:    rateCfg,
	}

	metrics := NewHTTPMetrics(logger)
	e.Use(metrics.Middleware())

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/submit", s.handleSubmit)

	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.POST("/sessions/:id/reset", s.handleResetSession)
	v1.POST("/sessions/:id/tier", s.handleSetTier)

	v1.GET("/audit", s.handleQueryAudit)
	v1.GET("/audit/stats", s.handleAuditStats)
	v1.DELETE("/audit", s.handlePruneAudit)

	v1.GET("/memory", s.handleListMemory)
	v1.DELETE("/memory/:id", s.handleDeleteMemoryItem)
	v1.DELETE("/memory", s.handleDeleteMemoryBulk)
}

// limiter returns the per-session rate limiter, creating it on first use.
func (s *Server) limiter(sessionID string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.rateCfg.RPS), s.rateCfg.Burst)
		s.limiters[sessionID] = l
	}
	return l
}

// Start begins serving. Blocks until Shutdown or listen failure.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
