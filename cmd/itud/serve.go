package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mpast043/IntoTheUnknown/internal/audit"
	"github.com/mpast043/IntoTheUnknown/internal/config"
	"github.com/mpast043/IntoTheUnknown/internal/generator"
	httpapi "github.com/mpast043/IntoTheUnknown/internal/http"
	"github.com/mpast043/IntoTheUnknown/internal/logging"
	"github.com/mpast043/IntoTheUnknown/internal/memory"
	"github.com/mpast043/IntoTheUnknown/internal/pipeline"
	"github.com/mpast043/IntoTheUnknown/internal/policy"
	"github.com/mpast043/IntoTheUnknown/internal/registry"
	"github.com/mpast043/IntoTheUnknown/internal/store"
	"github.com/mpast043/IntoTheUnknown/internal/telemetry"
)

// runServe wires the daemon and blocks until a signal arrives.
func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	logger.Info("starting itud",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Path))

	tel, err := telemetry.Setup(ctx, cfg.Observability, version)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	reg := registry.New(st, logger)
	if err := reg.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrating registry: %w", err)
	}

	rules, err := policy.Load(cfg.Policy.Path)
	if err != nil {
		return fmt.Errorf("loading policy rules: %w", err)
	}
	var activeRules atomic.Pointer[policy.Rules]
	activeRules.Store(rules)

	if cfg.Policy.Watch && cfg.Policy.Path != "" {
		watcher := policy.NewWatcher(cfg.Policy.Path, logger, func(next *policy.Rules) {
			prev := activeRules.Swap(next)
			ev := audit.Event{
				Type:      audit.EventPolicyReloaded,
				Timestamp: time.Now().UTC(),
				Payload: map[string]any{
					"path":         cfg.Policy.Path,
					"version_from": prev.Version,
					"version_to":   next.Version,
				},
			}
			if err := st.AppendEvents(context.Background(), []audit.Event{ev}); err != nil {
				logger.Error("failed to audit policy reload", zap.Error(err))
			}
		})
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting policy watcher: %w", err)
		}
		logger.Info("policy watcher started", zap.String("path", cfg.Policy.Path))
	}

	capacity := memory.CostVector{
		Geo:   cfg.Capacity.Geo,
		Int:   cfg.Capacity.Int,
		Gauge: cfg.Capacity.Gauge,
		Ptr:   cfg.Capacity.Ptr,
		Obs:   cfg.Capacity.Obs,
	}
	controller := pipeline.NewController(reg, st, activeRules.Load, capacity, logger)

	gen, err := generator.New(cfg.Generator)
	if err != nil {
		return fmt.Errorf("initializing generator: %w", err)
	}

	srv, err := httpapi.NewServer(controller, reg, st, gen, logger, cfg.Server, cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
