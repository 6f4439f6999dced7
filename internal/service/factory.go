// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/engine"
	"github.com/xkilldash9x/stateprobe/internal/metrics"
	"github.com/xkilldash9x/stateprobe/internal/orchestrator"
	"github.com/xkilldash9x/stateprobe/internal/session"
	"github.com/xkilldash9x/stateprobe/internal/store"
	"github.com/xkilldash9x/stateprobe/internal/worker"
)

// NewComponents wires the worker, task engine and orchestrator. Results go to sink.
// Metrics collectors are created only when enabled in the configuration; serving them is
// left to the caller.
func NewComponents(cfg config.Interface, logger *zap.Logger, sink engine.Store, opts ...worker.Option) (*Components, error) {
	if cfg == nil || logger == nil || sink == nil {
		return nil, fmt.Errorf("cannot build components with nil dependencies")
	}
	components := &Components{}

	if cfg.Metrics().Enabled {
		collectors, err := metrics.New()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		components.Metrics = collectors
		logger.Debug("Metrics collectors initialized.")
	}

	components.GlobalCtx = &session.GlobalContext{Config: cfg, Logger: logger, Metrics: components.Metrics}

	taskWorker, err := worker.NewMonolithicWorker(cfg, logger, components.GlobalCtx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}
	logger.Debug("Monolithic worker created.")

	taskEngine, err := engine.New(cfg, logger, sink, taskWorker, components.GlobalCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create task engine: %w", err)
	}
	components.TaskEngine = taskEngine

	orch, err := orchestrator.New(logger, taskEngine, cfg.Engine().QueueSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	components.Orchestrator = orch
	logger.Debug("Task engine and orchestrator initialized.")
	return components, nil
}

// InitializeStore connects to the configured database, applies the schema and returns the
// store together with the handle owning its pool.
func InitializeStore(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*store.Store, *StoreHandle, error) {
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (STATEPROBE_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	handle := &StoreHandle{Pool: pool}

	if err := pool.Ping(ctx); err != nil {
		handle.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		handle.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := storeService.EnsureSchema(ctx); err != nil {
		handle.Close()
		return nil, nil, err
	}
	logger.Debug("Store service initialized.")
	return storeService, handle, nil
}
