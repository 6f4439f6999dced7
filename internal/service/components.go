// File: internal/service/components.go
package service

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xkilldash9x/stateprobe/internal/engine"
	"github.com/xkilldash9x/stateprobe/internal/metrics"
	"github.com/xkilldash9x/stateprobe/internal/observability"
	"github.com/xkilldash9x/stateprobe/internal/orchestrator"
	"github.com/xkilldash9x/stateprobe/internal/session"
)

// Components holds the initialized services needed to run a batch of tasks.
type Components struct {
	GlobalCtx    *session.GlobalContext
	Metrics      *metrics.Collectors // Optional
	TaskEngine   *engine.TaskEngine
	Orchestrator *orchestrator.Orchestrator
}

// StoreHandle owns a database pool and the store built on it.
type StoreHandle struct {
	Pool *pgxpool.Pool
}

// Close releases the pool. Safe on a nil handle.
func (h *StoreHandle) Close() {
	if h == nil || h.Pool == nil {
		return
	}
	h.Pool.Close()
	observability.GetLogger().Debug("Database connection pool closed.")
}
