package schemas

import (
	"context"
)

// -- Store Interface --

// Store persists task results. The abstraction keeps the engine and the report command
// independent of the database implementation.
type Store interface {
	// PersistData saves the findings and session summaries of one task atomically.
	PersistData(ctx context.Context, data *ResultEnvelope) error
	// GetFindingsBySessionID retrieves all findings recorded for a session.
	GetFindingsBySessionID(ctx context.Context, sessionID string) ([]Finding, error)
}

// -- Engine Interfaces --

// TaskEngine consumes tasks and executes them.
type TaskEngine interface {
	// Start begins processing tasks from the channel. It returns immediately; work runs
	// until the channel is closed or ctx is cancelled.
	Start(ctx context.Context, taskChan <-chan Task)
	// Stop waits for in-flight tasks to finish.
	Stop()
}
