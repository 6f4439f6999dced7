// internal/session/context.go
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/metrics"
)

// GlobalContext holds process-wide services shared by every task.
type GlobalContext struct {
	Config  config.Interface
	Logger  *zap.Logger
	Metrics *metrics.Collectors // Optional
}

// TaskContext is the state of one task as it moves from the engine to a worker adapter.
// Adapters record findings and session summaries on it; the engine persists whatever was
// recorded, including partial results of an interrupted task.
type TaskContext struct {
	Global *GlobalContext
	Task   schemas.Task
	Logger *zap.Logger

	mu       sync.Mutex
	findings []schemas.Finding
	sessions []schemas.SessionSummary
}

// NewTaskContext creates the context for task. A missing session id is generated so that
// every finding can be attributed.
func NewTaskContext(global *GlobalContext, task schemas.Task, logger *zap.Logger) *TaskContext {
	if task.SessionID == "" {
		task.SessionID = uuid.NewString()
	}
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskContext{
		Global: global,
		Task:   task,
		Logger: logger.With(zap.String("task_id", task.TaskID), zap.String("session_id", task.SessionID)),
	}
}

// Config returns the global configuration, or nil without a global context.
func (tc *TaskContext) Config() config.Interface {
	if tc.Global == nil {
		return nil
	}
	return tc.Global.Config
}

// Metrics returns the shared collectors. A nil result is safe to use.
func (tc *TaskContext) Metrics() *metrics.Collectors {
	if tc.Global == nil {
		return nil
	}
	return tc.Global.Metrics
}

// AddFinding appends a finding, filling in the task attribution when it is missing.
func (tc *TaskContext) AddFinding(f schemas.Finding) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.SessionID == "" {
		f.SessionID = tc.Task.SessionID
	}
	if f.TaskID == "" {
		f.TaskID = tc.Task.TaskID
	}
	if f.ObservedAt.IsZero() {
		f.ObservedAt = time.Now().UTC()
	}
	tc.mu.Lock()
	tc.findings = append(tc.findings, f)
	tc.mu.Unlock()
}

// AddSession records the summary of one extraction session.
func (tc *TaskContext) AddSession(s schemas.SessionSummary) {
	if s.TaskID == "" {
		s.TaskID = tc.Task.TaskID
	}
	tc.mu.Lock()
	tc.sessions = append(tc.sessions, s)
	tc.mu.Unlock()
}

// Findings returns a copy of the recorded findings.
func (tc *TaskContext) Findings() []schemas.Finding {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]schemas.Finding(nil), tc.findings...)
}

// Sessions returns a copy of the recorded session summaries.
func (tc *TaskContext) Sessions() []schemas.SessionSummary {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]schemas.SessionSummary(nil), tc.sessions...)
}

// Envelope packages everything recorded so far.
func (tc *TaskContext) Envelope() *schemas.ResultEnvelope {
	return &schemas.ResultEnvelope{
		SessionID: tc.Task.SessionID,
		TaskID:    tc.Task.TaskID,
		Timestamp: time.Now().UTC(),
		Findings:  tc.Findings(),
		Sessions:  tc.Sessions(),
	}
}
