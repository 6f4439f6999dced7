// internal/worker/worker.go
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/session"
	"github.com/xkilldash9x/stateprobe/internal/worker/adapters"
)

// Adapter executes one kind of task against its task context.
type Adapter interface {
	Name() string
	Description() string
	Analyze(ctx context.Context, taskCtx *session.TaskContext) error
}

// MonolithicWorker processes tasks in-process, routing each task type to its adapter.
type MonolithicWorker struct {
	cfg             config.Interface
	logger          *zap.Logger
	globalCtx       *session.GlobalContext
	adapterRegistry map[schemas.TaskType]Adapter
}

// Option is a function that configures a MonolithicWorker.
type Option func(*MonolithicWorker)

// WithAdapters replaces the default adapter set, mostly to inject mocks in tests.
func WithAdapters(registry map[schemas.TaskType]Adapter) Option {
	return func(w *MonolithicWorker) {
		w.adapterRegistry = registry
	}
}

// NewMonolithicWorker initializes and returns a new worker instance.
func NewMonolithicWorker(
	cfg config.Interface,
	logger *zap.Logger,
	globalCtx *session.GlobalContext,
	opts ...Option,
) (*MonolithicWorker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &MonolithicWorker{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "worker")),
		globalCtx: globalCtx,
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.adapterRegistry == nil {
		w.adapterRegistry = make(map[schemas.TaskType]Adapter)
		w.registerAdapters()
	}

	return w, nil
}

// GlobalCtx provides read-only access to the worker's global context.
func (w *MonolithicWorker) GlobalCtx() *session.GlobalContext {
	return w.globalCtx
}

func (w *MonolithicWorker) registerAdapters() {
	w.adapterRegistry[schemas.TaskLearn] = adapters.NewLearnAdapter()
	w.adapterRegistry[schemas.TaskAnalyzeModel] = adapters.NewModelAnalysisAdapter()

	w.logger.Debug("Default adapters registered", zap.Int("count", len(w.adapterRegistry)))
}

// ProcessTask executes a single task by delegating to the registered adapter.
func (w *MonolithicWorker) ProcessTask(ctx context.Context, taskCtx *session.TaskContext) error {
	task := taskCtx.Task

	adapter, exists := w.adapterRegistry[task.Type]
	if !exists {
		return fmt.Errorf("no adapter registered for task type '%s'", task.Type)
	}

	taskCtx.Logger.Info("Dispatching task to adapter", zap.String("adapter_name", adapter.Name()))

	if err := adapter.Analyze(ctx, taskCtx); err != nil {
		return fmt.Errorf("adapter '%s' failed during analysis: %w", adapter.Name(), err)
	}

	taskCtx.Logger.Info("Adapter finished analysis", zap.String("adapter_name", adapter.Name()))
	return nil
}
