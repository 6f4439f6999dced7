// internal/engine/task_engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/session"
)

// -- Interfaces for Dependency Inversion --

// Worker processes one task, recording its results on the task context.
type Worker interface {
	ProcessTask(ctx context.Context, taskCtx *session.TaskContext) error
}

// Store persists task results.
type Store interface {
	PersistData(ctx context.Context, data *schemas.ResultEnvelope) error
}

const (
	defaultConcurrency = 4
	defaultTaskTimeout = 30 * time.Minute
	persistTimeout     = 30 * time.Second
)

// TaskEngine runs independent tasks on a bounded pool of workers. Each task owns its own
// extraction session; nothing but the global context is shared between them.
type TaskEngine struct {
	cfg          config.Interface
	logger       *zap.Logger
	storeService Store
	worker       Worker
	wg           sync.WaitGroup
	globalCtx    *session.GlobalContext

	// stateLock protects the running state of the engine.
	stateLock sync.Mutex
	isRunning bool
}

var _ schemas.TaskEngine = (*TaskEngine)(nil)

// New creates a new TaskEngine from its dependencies.
func New(
	cfg config.Interface,
	logger *zap.Logger,
	storeService Store,
	worker Worker,
	globalCtx *session.GlobalContext,
) (*TaskEngine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if storeService == nil {
		return nil, errors.New("store service cannot be nil")
	}
	if worker == nil {
		return nil, errors.New("worker cannot be nil")
	}
	if globalCtx == nil {
		return nil, errors.New("global context cannot be nil")
	}

	return &TaskEngine{
		cfg:          cfg,
		logger:       logger.With(zap.String("component", "task_engine")),
		storeService: storeService,
		worker:       worker,
		globalCtx:    globalCtx,
	}, nil
}

// Start launches the worker pool and begins consuming tasks from taskChan.
func (e *TaskEngine) Start(ctx context.Context, taskChan <-chan schemas.Task) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		e.logger.Warn("TaskEngine.Start called, but engine is already running.")
		return
	}
	e.isRunning = true
	e.stateLock.Unlock()

	concurrency := e.cfg.Engine().WorkerConcurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	e.logger.Info("Starting task engine worker pool", zap.Int("concurrency", concurrency))

	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1, taskChan)
	}
}

// Stop waits for all workers to finish. Workers exit once the channel is drained or the
// context passed to Start is cancelled.
func (e *TaskEngine) Stop() {
	e.logger.Info("Stopping task engine... waiting for workers to finish.")
	e.wg.Wait()

	e.stateLock.Lock()
	e.isRunning = false
	e.stateLock.Unlock()

	e.logger.Info("Task engine stopped gracefully.")
}

func (e *TaskEngine) runWorker(ctx context.Context, workerID int, taskChan <-chan schemas.Task) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, worker shutting down immediately.", zap.Error(ctx.Err()))
			return
		case task, ok := <-taskChan:
			if !ok {
				logger.Debug("Task queue closed and drained, worker shutting down gracefully.")
				return
			}
			e.process(ctx, task, logger)
		}
	}
}

// validateTask rejects tasks no adapter could make sense of.
func validateTask(task schemas.Task) error {
	if strings.TrimSpace(task.Target) == "" {
		return errors.New("task has no target")
	}
	switch task.Type {
	case schemas.TaskLearn, schemas.TaskAnalyzeModel:
		return nil
	default:
		return fmt.Errorf("unknown task type %q", task.Type)
	}
}

// process handles the execution of a single task.
func (e *TaskEngine) process(ctx context.Context, task schemas.Task, logger *zap.Logger) {
	if ctx.Err() != nil {
		logger.Warn("Context cancelled before task processing started", zap.Error(ctx.Err()))
		return
	}
	if err := validateTask(task); err != nil {
		logger.Error("Invalid task, discarding", zap.String("task_id", task.TaskID), zap.Error(err))
		return
	}

	taskCtx := session.NewTaskContext(e.globalCtx, task, logger)
	taskCtx.Logger.Info("Processing task", zap.String("task_type", task.Type.String()), zap.String("target", task.Target))

	taskTimeout := e.cfg.Engine().DefaultTaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	processingErr := e.worker.ProcessTask(runCtx, taskCtx)

	// Interrupted tasks still persist what they produced. Any other error discards the
	// results since the session state is unreliable.
	if processingErr != nil {
		switch {
		case errors.Is(processingErr, context.DeadlineExceeded):
			taskCtx.Logger.Warn("Task processing timed out. Proceeding to save partial results.", zap.Duration("timeout", taskTimeout), zap.Error(processingErr))
		case errors.Is(processingErr, context.Canceled):
			taskCtx.Logger.Warn("Task processing was cancelled. Proceeding to save partial results.", zap.Error(processingErr))
		default:
			taskCtx.Logger.Error("Task processing failed with unexpected error. Discarding results.", zap.Error(processingErr))
			return
		}
	}

	envelope := taskCtx.Envelope()
	if envelope.Empty() {
		if processingErr != nil {
			taskCtx.Logger.Debug("Task interrupted with no results recorded prior to interruption.")
		} else {
			taskCtx.Logger.Debug("Task completed without results.")
		}
		return
	}

	taskCtx.Logger.Info("Task generated results, persisting...",
		zap.Int("findings", len(envelope.Findings)),
		zap.Int("sessions", len(envelope.Sessions)))

	// Persistence gets its own deadline so that results survive a cancelled parent.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), persistTimeout)
	defer persistCancel()

	if err := e.storeService.PersistData(persistCtx, envelope); err != nil {
		taskCtx.Logger.Error("Failed to persist task results", zap.Error(err))
		return
	}
	taskCtx.Logger.Info("Successfully persisted task results.")
}
