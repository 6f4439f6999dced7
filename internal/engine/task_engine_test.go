// internal/engine/task_engine_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/mocks"
	"github.com/xkilldash9x/stateprobe/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockWorker simulates the behavior of the MonolithicWorker.
type mockWorker struct {
	processFunc func(ctx context.Context, taskCtx *session.TaskContext) error
}

func (m *mockWorker) ProcessTask(ctx context.Context, taskCtx *session.TaskContext) error {
	if m.processFunc != nil {
		return m.processFunc(ctx, taskCtx)
	}
	return nil
}

func setupEngine(t *testing.T, engineCfg config.EngineConfig, w Worker) (*TaskEngine, *mocks.MockStore) {
	t.Helper()
	mockCfg := new(mocks.MockConfig)
	mockCfg.On("Engine").Return(engineCfg)
	store := new(mocks.MockStore)
	logger := zap.NewNop()
	globalCtx := &session.GlobalContext{Config: mockCfg, Logger: logger}

	engine, err := New(mockCfg, logger, store, w, globalCtx)
	require.NoError(t, err)
	return engine, store
}

func TestNew_ValidatesDependencies(t *testing.T) {
	cfg := new(mocks.MockConfig)
	logger := zap.NewNop()
	store := new(mocks.MockStore)
	w := &mockWorker{}
	global := &session.GlobalContext{}

	tests := []struct {
		name string
		call func() (*TaskEngine, error)
	}{
		{"nil config", func() (*TaskEngine, error) { return New(nil, logger, store, w, global) }},
		{"nil logger", func() (*TaskEngine, error) { return New(cfg, nil, store, w, global) }},
		{"nil store", func() (*TaskEngine, error) { return New(cfg, logger, nil, w, global) }},
		{"nil worker", func() (*TaskEngine, error) { return New(cfg, logger, store, nil, global) }},
		{"nil global context", func() (*TaskEngine, error) { return New(cfg, logger, store, w, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := tt.call()
			assert.Error(t, err)
			assert.Nil(t, engine)
		})
	}
}

// TestTaskEngine_StartStop verifies the lifecycle: starting, processing tasks, stopping.
func TestTaskEngine_StartStop(t *testing.T) {
	worker := &mockWorker{
		processFunc: func(ctx context.Context, taskCtx *session.TaskContext) error {
			taskCtx.AddFinding(schemas.Finding{ID: "finding-" + taskCtx.Task.TaskID})
			return nil
		},
	}
	engine, store := setupEngine(t, config.EngineConfig{WorkerConcurrency: 2, DefaultTaskTimeout: 5 * time.Second}, worker)

	numTasks := 3
	store.On("PersistData", mock.Anything, mock.MatchedBy(func(env *schemas.ResultEnvelope) bool {
		return len(env.Findings) == 1 && env.Findings[0].ID == "finding-"+env.TaskID && env.SessionID != ""
	})).Return(nil).Times(numTasks)

	taskChan := make(chan schemas.Task, 10)
	engine.Start(context.Background(), taskChan)
	for i := 0; i < numTasks; i++ {
		taskChan <- schemas.Task{TaskID: fmt.Sprintf("task-%d", i), Type: schemas.TaskAnalyzeModel, Target: "model.yaml"}
	}
	close(taskChan)
	engine.Stop()

	store.AssertExpectations(t)
}

func TestTaskEngine_StartTwiceIsIgnored(t *testing.T) {
	engine, _ := setupEngine(t, config.EngineConfig{WorkerConcurrency: 1}, &mockWorker{})
	taskChan := make(chan schemas.Task)
	engine.Start(context.Background(), taskChan)
	engine.Start(context.Background(), taskChan)
	close(taskChan)
	engine.Stop()
}

// TestTaskEngine_WorkerError verifies that results of a failed task are not persisted.
func TestTaskEngine_WorkerError(t *testing.T) {
	worker := &mockWorker{
		processFunc: func(ctx context.Context, taskCtx *session.TaskContext) error {
			taskCtx.AddFinding(schemas.Finding{})
			return errors.New("worker failed spectacularly")
		},
	}
	engine, store := setupEngine(t, config.EngineConfig{WorkerConcurrency: 1}, worker)

	taskChan := make(chan schemas.Task, 1)
	engine.Start(context.Background(), taskChan)
	taskChan <- schemas.Task{TaskID: "task-fail", Type: schemas.TaskLearn, Target: "model.yaml"}
	close(taskChan)
	engine.Stop()

	store.AssertNotCalled(t, "PersistData", mock.Anything, mock.Anything)
}

// TestTaskEngine_NoResults verifies that nothing is persisted for a task without results.
func TestTaskEngine_NoResults(t *testing.T) {
	engine, store := setupEngine(t, config.EngineConfig{WorkerConcurrency: 1}, &mockWorker{})

	taskChan := make(chan schemas.Task, 1)
	engine.Start(context.Background(), taskChan)
	taskChan <- schemas.Task{TaskID: "task-no-findings", Type: schemas.TaskLearn, Target: "model.yaml"}
	close(taskChan)
	engine.Stop()

	store.AssertNotCalled(t, "PersistData", mock.Anything, mock.Anything)
}

func TestTaskEngine_InvalidTasksAreDiscarded(t *testing.T) {
	called := make(chan struct{}, 2)
	worker := &mockWorker{
		processFunc: func(ctx context.Context, taskCtx *session.TaskContext) error {
			called <- struct{}{}
			return nil
		},
	}
	engine, store := setupEngine(t, config.EngineConfig{WorkerConcurrency: 1}, worker)

	taskChan := make(chan schemas.Task, 2)
	engine.Start(context.Background(), taskChan)
	taskChan <- schemas.Task{TaskID: "no-target", Type: schemas.TaskLearn}
	taskChan <- schemas.Task{TaskID: "bad-type", Type: "SCAN", Target: "x"}
	close(taskChan)
	engine.Stop()

	assert.Empty(t, called)
	store.AssertNotCalled(t, "PersistData", mock.Anything, mock.Anything)
}

// TestTaskEngine_TimeoutPersistsPartialResults checks that a task hitting its deadline
// still saves what it recorded before the interruption.
func TestTaskEngine_TimeoutPersistsPartialResults(t *testing.T) {
	worker := &mockWorker{
		processFunc: func(ctx context.Context, taskCtx *session.TaskContext) error {
			taskCtx.AddSession(schemas.SessionSummary{SessionID: "stage-1", States: 4})
			<-ctx.Done()
			return fmt.Errorf("learning interrupted: %w", ctx.Err())
		},
	}
	engine, store := setupEngine(t, config.EngineConfig{WorkerConcurrency: 1, DefaultTaskTimeout: 50 * time.Millisecond}, worker)
	store.On("PersistData", mock.Anything, mock.MatchedBy(func(env *schemas.ResultEnvelope) bool {
		return len(env.Sessions) == 1 && env.Sessions[0].States == 4
	})).Return(nil).Once()

	taskChan := make(chan schemas.Task, 1)
	engine.Start(context.Background(), taskChan)
	taskChan <- schemas.Task{TaskID: "slow", Type: schemas.TaskLearn, Target: "model.yaml"}
	close(taskChan)
	engine.Stop()

	store.AssertExpectations(t)
}

// TestTaskEngine_ContextCancellation ensures workers shut down when the main context is cancelled.
func TestTaskEngine_ContextCancellation(t *testing.T) {
	started := make(chan struct{}, 2)
	worker := &mockWorker{
		processFunc: func(ctx context.Context, taskCtx *session.TaskContext) error {
			started <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		},
	}
	engine, store := setupEngine(t, config.EngineConfig{WorkerConcurrency: 2}, worker)

	ctx, cancel := context.WithCancel(context.Background())
	taskChan := make(chan schemas.Task, 2)
	engine.Start(ctx, taskChan)
	taskChan <- schemas.Task{TaskID: "task-1", Type: schemas.TaskLearn, Target: "a.yaml"}
	taskChan <- schemas.Task{TaskID: "task-2", Type: schemas.TaskLearn, Target: "b.yaml"}

	<-started
	<-started
	cancel()
	engine.Stop()

	// Cancelled tasks recorded nothing, so nothing is persisted.
	store.AssertNotCalled(t, "PersistData", mock.Anything, mock.Anything)
}

func TestTaskEngine_PersistFailureIsLogged(t *testing.T) {
	worker := &mockWorker{
		processFunc: func(ctx context.Context, taskCtx *session.TaskContext) error {
			taskCtx.AddFinding(schemas.Finding{})
			return nil
		},
	}
	engine, store := setupEngine(t, config.EngineConfig{WorkerConcurrency: 1}, worker)
	store.On("PersistData", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	taskChan := make(chan schemas.Task, 1)
	engine.Start(context.Background(), taskChan)
	taskChan <- schemas.Task{TaskID: "t", Type: schemas.TaskAnalyzeModel, Target: "m.yaml"}
	close(taskChan)
	engine.Stop()

	store.AssertExpectations(t)
}
