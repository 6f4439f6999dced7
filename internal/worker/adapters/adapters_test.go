// internal/worker/adapters/adapters_test.go
package adapters_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/mealy/mealytest"
	"github.com/xkilldash9x/stateprobe/internal/session"
	"github.com/xkilldash9x/stateprobe/internal/sul"
	"github.com/xkilldash9x/stateprobe/internal/worker/adapters"
)

// testConfig keeps simulated sessions fast and deterministic.
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SULCfg = config.SULConfig{
		PollInterval:       time.Millisecond,
		OpenRetries:        1,
		OpenBackoffInitial: time.Millisecond,
		OpenBackoffMax:     time.Millisecond,
		BlacklistAfter:     2,
	}
	cfg.TimeoutCfg.Initial = 5 * time.Millisecond
	cfg.TimeoutCfg.Max = 20 * time.Millisecond
	cfg.LearnerCfg.Equivalence = "wmethod"
	cfg.LearnerCfg.WMethodDepth = 1
	cfg.LearnerCfg.MajorityVotes = 3
	cfg.LearnerCfg.MaxRounds = 20
	cfg.LearnerCfg.HappyFlows = []string{"A B"}
	return cfg
}

func writeModel(t *testing.T, m *mealy.Machine) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, mealy.SaveFile(path, m))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTaskContext(t *testing.T, cfg config.Interface, task schemas.Task) *session.TaskContext {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return session.NewTaskContext(&session.GlobalContext{Config: cfg, Logger: logger}, task, logger)
}

// -- model analysis --

func TestModelAnalysisAdapter_MatchingFlowHasNoFindings(t *testing.T) {
	model := writeModel(t, mealytest.ResetTrap(t))
	flows := writeFile(t, "flows.yaml", `
flows:
  - name: handshake
    steps:
      - word: A
      - word: B
        state: INITIAL
`)
	taskCtx := newTaskContext(t, testConfig(), schemas.Task{
		Type:       schemas.TaskAnalyzeModel,
		Target:     model,
		Parameters: schemas.AnalyzeModelTaskParams{FlowsFile: flows},
	})

	require.NoError(t, adapters.NewModelAnalysisAdapter().Analyze(context.Background(), taskCtx))

	assert.Empty(t, taskCtx.Findings())
	sessions := taskCtx.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 3, sessions[0].States)
	assert.Equal(t, 3, sessions[0].AlphabetSize)
	assert.True(t, sessions[0].Complete)
	assert.Equal(t, taskCtx.Task.SessionID, sessions[0].SessionID)
}

func TestModelAnalysisAdapter_RequiredSuccessorIntoErrorState(t *testing.T) {
	model := writeModel(t, mealytest.ResetTrap(t))
	flows := writeFile(t, "flows.yaml", `
flows:
  - name: wrong-order
    steps:
      - word: B
`)
	taskCtx := newTaskContext(t, testConfig(), schemas.Task{
		Type:       schemas.TaskAnalyzeModel,
		Target:     model,
		Parameters: map[string]interface{}{"flows_file": flows},
	})

	require.NoError(t, adapters.NewModelAnalysisAdapter().Analyze(context.Background(), taskCtx))

	var categories []string
	for _, f := range taskCtx.Findings() {
		categories = append(categories, f.Category)
		assert.Equal(t, taskCtx.Task.SessionID, f.SessionID)
		assert.Equal(t, model, f.Target)
	}
	assert.Contains(t, categories, "REQUIRED_SUCCESSOR_LEADS_TO_ERROR")
	require.Len(t, taskCtx.Sessions(), 1)
	assert.Equal(t, len(categories), taskCtx.Sessions()[0].Findings)
}

func TestModelAnalysisAdapter_Errors(t *testing.T) {
	adapter := adapters.NewModelAnalysisAdapter()

	t.Run("missing model", func(t *testing.T) {
		taskCtx := newTaskContext(t, testConfig(), schemas.Task{Type: schemas.TaskAnalyzeModel, Target: filepath.Join(t.TempDir(), "none.yaml")})
		assert.Error(t, adapter.Analyze(context.Background(), taskCtx))
	})

	t.Run("missing flows file", func(t *testing.T) {
		taskCtx := newTaskContext(t, testConfig(), schemas.Task{
			Type:       schemas.TaskAnalyzeModel,
			Target:     writeModel(t, mealytest.ThreeState(t)),
			Parameters: schemas.AnalyzeModelTaskParams{FlowsFile: "/nonexistent/flows.yaml"},
		})
		assert.Error(t, adapter.Analyze(context.Background(), taskCtx))
	})

	t.Run("no config", func(t *testing.T) {
		taskCtx := session.NewTaskContext(nil, schemas.Task{Target: "x"}, nil)
		assert.Error(t, adapter.Analyze(context.Background(), taskCtx))
	})
}

// -- learning --

func TestLearnAdapter_LearnsRecordedModel(t *testing.T) {
	original := mealytest.ThreeState(t)
	out := filepath.Join(t.TempDir(), "learned.yaml")
	taskCtx := newTaskContext(t, testConfig(), schemas.Task{
		Type:       schemas.TaskLearn,
		Target:     writeModel(t, original),
		Parameters: schemas.LearnTaskParams{ModelOut: out},
	})

	require.NoError(t, adapters.NewLearnAdapter().Analyze(context.Background(), taskCtx))

	sessions := taskCtx.Sessions()
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, taskCtx.Task.SessionID, s.SessionID)
	assert.Equal(t, 1, s.Stage)
	assert.True(t, s.Complete)
	assert.Equal(t, 3, s.States)
	assert.Equal(t, 2, s.AlphabetSize)
	assert.NotEmpty(t, s.Model)
	assert.Positive(t, s.Queries)
	assert.Equal(t, len(taskCtx.Findings()), s.Findings)

	learned, err := mealy.LoadFile(out)
	require.NoError(t, err)
	assert.True(t, learned.Isomorphic(original))
}

func TestLearnAdapter_AnalysisDisabledRecordsNoFindings(t *testing.T) {
	cfg := testConfig()
	cfg.AnalysisCfg.Enabled = false
	taskCtx := newTaskContext(t, cfg, schemas.Task{Type: schemas.TaskLearn, Target: writeModel(t, mealytest.ResetTrap(t))})

	require.NoError(t, adapters.NewLearnAdapter().Analyze(context.Background(), taskCtx))

	assert.Empty(t, taskCtx.Findings())
	require.Len(t, taskCtx.Sessions(), 1)
	assert.Zero(t, taskCtx.Sessions()[0].Findings)
}

func TestLearnAdapter_CustomExecutorFactory(t *testing.T) {
	model := mealytest.ThreeState(t)
	var gotTarget string
	factory := func(target string, cfg config.SULConfig, params schemas.LearnTaskParams) (sul.Executor, *mealy.Machine, error) {
		gotTarget = target
		return sul.NewSimulatedExecutor(model), model, nil
	}
	taskCtx := newTaskContext(t, testConfig(), schemas.Task{Type: schemas.TaskLearn, Target: "tls://example:443"})

	require.NoError(t, adapters.NewLearnAdapter(adapters.WithExecutorFactory(factory)).Analyze(context.Background(), taskCtx))
	assert.Equal(t, "tls://example:443", gotTarget)
	require.Len(t, taskCtx.Sessions(), 1)
	assert.Equal(t, 3, taskCtx.Sessions()[0].States)
}

func TestLearnAdapter_NoAlphabetAvailable(t *testing.T) {
	factory := func(string, config.SULConfig, schemas.LearnTaskParams) (sul.Executor, *mealy.Machine, error) {
		return sul.NewSimulatedExecutor(mealytest.ThreeState(t)), nil, nil
	}
	taskCtx := newTaskContext(t, testConfig(), schemas.Task{Type: schemas.TaskLearn, Target: "remote"})
	err := adapters.NewLearnAdapter(adapters.WithExecutorFactory(factory)).Analyze(context.Background(), taskCtx)
	assert.ErrorContains(t, err, "no alphabet")
}

func TestLearnAdapter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	taskCtx := newTaskContext(t, testConfig(), schemas.Task{Type: schemas.TaskLearn, Target: writeModel(t, mealytest.ThreeState(t))})

	err := adapters.NewLearnAdapter().Analyze(ctx, taskCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
