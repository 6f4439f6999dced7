// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/analysis/compare"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/mealy/mealytest"
	"github.com/xkilldash9x/stateprobe/internal/mocks"
	"github.com/xkilldash9x/stateprobe/internal/reporting"
)

// fastConfig keeps simulated sessions short and deterministic.
const fastConfig = `
logger:
  level: error
sul:
  poll_interval: 1ms
  open_retries: 1
  open_backoff_initial: 1ms
  open_backoff_max: 1ms
  blacklist_after: 2
timeout:
  initial: 5ms
  max: 20ms
learner:
  equivalence: wmethod
  wmethod_depth: 1
  majority_votes: 3
  max_rounds: 20
  happy_flows: ["A B"]
engine:
  worker_concurrency: 2
`

// executeCommand runs a fresh command tree and captures its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STATEPROBE_LOGGER_LEVEL", "error")
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeModel(t *testing.T, dir, name string, m *mealy.Machine) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, mealy.SaveFile(path, m))
	return path
}

func findCommand(root *cobra.Command, name string) *cobra.Command {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// mockProvider hands out a prepared store.
type mockProvider struct {
	store   schemas.Store
	err     error
	cleaned bool
}

func (p *mockProvider) Create(ctx context.Context, cfg config.Interface) (schemas.Store, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() { p.cleaned = true }, nil
}

// -- root and version --

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "stateprobe version "+Version)
}

func TestVersionCmd(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "stateprobe version "+Version+"\n", out)
}

func TestRootCmd_NoArgsPrintsHelp(t *testing.T) {
	out, err := executeCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "active automata learning")
	for _, sub := range []string{"learn", "analyze", "compare", "report", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	cfgFile := writeFile(t, t.TempDir(), "config.yaml", "learner:\n  equivalence: magic\n")
	_, err := executeCommand(t, "--config", cfgFile, "analyze", "model.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "equivalence")
}

func TestRootCmd_MissingConfigFile(t *testing.T) {
	_, err := executeCommand(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "analyze", "model.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize configuration")
}

func TestConfigFlagOverride(t *testing.T) {
	t.Setenv("STATEPROBE_LOGGER_LEVEL", "error")
	cfgFile := writeFile(t, t.TempDir(), "config.yaml", "engine:\n  worker_concurrency: 2\nanalysis:\n  flows_file: from-file.yaml\n")

	root := NewRootCommand()
	analyzeCmd := findCommand(root, "analyze")
	require.NotNil(t, analyzeCmd)

	var captured *config.Config
	analyzeCmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd.Context())
		captured = cfg
		return err
	}

	root.SetArgs([]string{"--config", cfgFile, "analyze", "-j", "7", "model.yaml"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.NotNil(t, captured)
	assert.Equal(t, 7, captured.Engine().WorkerConcurrency, "flag beats config file")
	assert.Equal(t, "from-file.yaml", captured.Analysis().FlowsFile, "unset flag keeps the file value")
	assert.Equal(t, 4, captured.Compare().Concurrency, "defaults survive")
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("STATEPROBE_LOGGER_LEVEL", "error")
	t.Setenv("STATEPROBE_LEARNER_MAJORITY_VOTES", "9")

	root := NewRootCommand()
	learnCmd := findCommand(root, "learn")
	require.NotNil(t, learnCmd)
	var captured *config.Config
	learnCmd.RunE = func(cmd *cobra.Command, args []string) error {
		captured, _ = getConfigFromContext(cmd.Context())
		return nil
	}
	root.SetArgs([]string{"learn", "--no-analysis", "target.yaml"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.NotNil(t, captured)
	assert.Equal(t, 9, captured.Learner().MajorityVotes)
	assert.False(t, captured.Analysis().Enabled)
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.Error(t, err)

	cfg := config.NewDefaultConfig()
	got, err := getConfigFromContext(context.WithValue(context.Background(), configKey{}, cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}

// -- learn --

func TestLearnCmd_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeFile(t, dir, "config.yaml", fastConfig)
	target := writeModel(t, dir, "three-state.yaml", mealytest.ThreeState(t))
	modelDir := filepath.Join(dir, "models")
	reportPath := filepath.Join(dir, "report.json")

	out, err := executeCommand(t, "--config", cfgFile, "learn", target,
		"--model-dir", modelDir, "-o", reportPath, "-f", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "1 session(s)")

	learned, err := mealy.LoadFile(filepath.Join(modelDir, "three-state.learned.yaml"))
	require.NoError(t, err)
	assert.True(t, learned.Isomorphic(mealytest.ThreeState(t)))

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var doc reporting.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Sessions, 1)
	assert.Equal(t, 3, doc.Sessions[0].States)
	assert.True(t, doc.Sessions[0].Complete)
	assert.Equal(t, target, doc.Sessions[0].Target)
}

func TestRunLearn_PersistsToStore(t *testing.T) {
	dir := t.TempDir()
	target := writeModel(t, dir, "three-state.yaml", mealytest.ThreeState(t))

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
	cfg.LearnerCfg.MajorityVotes = 3
	cfg.LearnerCfg.HappyFlows = []string{"A B"}

	store := new(mocks.MockStore)
	store.On("PersistData", mock.Anything, mock.MatchedBy(func(env *schemas.ResultEnvelope) bool {
		return len(env.Sessions) == 1 && env.Sessions[0].Target == target
	})).Return(nil).Once()
	provider := &mockProvider{store: store}

	var stdout bytes.Buffer
	sessions, err := runLearn(context.Background(), zaptest.NewLogger(t), cfg, []string{target}, "",
		outputOptions{Persist: true}, provider, &stdout)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, provider.cleaned)
	store.AssertExpectations(t)
}

func TestRunLearn_StoreUnavailable(t *testing.T) {
	provider := &mockProvider{err: errors.New("no database")}
	_, err := runLearn(context.Background(), zaptest.NewLogger(t), config.NewDefaultConfig(), []string{"x.yaml"}, "",
		outputOptions{Persist: true}, provider, new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database")
}

func TestRunLearn_MissingTargetReportsNoResults(t *testing.T) {
	_, err := runLearn(context.Background(), zaptest.NewLogger(t), config.NewDefaultConfig(),
		[]string{filepath.Join(t.TempDir(), "missing.yaml")}, "", outputOptions{}, &mockProvider{}, new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no task produced results")
}

func TestModelFileName(t *testing.T) {
	tests := map[string]string{
		"models/openssl.yaml": "openssl.learned.yaml",
		"tls://host:443":      "host_443.learned.yaml",
		"weird name (1).yml":  "weird_name__1_.learned.yaml",
		"/":                   "_.learned.yaml",
		"dir/.hidden":         "target.learned.yaml",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, modelFileName(in))
		})
	}
}

// -- analyze --

func TestAnalyzeCmd_WritesSARIF(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeFile(t, dir, "config.yaml", fastConfig)
	model := writeModel(t, dir, "trap.yaml", mealytest.ResetTrap(t))
	flows := writeFile(t, dir, "flows.yaml", "flows:\n  - name: wrong-order\n    steps:\n      - word: B\n")
	reportPath := filepath.Join(dir, "report.sarif")

	out, err := executeCommand(t, "--config", cfgFile, "analyze", model, "--flows", flows, "-o", reportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1 session(s)")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "STATEPROBE-REQUIRED_SUCCESSOR_LEADS_TO_ERROR")
	assert.Contains(t, string(data), `"version": "2.1.0"`)
}

func TestAnalyzeCmd_MissingModel(t *testing.T) {
	_, err := executeCommand(t, "analyze", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.yaml")
}

func TestAnalyzeCmd_RequiresArgs(t *testing.T) {
	_, err := executeCommand(t, "analyze")
	require.Error(t, err)
}

// -- compare --

func TestCompareCmd(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "a.yaml", mealytest.ThreeState(t))
	writeModel(t, dir, "b.yaml", mealytest.ThreeState(t))
	writeModel(t, dir, "c.yaml", mealytest.ResetTrap(t))

	out, err := executeCommand(t, "compare", dir, "-f", "json")
	require.NoError(t, err)

	var results []compare.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	type pair struct{ Left, Right string }
	var got []pair
	for _, r := range results {
		got = append(got, pair{r.Left, r.Right})
	}
	want := []pair{{"a.yaml", "b.yaml"}, {"a.yaml", "c.yaml"}, {"b.yaml", "c.yaml"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected pairs (-want +got):\n%s", diff)
	}
	assert.True(t, results[0].Isomorphic)
	assert.False(t, results[1].Isomorphic)

	_, err = executeCommand(t, "compare", dir, "--fail-on-difference")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 model pairs differ")
}

func TestRunCompare_Formats(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "a.yaml", mealytest.ThreeState(t))
	writeModel(t, dir, "b.yaml", mealytest.ThreeState(t))
	cfg := config.NewDefaultConfig()
	logger := zaptest.NewLogger(t)

	var table bytes.Buffer
	require.NoError(t, runCompare(context.Background(), logger, cfg, dir, "table", true, &table))
	assert.Contains(t, table.String(), "ISOMORPHIC")
	assert.Contains(t, table.String(), "a.yaml")

	var y bytes.Buffer
	require.NoError(t, runCompare(context.Background(), logger, cfg, dir, "yaml", false, &y))
	assert.Contains(t, y.String(), "isomorphic: true")

	err := runCompare(context.Background(), logger, cfg, dir, "xml", false, new(bytes.Buffer))
	assert.ErrorContains(t, err, "unsupported output format")

	err = runCompare(context.Background(), logger, cfg, t.TempDir(), "table", false, new(bytes.Buffer))
	assert.ErrorContains(t, err, "need at least two models")
}

// -- report --

func TestRunReport(t *testing.T) {
	findings := []schemas.Finding{{
		ID:        "f1",
		SessionID: "sess-1",
		Target:    "model.yaml",
		Category:  "ILLEGAL_INPUT_IGNORED",
		Severity:  schemas.SeverityLow,
		State:     "s1",
		Path:      "A B",
	}}
	logger := zaptest.NewLogger(t)
	cfg := config.NewDefaultConfig()

	t.Run("stdout", func(t *testing.T) {
		store := new(mocks.MockStore)
		store.On("GetFindingsBySessionID", mock.Anything, "sess-1").Return(findings, nil).Once()
		provider := &mockProvider{store: store}

		var out bytes.Buffer
		require.NoError(t, runReport(context.Background(), logger, cfg, "sess-1", "", "sarif", provider, &out))

		var env schemas.ResultEnvelope
		require.NoError(t, json.Unmarshal(out.Bytes(), &env))
		assert.Equal(t, "sess-1", env.SessionID)
		assert.Equal(t, findings[0].Path, env.Findings[0].Path)
		assert.True(t, provider.cleaned)
		store.AssertExpectations(t)
	})

	t.Run("sarif file", func(t *testing.T) {
		store := new(mocks.MockStore)
		store.On("GetFindingsBySessionID", mock.Anything, "sess-1").Return(findings, nil).Once()
		path := filepath.Join(t.TempDir(), "out.sarif")

		require.NoError(t, runReport(context.Background(), logger, cfg, "sess-1", path, "sarif", &mockProvider{store: store}, new(bytes.Buffer)))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "STATEPROBE-ILLEGAL_INPUT_IGNORED")
	})

	t.Run("store error", func(t *testing.T) {
		store := new(mocks.MockStore)
		store.On("GetFindingsBySessionID", mock.Anything, "sess-1").Return(nil, errors.New("query failed")).Once()
		err := runReport(context.Background(), logger, cfg, "sess-1", "", "sarif", &mockProvider{store: store}, new(bytes.Buffer))
		assert.ErrorContains(t, err, "query failed")
	})

	t.Run("provider error", func(t *testing.T) {
		err := runReport(context.Background(), logger, cfg, "sess-1", "", "sarif", &mockProvider{err: errors.New("no db")}, new(bytes.Buffer))
		assert.ErrorContains(t, err, "failed to initialize store")
	})

	t.Run("bad format", func(t *testing.T) {
		store := new(mocks.MockStore)
		store.On("GetFindingsBySessionID", mock.Anything, "sess-1").Return(findings, nil).Once()
		err := runReport(context.Background(), logger, cfg, "sess-1", filepath.Join(t.TempDir(), "x"), "xml", &mockProvider{store: store}, new(bytes.Buffer))
		assert.ErrorContains(t, err, "unsupported output format")
	})
}

func TestReportCmd_RequiresSessionID(t *testing.T) {
	_, err := executeCommand(t, "report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session-id")
}

func TestDefaultStoreProvider_RequiresURL(t *testing.T) {
	cfg := config.NewDefaultConfig()
	_, _, err := NewStoreProvider().Create(context.Background(), cfg)
	assert.ErrorContains(t, err, "database URL is not configured")
}
