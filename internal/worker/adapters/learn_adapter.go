// internal/worker/adapters/learn_adapter.go
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/analysis"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/extractor"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/session"
	"github.com/xkilldash9x/stateprobe/internal/sul"
)

// ExecutorFactory builds the protocol capability for a task target.
type ExecutorFactory func(target string, cfg config.SULConfig, params schemas.LearnTaskParams) (sul.Executor, *mealy.Machine, error)

// SimulatedExecutorFactory replays a recorded model file as the target.
func SimulatedExecutorFactory(target string, cfg config.SULConfig, params schemas.LearnTaskParams) (sul.Executor, *mealy.Machine, error) {
	model, err := mealy.LoadFile(target)
	if err != nil {
		return nil, nil, err
	}
	noise := cfg.Noise
	if params.Noise > 0 {
		noise = params.Noise
	}
	var opts []sul.SimulatedOption
	if noise > 0 {
		opts = append(opts, sul.WithNoise(noise, cfg.Seed))
	}
	if cfg.Latency > 0 {
		opts = append(opts, sul.WithLatency(cfg.Latency))
	}
	return sul.NewSimulatedExecutor(model, opts...), model, nil
}

// LearnAdapter runs an iterative extraction against the task target and classifies the
// final machine.
type LearnAdapter struct {
	newExecutor ExecutorFactory
}

// LearnOption configures a LearnAdapter.
type LearnOption func(*LearnAdapter)

// WithExecutorFactory replaces the simulated executor.
func WithExecutorFactory(f ExecutorFactory) LearnOption {
	return func(a *LearnAdapter) { a.newExecutor = f }
}

func NewLearnAdapter(opts ...LearnOption) *LearnAdapter {
	a := &LearnAdapter{newExecutor: SimulatedExecutorFactory}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *LearnAdapter) Name() string { return "learn" }

func (a *LearnAdapter) Description() string {
	return "Learns the state machine of a target over escalating alphabets and classifies it."
}

func (a *LearnAdapter) Analyze(ctx context.Context, taskCtx *session.TaskContext) error {
	cfg := taskCtx.Config()
	if cfg == nil {
		return errors.New("learn task requires a configuration")
	}
	var params schemas.LearnTaskParams
	if err := remarshalParams(taskCtx.Task.Parameters, &params); err != nil {
		return err
	}

	exec, model, err := a.newExecutor(taskCtx.Task.Target, cfg.SUL(), params)
	if err != nil {
		return fmt.Errorf("failed to prepare target %s: %w", taskCtx.Task.Target, err)
	}
	files := params.AlphabetFiles
	if len(files) == 0 {
		files = cfg.Alphabet().Files
	}
	if len(files) == 0 && model == nil {
		return errors.New("no alphabet files configured and the target carries no alphabet")
	}
	var fallback *alphabet.Alphabet
	if model != nil {
		fallback = model.Alphabet()
	}
	alphabets, err := loadAlphabets(files, fallback)
	if err != nil {
		return err
	}

	opts := []extractor.Option{
		extractor.WithSessionID(taskCtx.Task.SessionID),
		extractor.WithMetrics(taskCtx.Metrics()),
	}
	if cfg.Analysis().Enabled {
		factory, err := analyzerFactory(cfg, "")
		if err != nil {
			return err
		}
		opts = append(opts, extractor.WithAnalyzer(analysis.NewRunner(cfg.Analysis(), factory, taskCtx.Logger)))
	}

	it, err := extractor.NewIterative(exec, alphabets, cfg, taskCtx.Logger, opts...)
	if err != nil {
		return err
	}
	results, extractErr := it.Extract(ctx)
	a.record(taskCtx, results)

	if extractErr != nil {
		return fmt.Errorf("extraction interrupted: %w", extractErr)
	}
	if params.ModelOut != "" && len(results) > 0 {
		if last := results[len(results)-1]; last.Machine != nil {
			if err := mealy.SaveFile(params.ModelOut, last.Machine); err != nil {
				return err
			}
			taskCtx.Logger.Info("Learned model written", zap.String("path", params.ModelOut))
		}
	}
	return nil
}

// record stores a summary per stage. Findings come from the last classified stage only,
// since every stage refines the machine of the previous one.
func (a *LearnAdapter) record(taskCtx *session.TaskContext, results []*extractor.Result) {
	target := taskCtx.Task.Target
	var classified *extractor.Result
	for i, res := range results {
		summary := summarize(i+1, target, res)
		if res.Report != nil {
			classified = res
			summary.Findings = len(res.Report.Issues)
			summary.Truncated = res.Report.Truncated
		}
		taskCtx.AddSession(summary)
	}
	if classified == nil {
		return
	}
	for _, f := range findingsFromReport(classified.Report, target) {
		taskCtx.AddFinding(f)
	}
}

func summarize(stage int, target string, res *extractor.Result) schemas.SessionSummary {
	ended := time.Now().UTC()
	s := schemas.SessionSummary{
		SessionID:    res.SessionID,
		Stage:        stage,
		Target:       target,
		StartedAt:    ended.Add(-res.Stats.Elapsed),
		EndedAt:      ended,
		States:       res.Stats.States,
		Complete:     res.Complete,
		Blacklisted:  res.Blacklisted,
		Queries:      res.Stats.Queries,
		LiveQueries:  res.Stats.LiveQueries,
		Conflicts:    res.Stats.Conflicts,
		Restarts:     res.Stats.Restarts,
		FinalTimeout: res.Stats.FinalTimeout,
	}
	if res.Alphabet != nil {
		s.AlphabetSize = res.Alphabet.Size()
	}
	if res.Abort != nil {
		s.Abort = res.Abort.Error()
	}
	if model, err := encodeModel(res.Machine); err == nil {
		s.Model = model
	}
	return s
}
