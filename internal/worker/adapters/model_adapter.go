// internal/worker/adapters/model_adapter.go
package adapters

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/analysis"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/session"
)

// ModelAnalysisAdapter classifies a recorded model file without contacting any target.
type ModelAnalysisAdapter struct{}

func NewModelAnalysisAdapter() *ModelAnalysisAdapter { return &ModelAnalysisAdapter{} }

func (a *ModelAnalysisAdapter) Name() string { return "model_analysis" }

func (a *ModelAnalysisAdapter) Description() string {
	return "Classifies a recorded state machine model against the configured happy flows."
}

func (a *ModelAnalysisAdapter) Analyze(ctx context.Context, taskCtx *session.TaskContext) error {
	cfg := taskCtx.Config()
	if cfg == nil {
		return errors.New("model analysis requires a configuration")
	}
	var params schemas.AnalyzeModelTaskParams
	if err := remarshalParams(taskCtx.Task.Parameters, &params); err != nil {
		return err
	}

	started := time.Now().UTC()
	m, err := mealy.LoadFile(taskCtx.Task.Target)
	if err != nil {
		return err
	}
	factory, err := analyzerFactory(cfg, params.FlowsFile)
	if err != nil {
		return err
	}
	if factory == nil {
		taskCtx.Logger.Warn("No happy flows configured, flow dependent classifiers will report nothing")
	}

	report := analysis.NewRunner(cfg.Analysis(), factory, taskCtx.Logger).Analyze(ctx, m)
	summary := schemas.SessionSummary{
		SessionID:    taskCtx.Task.SessionID,
		Stage:        1,
		Target:       taskCtx.Task.Target,
		StartedAt:    started,
		EndedAt:      time.Now().UTC(),
		AlphabetSize: m.Alphabet().Size(),
		States:       m.Size(),
		Complete:     report.Skipped == "",
		Abort:        report.Skipped,
		Findings:     len(report.Issues),
		Truncated:    report.Truncated,
	}
	taskCtx.AddSession(summary)

	metrics := taskCtx.Metrics()
	for _, f := range findingsFromReport(report, taskCtx.Task.Target) {
		metrics.Finding(f.Category)
		taskCtx.AddFinding(f)
	}
	taskCtx.Logger.Info("Model classified",
		zap.Int("states", m.Size()),
		zap.Int("issues", len(report.Issues)),
		zap.Bool("truncated", report.Truncated))

	// Cancellation stops the classifier loop early; report it so the results count as partial.
	return ctx.Err()
}
