// Package analysis runs the classifiers over learned machines.
package analysis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/analysis/classifiers"
	"github.com/xkilldash9x/stateprobe/internal/analysis/core"
	"github.com/xkilldash9x/stateprobe/internal/analysis/flow"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
)

// Report is the outcome of classifying one machine.
type Report struct {
	Details   *core.GraphDetails `json:"-"`
	Graph     *core.Summary      `json:"graph,omitempty"`
	Issues    []core.Issue       `json:"issues"`
	Truncated bool               `json:"truncated,omitempty"`
	// Skipped is set when the machine could not be classified at all.
	Skipped string `json:"skipped,omitempty"`
}

// Runner applies an ordered set of classifiers. The benign subgraph classifier must run
// before the classifiers depending on it.
type Runner struct {
	cfg         config.AnalysisConfig
	factory     core.AnalyzerFactory
	classifiers []core.Classifier
	logger      *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClassifiers replaces the default classifier set.
func WithClassifiers(cs ...core.Classifier) RunnerOption {
	return func(r *Runner) { r.classifiers = cs }
}

// DefaultClassifiers returns every classifier in dependency order.
func DefaultClassifiers(logger *zap.Logger) []core.Classifier {
	return []core.Classifier{
		classifiers.NewBenignSubgraphClassifier(logger),
		classifiers.NewIllegalTransitionClassifier(logger),
		classifiers.NewPaddingOracleClassifier(logger),
		classifiers.NewBleichenbacherClassifier(logger),
		classifiers.NewResponseClassifier(logger),
	}
}

// NewRunner creates a runner. factory may be nil; flow dependent classifiers then report
// nothing.
func NewRunner(cfg config.AnalysisConfig, factory core.AnalyzerFactory, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("analysis")
	r := &Runner{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.classifiers == nil {
		r.classifiers = DefaultClassifiers(logger)
	}
	return r
}

// Analyze classifies m. Broken hypotheses are never classified.
func (r *Runner) Analyze(ctx context.Context, m *mealy.Machine) *Report {
	if m == nil {
		return &Report{Skipped: "no machine"}
	}
	if err := m.Validate(); err != nil {
		r.logger.Warn("Refusing to classify broken hypothesis", zap.Error(err))
		return &Report{Skipped: err.Error()}
	}

	factory := r.factory
	if binder, ok := factory.(core.AlphabetBinder); ok {
		factory = binder.Bind(m.Alphabet())
	}
	actx := core.NewAnalysisContext(m, factory, r.cfg.MaxFindings, r.logger)

	start := time.Now()
	for _, c := range r.classifiers {
		if ctx.Err() != nil {
			r.logger.Warn("Analysis cancelled", zap.String("next_classifier", c.Name()), zap.Error(ctx.Err()))
			break
		}
		before := len(actx.Issues)
		c.Classify(actx)
		r.logger.Debug("Classifier finished",
			zap.String("classifier", c.Name()),
			zap.Int("issues", len(actx.Issues)-before))
	}
	if actx.Truncated() {
		r.logger.Warn("Finding cap reached, further issues dropped", zap.Int("max_findings", r.cfg.MaxFindings))
	}

	summary := actx.Details.Summary()
	r.logger.Info("Analysis complete",
		zap.Int("states", m.Size()),
		zap.Int("issues", len(actx.Issues)),
		zap.Duration("duration", time.Since(start)))
	return &Report{
		Details:   actx.Details,
		Graph:     &summary,
		Issues:    actx.Issues,
		Truncated: actx.Truncated(),
	}
}

// FactoryFromConfig loads the flows file when one is configured and falls back to the
// learner's happy flows. It returns nil when neither is set.
func FactoryFromConfig(cfg config.Interface) (core.AnalyzerFactory, error) {
	var (
		def *flow.Definition
		err error
	)
	switch {
	case cfg.Analysis().FlowsFile != "":
		def, err = flow.LoadFile(cfg.Analysis().FlowsFile)
	case len(cfg.Learner().HappyFlows) > 0:
		def, err = flow.FromSequences(cfg.Learner().HappyFlows)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load happy flows: %w", err)
	}
	return flow.NewFactory(def, nil), nil
}
