// internal/analysis/core/context.go
package core

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/mealy"
)

// AnalysisContext carries one machine through the classifiers. Details is written by the
// benign subgraph traversal and read by every classifier after it.
type AnalysisContext struct {
	Machine *mealy.Machine
	Details *GraphDetails
	// Factory may be nil, in which case flow dependent classifiers report nothing.
	Factory AnalyzerFactory
	Logger  *zap.Logger

	// MaxFindings caps Issues across all classifiers. Zero means unbounded.
	MaxFindings int

	// Issues is populated by the classifiers during execution.
	Issues    []Issue
	truncated bool
}

// NewAnalysisContext prepares a context with fresh GraphDetails for m.
func NewAnalysisContext(m *mealy.Machine, factory AnalyzerFactory, maxFindings int, logger *zap.Logger) *AnalysisContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisContext{
		Machine:     m,
		Details:     NewGraphDetails(m),
		Factory:     factory,
		Logger:      logger,
		MaxFindings: maxFindings,
	}
}

// AddIssue appends an issue unless the cap is reached. It reports whether the issue was
// kept.
func (ac *AnalysisContext) AddIssue(issue Issue) bool {
	if ac.Full() {
		ac.truncated = true
		return false
	}
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	ac.Issues = append(ac.Issues, issue)
	return true
}

// Full reports whether no further issue will be accepted.
func (ac *AnalysisContext) Full() bool {
	return ac.MaxFindings > 0 && len(ac.Issues) >= ac.MaxFindings
}

// Truncated reports whether at least one issue was dropped because of the cap.
func (ac *AnalysisContext) Truncated() bool { return ac.truncated }
