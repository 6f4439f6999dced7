// File: internal/results/pipeline.go
package results

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
)

// Finder retrieves the findings of a session.
type Finder interface {
	GetFindingsBySessionID(ctx context.Context, sessionID string) ([]schemas.Finding, error)
}

// Pipeline turns the raw findings of a session into a report-ready set.
type Pipeline struct {
	store  Finder
	logger *zap.Logger
}

// NewPipeline creates a new results processing pipeline.
func NewPipeline(store Finder, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:  store,
		logger: logger.Named("results_pipeline"),
	}
}

// Report is the processed view of one session.
type Report struct {
	SessionID string            `json:"session_id"`
	Findings  []schemas.Finding `json:"findings"`
	// Duplicates counts findings dropped because an equivalent one was already kept.
	Duplicates int            `json:"duplicates"`
	Summary    map[string]int `json:"summary"`
}

// ProcessSession retrieves, deduplicates and prioritizes the findings of a session.
func (p *Pipeline) ProcessSession(ctx context.Context, sessionID string) (*Report, error) {
	p.logger.Info("Starting results processing", zap.String("session_id", sessionID))

	findings, err := p.store.GetFindingsBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve findings: %w", err)
	}
	p.logger.Debug("Retrieved raw findings", zap.Int("count", len(findings)))

	kept, dropped := Deduplicate(findings)
	Prioritize(kept)

	report := &Report{
		SessionID:  sessionID,
		Findings:   kept,
		Duplicates: dropped,
		Summary:    Summarize(kept),
	}
	p.logger.Info("Results processing complete",
		zap.Int("findings", len(kept)),
		zap.Int("duplicates", dropped))
	return report, nil
}

type findingKey struct {
	target, category, state, path string
}

// Deduplicate keeps one finding per target, category, state and path. A confirmed
// finding replaces an unconfirmed one with the same key; otherwise the first one wins.
func Deduplicate(findings []schemas.Finding) ([]schemas.Finding, int) {
	index := make(map[findingKey]int, len(findings))
	kept := make([]schemas.Finding, 0, len(findings))
	dropped := 0
	for _, f := range findings {
		key := findingKey{f.Target, f.Category, f.State, f.Path}
		if i, ok := index[key]; ok {
			dropped++
			if kept[i].Confidence != "CONFIRMED" && f.Confidence == "CONFIRMED" {
				kept[i] = f
			}
			continue
		}
		index[key] = len(kept)
		kept = append(kept, f)
	}
	return kept, dropped
}

var severityOrder = map[schemas.Severity]int{
	schemas.SeverityCritical: 1,
	schemas.SeverityHigh:     2,
	schemas.SeverityMedium:   3,
	schemas.SeverityLow:      4,
	schemas.SeverityInfo:     5,
}

// Prioritize sorts findings by severity, most severe first, then by category and path.
func Prioritize(findings []schemas.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		oi := severityOrder[schemas.ParseSeverity(string(findings[i].Severity))]
		oj := severityOrder[schemas.ParseSeverity(string(findings[j].Severity))]
		if oi != oj {
			return oi < oj
		}
		if findings[i].Category != findings[j].Category {
			return findings[i].Category < findings[j].Category
		}
		return findings[i].Path < findings[j].Path
	})
}

// Summarize counts findings in total, per severity and per category.
func Summarize(findings []schemas.Finding) map[string]int {
	summary := map[string]int{"total": len(findings)}
	for _, f := range findings {
		summary[string(schemas.ParseSeverity(string(f.Severity)))]++
		summary["category:"+f.Category]++
	}
	return summary
}
