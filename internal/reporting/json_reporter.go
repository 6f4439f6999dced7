// internal/reporting/json_reporter.go
package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
)

// Document is the layout of a JSON report.
type Document struct {
	Tool        string                   `json:"tool"`
	Version     string                   `json:"version"`
	GeneratedAt time.Time                `json:"generated_at"`
	Sessions    []schemas.SessionSummary `json:"sessions"`
	Findings    []schemas.Finding        `json:"findings"`
	// Counts tallies findings per severity.
	Counts map[schemas.Severity]int `json:"counts"`
}

// JSONReporter accumulates envelopes and writes a single Document on Close. It is thread
// safe.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	mu     sync.Mutex
	doc    Document
	now    func() time.Time
}

// NewJSONReporter creates a reporter that writes one JSON document.
func NewJSONReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *JSONReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONReporter{
		writer: writer,
		logger: logger.Named("json_reporter"),
		doc: Document{
			Tool:     ToolName,
			Version:  toolVersion,
			Sessions: []schemas.SessionSummary{},
			Findings: []schemas.Finding{},
			Counts:   map[schemas.Severity]int{},
		},
		now: time.Now,
	}
}

func (r *JSONReporter) Write(result *schemas.ResultEnvelope) error {
	if result == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Sessions = append(r.doc.Sessions, result.Sessions...)
	for _, f := range result.Findings {
		r.doc.Findings = append(r.doc.Findings, f)
		r.doc.Counts[schemas.ParseSeverity(string(f.Severity))]++
	}
	return nil
}

// Close sorts the findings by target, state and path, writes the document and closes the
// writer.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sort.SliceStable(r.doc.Findings, func(i, j int) bool {
		a, b := r.doc.Findings[i], r.doc.Findings[j]
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.State != b.State {
			return a.State < b.State
		}
		return a.Path < b.Path
	})
	r.doc.GeneratedAt = r.now().UTC()

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	encodeErr := encoder.Encode(&r.doc)
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode JSON report", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode JSON output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Info("Successfully wrote JSON report",
		zap.Int("findings", len(r.doc.Findings)),
		zap.Int("sessions", len(r.doc.Sessions)))
	return nil
}
