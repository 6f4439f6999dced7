// internal/worker/adapters/helpers.go
package adapters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/analysis"
	"github.com/xkilldash9x/stateprobe/internal/analysis/core"
	"github.com/xkilldash9x/stateprobe/internal/analysis/flow"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
)

// remarshalParams converts the generic task parameters into a specific struct type.
func remarshalParams(params interface{}, v interface{}) error {
	if params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal parameters into target struct (%T): %w", v, err)
	}
	return nil
}

// analyzerFactory prefers an explicit flows file over the configured happy flows.
func analyzerFactory(cfg config.Interface, flowsFile string) (core.AnalyzerFactory, error) {
	if flowsFile == "" {
		return analysis.FactoryFromConfig(cfg)
	}
	def, err := flow.LoadFile(flowsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load happy flows: %w", err)
	}
	return flow.NewFactory(def, nil), nil
}

// issueEvidence is the JSONB payload stored with every finding.
type issueEvidence struct {
	StateID    int      `json:"state_id"`
	Input      []string `json:"input"`
	Response   string   `json:"response,omitempty"`
	Properties []string `json:"properties,omitempty"`
}

// findingsFromReport converts classifier issues into persisted findings.
func findingsFromReport(report *analysis.Report, target string) []schemas.Finding {
	if report == nil {
		return nil
	}
	now := time.Now().UTC()
	findings := make([]schemas.Finding, 0, len(report.Issues))
	for _, issue := range report.Issues {
		state := strconv.Itoa(int(issue.State))
		ev := issueEvidence{StateID: int(issue.State)}
		for _, w := range issue.Input {
			ev.Input = append(ev.Input, w.Name)
		}
		if issue.Response != nil {
			ev.Response = issue.Response.String()
		}
		if report.Details != nil {
			state = report.Details.Name(issue.State)
			ev.Properties = report.Details.Properties(issue.State)
		}
		evidence, err := json.Marshal(ev)
		if err != nil {
			evidence = json.RawMessage(fmt.Sprintf(`{"error": %q}`, err.Error()))
		}
		findings = append(findings, schemas.Finding{
			ID:          issue.ID,
			ObservedAt:  now,
			Target:      target,
			Module:      issue.Classifier,
			Category:    string(issue.Category),
			Severity:    schemas.ParseSeverity(issue.Severity()),
			State:       state,
			Path:        issue.Path(),
			Description: issue.Rationale,
			Confidence:  string(issue.Confidence),
			Evidence:    evidence,
		})
	}
	return findings
}

// encodeModel renders m as YAML for the session summary. Broken machines are omitted.
func encodeModel(m *mealy.Machine) (string, error) {
	if m == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := mealy.Encode(&buf, m); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// loadAlphabets reads the stage alphabets. Without files the model's own alphabet is the
// single stage.
func loadAlphabets(files []string, fallback *alphabet.Alphabet) ([]*alphabet.Alphabet, error) {
	if len(files) == 0 {
		return []*alphabet.Alphabet{fallback}, nil
	}
	alphabets := make([]*alphabet.Alphabet, 0, len(files))
	for _, path := range files {
		a, err := alphabet.LoadFile(path)
		if err != nil {
			return nil, err
		}
		alphabets = append(alphabets, a)
	}
	return alphabets, nil
}
