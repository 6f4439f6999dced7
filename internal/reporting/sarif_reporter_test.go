// internal/reporting/sarif_reporter_test.go
package reporting_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/reporting"
	"github.com/xkilldash9x/stateprobe/internal/reporting/sarif"
)

const testToolVersion = "1.2.3-test"

// MockWriteCloser records writes and whether Close was called.
type MockWriteCloser struct {
	bytes.Buffer
	Closed     bool
	WriteError error
	CloseError error
}

func (m *MockWriteCloser) Write(p []byte) (n int, err error) {
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	return m.Buffer.Write(p)
}

func (m *MockWriteCloser) Close() error {
	m.Closed = true
	return m.CloseError
}

func setupSARIFTest(t *testing.T) (*reporting.SARIFReporter, *MockWriteCloser) {
	w := &MockWriteCloser{}
	return reporting.NewSARIFReporter(w, testToolVersion, zaptest.NewLogger(t)), w
}

func decodeSARIF(t *testing.T, w *MockWriteCloser) *sarif.Log {
	t.Helper()
	var log sarif.Log
	require.NoError(t, json.Unmarshal(w.Bytes(), &log))
	require.Len(t, log.Runs, 1)
	return &log
}

func sampleFinding(category, state, path string) schemas.Finding {
	return schemas.Finding{
		ID:          "f-" + state + path,
		SessionID:   "sess-1",
		Target:      "tls://127.0.0.1:4433",
		Module:      "illegal_input",
		Category:    category,
		Severity:    schemas.SeverityMedium,
		State:       state,
		Path:        path,
		Description: "illegal input accepted",
	}
}

func TestSARIFReporter_EmptyReport(t *testing.T) {
	r, w := setupSARIFTest(t)
	require.NoError(t, r.Close())
	assert.True(t, w.Closed)

	log := decodeSARIF(t, w)
	assert.Equal(t, reporting.SARIFVersion, log.Version)
	assert.Equal(t, reporting.ToolName, log.Runs[0].Tool.Driver.Name)
	assert.Equal(t, testToolVersion, *log.Runs[0].Tool.Driver.Version)
	assert.Empty(t, log.Runs[0].Results)
	assert.Nil(t, log.Runs[0].Properties)
}

func TestSARIFReporter_WriteAndClose(t *testing.T) {
	r, w := setupSARIFTest(t)

	f := sampleFinding("ILLEGAL_INPUT_IGNORED", "s1", "A B")
	f.Confidence = "CONFIRMED"
	f.Evidence = json.RawMessage(`{"state_id":1}`)
	high := sampleFinding("PADDING_ORACLE", "s2", "A")
	high.Severity = schemas.SeverityHigh

	require.NoError(t, r.Write(&schemas.ResultEnvelope{
		Findings: []schemas.Finding{f, high, sampleFinding("ILLEGAL_INPUT_IGNORED", "s3", "B")},
		Sessions: []schemas.SessionSummary{{SessionID: "sess-1", Stage: 1, States: 3, Complete: true}},
	}))
	require.NoError(t, r.Close())

	log := decodeSARIF(t, w)
	run := log.Runs[0]
	require.Len(t, run.Results, 3)
	require.Len(t, run.Tool.Driver.Rules, 2, "same category from same module shares a rule")

	first := run.Results[0]
	assert.Equal(t, "STATEPROBE-ILLEGAL_INPUT_IGNORED", first.RuleID)
	assert.Equal(t, sarif.LevelWarning, first.Level)
	assert.Equal(t, "illegal input accepted", *first.Message.Text)
	require.Len(t, first.Locations, 1)
	loc := first.Locations[0]
	assert.Equal(t, "tls://127.0.0.1:4433", *loc.PhysicalLocation.ArtifactLocation.URI)
	require.Len(t, loc.LogicalLocations, 2)
	assert.Equal(t, "s1", *loc.LogicalLocations[0].Name)
	assert.Equal(t, "state", *loc.LogicalLocations[0].Kind)
	assert.Equal(t, "A B", *loc.LogicalLocations[1].Name)
	assert.NotEmpty(t, first.PartialFingerprints["stateprobe/v1"])
	assert.Equal(t, "CONFIRMED", (*first.Properties)["confidence"])

	assert.Equal(t, sarif.LevelError, run.Results[1].Level)
	assert.Equal(t, "STATEPROBE-PADDING_ORACLE", run.Results[1].RuleID)

	rule := run.Tool.Driver.Rules[0]
	assert.Equal(t, "Illegal input ignored", *rule.Name)
	assert.Contains(t, *rule.Help.Markdown, "**Recommendation:**")

	require.NotNil(t, run.Properties)
	sessions, ok := (*run.Properties)["sessions"].([]interface{})
	require.True(t, ok)
	assert.Len(t, sessions, 1)
}

func TestSARIFReporter_RuleCollisionHandling(t *testing.T) {
	r, w := setupSARIFTest(t)

	a := sampleFinding("RESPONSE_ANOMALY", "s1", "A")
	b := a
	b.Module = "probe"
	c := a
	c.State = "s9"

	require.NoError(t, r.Write(&schemas.ResultEnvelope{Findings: []schemas.Finding{a, b, c}}))
	require.NoError(t, r.Close())

	run := decodeSARIF(t, w).Runs[0]
	require.Len(t, run.Tool.Driver.Rules, 2)
	assert.Equal(t, "STATEPROBE-RESPONSE_ANOMALY", run.Results[0].RuleID)
	assert.Equal(t, "STATEPROBE-RESPONSE_ANOMALY-1", run.Results[1].RuleID)
	assert.Equal(t, "STATEPROBE-RESPONSE_ANOMALY", run.Results[2].RuleID)
	assert.NotEqual(t, run.Results[0].PartialFingerprints, run.Results[2].PartialFingerprints)
}

func TestSARIFReporter_RuleIDSanitization(t *testing.T) {
	tests := []struct {
		category string
		expected string
	}{
		{"custom check (v2)", "STATEPROBE-CUSTOM-CHECK-V2"},
		{"---", "STATEPROBE-UNKNOWN"},
		{"", "STATEPROBE-UNCLASSIFIED"},
		{"dotted.name_ok", "STATEPROBE-DOTTED.NAME_OK"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			r, w := setupSARIFTest(t)
			require.NoError(t, r.Write(&schemas.ResultEnvelope{Findings: []schemas.Finding{sampleFinding(tt.category, "s0", "A")}}))
			require.NoError(t, r.Close())
			run := decodeSARIF(t, w).Runs[0]
			assert.Equal(t, tt.expected, run.Results[0].RuleID)
		})
	}
}

func TestSARIFReporter_Concurrency(t *testing.T) {
	r, w := setupSARIFTest(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := sampleFinding("ILLEGAL_INPUT_IGNORED", fmt.Sprintf("s%d", i), "A")
			assert.NoError(t, r.Write(&schemas.ResultEnvelope{Findings: []schemas.Finding{f}}))
		}(i)
	}
	wg.Wait()
	require.NoError(t, r.Close())

	run := decodeSARIF(t, w).Runs[0]
	assert.Len(t, run.Results, 20)
	assert.Len(t, run.Tool.Driver.Rules, 1)
}

func TestSARIFReporter_ErrorHandling(t *testing.T) {
	t.Run("encode failure still closes", func(t *testing.T) {
		w := &MockWriteCloser{WriteError: errors.New("disk full")}
		r := reporting.NewSARIFReporter(w, testToolVersion, zaptest.NewLogger(t))
		err := r.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to encode SARIF output")
		assert.True(t, w.Closed)
	})
	t.Run("close failure", func(t *testing.T) {
		w := &MockWriteCloser{CloseError: errors.New("bad fd")}
		r := reporting.NewSARIFReporter(w, testToolVersion, zaptest.NewLogger(t))
		err := r.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to close output writer")
	})
	t.Run("nil envelope", func(t *testing.T) {
		r, _ := setupSARIFTest(t)
		assert.NoError(t, r.Write(nil))
	})
}

func TestSARIFReporter_SeverityLevels(t *testing.T) {
	tests := []struct {
		severity schemas.Severity
		level    sarif.Level
	}{
		{schemas.SeverityCritical, sarif.LevelError},
		{schemas.SeverityHigh, sarif.LevelError},
		{"HIGH", sarif.LevelError},
		{schemas.SeverityMedium, sarif.LevelWarning},
		{schemas.SeverityLow, sarif.LevelNote},
		{schemas.SeverityInfo, sarif.LevelNote},
		{"bogus", sarif.LevelNote},
	}
	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			r, w := setupSARIFTest(t)
			f := sampleFinding("REDUNDANT_STATE", "s1", "A")
			f.Severity = tt.severity
			require.NoError(t, r.Write(&schemas.ResultEnvelope{Findings: []schemas.Finding{f}}))
			require.NoError(t, r.Close())
			assert.Equal(t, tt.level, decodeSARIF(t, w).Runs[0].Results[0].Level)
		})
	}
}
