// internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "stateprobe"
	ToolInfoURI  = "https://github.com/xkilldash9x/stateprobe"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleIDSanitizer replaces characters not allowed in rule IDs. Alphanumerics, underscore
// and dot survive; every other run collapses into a single hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// RuleFingerprint identifies a rule definition by its content.
type RuleFingerprint string

// calculateFingerprint hashes the fields that define a rule: the category and the
// classifier that reports it.
func calculateFingerprint(finding schemas.Finding) RuleFingerprint {
	data := struct {
		Category string
		Module   string
	}{
		Category: finding.Category,
		Module:   finding.Module,
	}
	h := sha1.New()
	_ = json.NewEncoder(h).Encode(data)
	return RuleFingerprint(hex.EncodeToString(h.Sum(nil)))
}

// resultFingerprint is stable across runs for the same deviation on the same target, so
// consumers can track a finding between reports.
func resultFingerprint(finding schemas.Finding) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", finding.Target, finding.Category, finding.State, finding.Path)
	return hex.EncodeToString(h.Sum(nil))
}

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format.
// It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the maps.
	mu                 sync.Mutex
	rulesByFingerprint map[RuleFingerprint]string
	// ruleIDUsage counts how often a base rule ID was handed out, to suffix collisions.
	ruleIDUsage map[string]int
	sessions    []schemas.SessionSummary
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						Rules:          []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:             writer,
		logger:             logger.Named("sarif_reporter"),
		log:                log,
		rulesByFingerprint: make(map[RuleFingerprint]string),
		ruleIDUsage:        make(map[string]int),
	}
}

// Write converts a ResultEnvelope into SARIF results and adds them to the log. Session
// summaries are kept for the run properties.
func (r *SARIFReporter) Write(result *schemas.ResultEnvelope) error {
	if result == nil {
		return nil
	}
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	for _, finding := range result.Findings {
		ruleID := r.ensureRule(finding)

		messageText := finding.Description
		if messageText == "" {
			messageText = guidanceFor(finding.Category, "").Title
		}

		props := sarif.PropertyBag{
			"session_id": finding.SessionID,
			"path":       finding.Path,
		}
		if finding.Confidence != "" {
			props["confidence"] = finding.Confidence
		}
		if len(finding.Evidence) > 0 {
			props["evidence"] = finding.Evidence
		}

		run.Results = append(run.Results, &sarif.Result{
			RuleID:              ruleID,
			Message:             &sarif.Message{Text: pString(messageText)},
			Level:               sarif.Level(mapSeverityToSARIFLevel(finding.Severity)),
			Locations:           r.createLocations(finding),
			PartialFingerprints: map[string]string{"stateprobe/v1": resultFingerprint(finding)},
			Properties:          &props,
		})
	}
	r.sessions = append(r.sessions, result.Sessions...)

	if len(result.Findings) > 0 {
		r.logger.Debug("Wrote findings to SARIF buffer",
			zap.Int("findings_count", len(result.Findings)),
			zap.Duration("duration_ms", time.Since(startTime)),
		)
	}
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	if len(r.sessions) > 0 {
		run.Properties = &sarif.PropertyBag{"sessions": r.sessions}
	}

	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
		zap.Int("sessions", len(r.sessions)),
	)

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Info("Successfully wrote SARIF report",
		zap.Duration("duration_ms", time.Since(startTime)),
	)
	return nil
}

// sanitizeRuleName creates a standardized base name for the rule ID.
func (r *SARIFReporter) sanitizeRuleName(name string) string {
	if name == "" {
		return "UNCLASSIFIED"
	}
	sanitizedName := strings.ToUpper(name)
	sanitizedName = ruleIDSanitizer.ReplaceAllString(sanitizedName, "-")
	sanitizedName = strings.Trim(sanitizedName, "-")
	if sanitizedName == "" {
		return "UNKNOWN"
	}
	return sanitizedName
}

// ensureRule ensures a rule definition exists for the finding and returns its ID.
// Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(finding schemas.Finding) string {
	fingerprint := calculateFingerprint(finding)
	if ruleID, exists := r.rulesByFingerprint[fingerprint]; exists {
		return ruleID
	}

	baseRuleID := "STATEPROBE-" + r.sanitizeRuleName(finding.Category)
	usageCount := r.ruleIDUsage[baseRuleID]
	r.ruleIDUsage[baseRuleID] = usageCount + 1

	finalRuleID := baseRuleID
	if usageCount > 0 {
		// Same category reported by a different classifier.
		finalRuleID = fmt.Sprintf("%s-%d", baseRuleID, usageCount)
		r.logger.Debug("Rule ID collision detected, generated new ID with suffix",
			zap.String("base_id", baseRuleID),
			zap.String("final_id", finalRuleID),
		)
	}
	r.logger.Debug("Registering new SARIF rule definition", zap.String("rule_id", finalRuleID))

	g := guidanceFor(finding.Category, finding.Description)
	markdownHelp := fmt.Sprintf("**Deviation:** %s\n\n**Description:**\n%s\n\n**Recommendation:**\n%s",
		g.Title, g.Description, g.Recommendation)

	tags := []string{"state-machine", "stateprobe"}
	if finding.Module != "" {
		tags = append(tags, finding.Module)
	}
	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               finalRuleID,
		Name:             pString(g.Title),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(g.Title)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(g.Description)},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(g.Recommendation),
			Markdown: pString(markdownHelp),
		},
		Properties: &sarif.PropertyBag{
			"tags":      tags,
			"category":  finding.Category,
			"precision": "medium",
		},
	})
	r.rulesByFingerprint[fingerprint] = finalRuleID
	return finalRuleID
}

// createLocations places the finding on the target, with the state and the input path as
// logical locations.
func (r *SARIFReporter) createLocations(finding schemas.Finding) []*sarif.Location {
	var logical []*sarif.LogicalLocation
	if finding.State != "" {
		logical = append(logical, &sarif.LogicalLocation{
			Name:               pString(finding.State),
			FullyQualifiedName: pString(finding.Target + "#" + finding.State),
			Kind:               pString("state"),
		})
	}
	if finding.Path != "" {
		logical = append(logical, &sarif.LogicalLocation{
			Name: pString(finding.Path),
			Kind: pString("inputSequence"),
		})
	}

	msgText := fmt.Sprintf("Deviation at %s", finding.Target)
	if finding.State != "" {
		msgText = fmt.Sprintf("Deviation in state %s of %s via %s", finding.State, finding.Target, finding.Path)
	}
	return []*sarif.Location{{
		PhysicalLocation: &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(finding.Target)},
		},
		LogicalLocations: logical,
		Message:          &sarif.Message{Text: pString(msgText)},
	}}
}

// mapSeverityToSARIFLevel converts a finding severity to the SARIF level.
func mapSeverityToSARIFLevel(severity schemas.Severity) string {
	switch schemas.ParseSeverity(string(severity)) {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return string(sarif.LevelError)
	case schemas.SeverityMedium:
		return string(sarif.LevelWarning)
	default:
		return string(sarif.LevelNote)
	}
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}
