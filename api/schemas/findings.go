package schemas

import (
	"encoding/json"
	"strings"
	"time"
)

// -- Finding Schemas --

// Severity represents the severity level of a finding. The values are lowercase to align
// with database ENUMs.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

func (s Severity) String() string { return string(s) }

// ParseSeverity maps a free-form severity label onto the scale. Unknown labels are
// treated as informational.
func ParseSeverity(label string) Severity {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	case "low":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Finding is one classified deviation of a learned state machine. It maps directly to the
// `findings` table.
type Finding struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id"`

	ObservedAt time.Time `json:"observed_at"`

	// Target is the endpoint or model file the machine was learned from.
	Target string `json:"target"`
	// Module is the classifier that reported the finding.
	Module   string   `json:"module"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	// State is the machine state the deviation starts in, Path the input sequence leading
	// through it.
	State       string `json:"state"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Confidence  string `json:"confidence,omitempty"`

	// Evidence holds the offending response and any classifier-specific detail, stored as
	// JSONB.
	Evidence json.RawMessage `json:"evidence,omitempty"`
}

// SessionSummary records the outcome of one extraction session or model analysis. It maps
// to the `sessions` table.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	// Stage numbers the alphabets of an iterative extraction from 1.
	Stage     int       `json:"stage"`
	TaskID    string    `json:"task_id"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	AlphabetSize int  `json:"alphabet_size"`
	States       int  `json:"states"`
	Complete     bool `json:"complete"`
	Blacklisted  bool `json:"blacklisted"`
	// Abort is the condition that ended an incomplete session.
	Abort string `json:"abort,omitempty"`

	Queries      int64         `json:"queries"`
	LiveQueries  int64         `json:"live_queries"`
	Conflicts    int           `json:"conflicts"`
	Restarts     int           `json:"restarts"`
	FinalTimeout time.Duration `json:"final_timeout"`

	Findings  int  `json:"findings"`
	Truncated bool `json:"truncated,omitempty"`
	// Model is the YAML rendering of the learned machine, when one exists.
	Model string `json:"model,omitempty"`
}

// -- Result Envelope --

// ResultEnvelope carries everything one task produced from the worker to persistence and
// reporting.
type ResultEnvelope struct {
	SessionID string           `json:"session_id"`
	TaskID    string           `json:"task_id"`
	Timestamp time.Time        `json:"timestamp"`
	Findings  []Finding        `json:"findings"`
	Sessions  []SessionSummary `json:"sessions,omitempty"`
}

// Empty reports whether the envelope carries nothing worth persisting.
func (e *ResultEnvelope) Empty() bool {
	return e == nil || (len(e.Findings) == 0 && len(e.Sessions) == 0)
}
