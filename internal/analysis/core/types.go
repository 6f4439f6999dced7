package core

import (
	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// -- Issue taxonomy --

// Category tags what kind of deviation an issue describes.
type Category string

const (
	// Benign subgraph traversal.
	CategoryRequiredSuccessorLeadsToError Category = "REQUIRED_SUCCESSOR_LEADS_TO_ERROR"
	CategoryOptionalSuccessorUnexpected   Category = "OPTIONAL_SUCCESSOR_UNEXPECTED_RESPONSE"
	CategoryUnexpectedResponse            Category = "UNEXPECTED_RESPONSE"
	CategoryIgnoredInput                  Category = "ILLEGAL_INPUT_IGNORED"
	CategoryLeavesHappyFlow               Category = "ILLEGAL_INPUT_LEAVES_HAPPY_FLOW"
	CategoryReturnsToHappyFlow            Category = "ILLEGAL_INPUT_RETURNS_TO_HAPPY_FLOW"
	CategoryUnwantedHappyFlow             Category = "UNWANTED_HAPPY_FLOW"
	CategoryConflictingStateName          Category = "CONFLICTING_STATE_NAME"
	CategoryRedundantState                Category = "REDUNDANT_STATE"

	// Pairwise scans and response checks.
	CategoryIllegalTransition Category = "ILLEGAL_LEARNER_TRANSITION"
	CategoryPaddingOracle     Category = "PADDING_ORACLE"
	CategoryBleichenbacher    Category = "BLEICHENBACHER_ORACLE"
	CategoryResponseAnomaly   Category = "RESPONSE_ANOMALY"
)

// Confidence grades issues whose classification depends on a secondary search.
type Confidence string

const (
	ConfidenceConfirmed   Confidence = "CONFIRMED"
	ConfidenceUnconfirmed Confidence = "UNCONFIRMED"
)

// Issue is one reported deviation.
type Issue struct {
	ID       string          `json:"id" yaml:"id"`
	Category Category        `json:"category" yaml:"category"`
	State    mealy.StateID   `json:"state" yaml:"state"`
	Input    []alphabet.Word `json:"input" yaml:"input"`
	// Response is the output of the offending transition, when there is one.
	Response   *response.SulResponse `json:"response,omitempty" yaml:"response,omitempty"`
	Rationale  string                `json:"rationale" yaml:"rationale"`
	Confidence Confidence            `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Classifier string                `json:"classifier" yaml:"classifier"`
}

// Path renders the input sequence.
func (i Issue) Path() string { return alphabet.Sequence(i.Input) }

// Severity maps the category onto the finding severity scale used in reports.
func (i Issue) Severity() string {
	switch i.Category {
	case CategoryPaddingOracle, CategoryBleichenbacher, CategoryUnwantedHappyFlow:
		if i.Confidence == ConfidenceUnconfirmed {
			return "Medium"
		}
		return "High"
	case CategoryRequiredSuccessorLeadsToError, CategoryLeavesHappyFlow, CategoryReturnsToHappyFlow:
		return "Medium"
	case CategoryConflictingStateName, CategoryRedundantState, CategoryIllegalTransition:
		return "Informational"
	default:
		return "Low"
	}
}
