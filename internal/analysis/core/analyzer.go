package core

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// TransitionAnalyzer describes correct protocol behavior after one specific input prefix.
// What is allowed next depends on the path taken (e.g. whether a handshake already
// completed), so a fresh analyzer is built for every prefix.
type TransitionAnalyzer interface {
	// AllowedSuccessors lists the inputs a correct peer may send next.
	AllowedSuccessors() []alphabet.Word
	// IsExpectedResponse reports whether r is an acceptable answer to w after this prefix.
	IsExpectedResponse(w alphabet.Word, r response.SulResponse) bool
	IsRequiredSuccessor(w alphabet.Word) bool
	IsOptionalSuccessor(w alphabet.Word) bool
	// IsEffectivelyBenignFlow reports whether the prefix still completes a correct flow
	// once inputs that do not advance it are disregarded.
	IsEffectivelyBenignFlow() bool
	// IsFinished reports whether the prefix completed a flow.
	IsFinished() bool
	// StateName is the human readable name of the state the prefix should end in.
	StateName() string
	ContextProperties() []string
	HasProperty(p string) bool
}

// AnalyzerFactory builds the analyzer for a prefix.
type AnalyzerFactory interface {
	New(path []alphabet.Word) TransitionAnalyzer
}

// RenameJudge is optionally implemented by analyzers that know state names which may
// legitimately label the same state (e.g. resumption and full handshake overlap).
type RenameJudge interface {
	IsBenignRename(from, to string) bool
}

// Classifier inspects a learned machine and reports issues into the context. Classifiers
// never fail: missing preconditions are logged and yield no issues.
type Classifier interface {
	Name() string
	Description() string
	Classify(actx *AnalysisContext)
}

// BaseClassifier provides the name/description plumbing shared by every classifier. It is
// intended to be embedded.
type BaseClassifier struct {
	name        string
	description string
	Logger      *zap.Logger // Exposed for use in specific classifier implementations.
}

// NewBaseClassifier creates a BaseClassifier with a named sub-logger.
func NewBaseClassifier(name, description string, logger *zap.Logger) *BaseClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseClassifier{
		name:        name,
		description: description,
		Logger:      logger.Named(name),
	}
}

// Name returns the classifier's name.
func (b *BaseClassifier) Name() string {
	return b.name
}

// Description returns the classifier's description.
func (b *BaseClassifier) Description() string {
	return b.description
}

// AlphabetBinder is implemented by factories that resolve successor words against the
// alphabet of the machine under analysis.
type AlphabetBinder interface {
	Bind(alph *alphabet.Alphabet) AnalyzerFactory
}
