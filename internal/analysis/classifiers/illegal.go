package classifiers

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/analysis/core"
)

// IllegalTransitionClassifier reports transitions from benign states into the dummy state.
// Those are learner artifacts: the cache marked the observation as impossible.
type IllegalTransitionClassifier struct {
	*core.BaseClassifier
}

func NewIllegalTransitionClassifier(logger *zap.Logger) *IllegalTransitionClassifier {
	return &IllegalTransitionClassifier{
		BaseClassifier: core.NewBaseClassifier("illegal_transition",
			"Reports benign states with transitions into the illegal learner state.", logger),
	}
}

func (c *IllegalTransitionClassifier) Classify(actx *core.AnalysisContext) {
	d := actx.Details
	if !d.BenignComputed() {
		c.Logger.Warn("Benign subgraph not computed, skipping illegal transition check")
		return
	}
	access := actx.Machine.AccessSequences()
	for _, s := range d.BenignStates() {
		prefix, reachable := access[s]
		if !reachable {
			continue
		}
		for _, w := range actx.Machine.Alphabet().Words() {
			tr, ok := actx.Machine.Transition(s, w)
			if !ok || !(tr.Output.IllegalTransition || d.IsDummy(tr.Target)) {
				continue
			}
			out := tr.Output
			kept := actx.AddIssue(core.Issue{
				Category:   core.CategoryIllegalTransition,
				State:      s,
				Input:      append(alphabet.Clone(prefix), w),
				Response:   &out,
				Rationale:  fmt.Sprintf("input %s from %s was classified as an illegal learner transition", w, d.Name(s)),
				Classifier: c.Name(),
			})
			if !kept {
				return
			}
		}
	}
}
