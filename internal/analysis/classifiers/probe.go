package classifiers

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/analysis/core"
	"github.com/xkilldash9x/stateprobe/internal/analysis/util"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// ProbeClassifier compares probe words of one family pairwise within their category.
// Probes sharing a category must be indistinguishable on a non-vulnerable peer.
type ProbeClassifier struct {
	*core.BaseClassifier
	wordType alphabet.WordType
	category core.Category
}

// NewPaddingOracleClassifier checks CBC padding probes.
func NewPaddingOracleClassifier(logger *zap.Logger) *ProbeClassifier {
	return &ProbeClassifier{
		BaseClassifier: core.NewBaseClassifier("padding_oracle",
			"Compares padding oracle probes of the same category.", logger),
		wordType: alphabet.TypePaddingOracle,
		category: core.CategoryPaddingOracle,
	}
}

// NewBleichenbacherClassifier checks PKCS#1 key exchange probes.
func NewBleichenbacherClassifier(logger *zap.Logger) *ProbeClassifier {
	return &ProbeClassifier{
		BaseClassifier: core.NewBaseClassifier("bleichenbacher_oracle",
			"Compares Bleichenbacher probes of the same category.", logger),
		wordType: alphabet.TypeBleichenbacherOracle,
		category: core.CategoryBleichenbacher,
	}
}

func (c *ProbeClassifier) groups(alph *alphabet.Alphabet) [][]alphabet.Word {
	index := map[string]int{}
	var out [][]alphabet.Word
	for _, w := range alph.Words() {
		if w.Type != c.wordType || w.Category == "" {
			continue
		}
		i, ok := index[w.Category]
		if !ok {
			i = len(out)
			index[w.Category] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], w)
	}
	return out
}

func (c *ProbeClassifier) Classify(actx *core.AnalysisContext) {
	m := actx.Machine
	groups := c.groups(m.Alphabet())
	if len(groups) == 0 {
		c.Logger.Debug("No categorized probes in alphabet")
		return
	}
	access := m.AccessSequences()
	for _, s := range util.ReachableStates(m, m.Initial()) {
		if actx.Details.IsDummy(s) {
			continue
		}
		for _, group := range groups {
			for i := 0; i < len(group); i++ {
				for j := i + 1; j < len(group); j++ {
					if !c.compare(actx, s, access[s], group[i], group[j]) {
						return
					}
				}
			}
		}
	}
}

// compare reports a leaking pair and returns false once the finding cap is hit.
func (c *ProbeClassifier) compare(actx *core.AnalysisContext, s mealy.StateID, prefix []alphabet.Word, a, b alphabet.Word) bool {
	m := actx.Machine
	ta, okA := m.Transition(s, a)
	tb, okB := m.Transition(s, b)
	if !okA || !okB || ta.Output.IllegalTransition || tb.Output.IllegalTransition {
		return true
	}
	var rationale string
	if ta.Target != tb.Target && !util.Equivalent(m, ta.Target, tb.Target) {
		rationale = fmt.Sprintf("probes %s and %s (category %s) lead from %s to distinguishable states %s and %s",
			a, b, a.Category, actx.Details.Name(s), actx.Details.Name(ta.Target), actx.Details.Name(tb.Target))
	} else if eq := response.CheckEquality(ta.Output.Fingerprint, tb.Output.Fingerprint); eq.LeaksInformation() {
		rationale = fmt.Sprintf("probes %s and %s (category %s) answered differently in %s: %s (%s vs %s)",
			a, b, a.Category, actx.Details.Name(s), eq, ta.Output, tb.Output)
	} else {
		return true
	}
	out := tb.Output
	return actx.AddIssue(core.Issue{
		Category:   c.category,
		State:      s,
		Input:      append(alphabet.Clone(prefix), b),
		Response:   &out,
		Rationale:  rationale,
		Confidence: core.ConfidenceConfirmed,
		Classifier: c.Name(),
	})
}
