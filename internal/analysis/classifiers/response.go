package classifiers

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/analysis/core"
	"github.com/xkilldash9x/stateprobe/internal/analysis/util"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// ResponseClassifier flags individual responses that are malformed regardless of state:
// unknown messages, messages following an alert, and fatal alerts on a live connection.
type ResponseClassifier struct {
	*core.BaseClassifier
}

func NewResponseClassifier(logger *zap.Logger) *ResponseClassifier {
	return &ResponseClassifier{
		BaseClassifier: core.NewBaseClassifier("response",
			"Flags unknown messages and inconsistent alert handling.", logger),
	}
}

func (c *ResponseClassifier) Classify(actx *core.AnalysisContext) {
	m := actx.Machine
	access := m.AccessSequences()
	for _, s := range util.ReachableStates(m, m.Initial()) {
		for _, w := range m.Alphabet().Words() {
			tr, ok := m.Transition(s, w)
			if !ok || tr.Output.IllegalTransition {
				continue
			}
			reason := anomaly(tr.Output.Fingerprint)
			if reason == "" {
				continue
			}
			out := tr.Output
			kept := actx.AddIssue(core.Issue{
				Category:   core.CategoryResponseAnomaly,
				State:      s,
				Input:      append(alphabet.Clone(access[s]), w),
				Response:   &out,
				Rationale:  reason + " after " + w.String() + " in " + actx.Details.Name(s),
				Classifier: c.Name(),
			})
			if !kept {
				return
			}
		}
	}
}

func anomaly(f response.Fingerprint) string {
	if f.Contains(response.MsgUnknown) {
		return "unknown message received"
	}
	alerted := false
	fatal := false
	for _, msg := range f.Messages {
		if msg.Type == response.MsgAlert {
			alerted = true
			if strings.EqualFold(msg.Fields["level"], "fatal") {
				fatal = true
			}
			continue
		}
		if alerted {
			return "message " + string(msg.Type) + " sent after an alert"
		}
	}
	if fatal && f.SocketState == response.SocketUp {
		return "connection kept open after a fatal alert"
	}
	return ""
}
