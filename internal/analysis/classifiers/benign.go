// Package classifiers implements the graph-walk analyses run over learned machines.
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

// BenignSubgraphClassifier walks the machine along the inputs the analyzer allows and
// builds the benign subgraph into the context's GraphDetails. Every deviation met on the
// way is reported once.
type BenignSubgraphClassifier struct {
	*core.BaseClassifier
}

func NewBenignSubgraphClassifier(logger *zap.Logger) *BenignSubgraphClassifier {
	return &BenignSubgraphClassifier{
		BaseClassifier: core.NewBaseClassifier("benign_subgraph",
			"Builds the happy-flow subgraph and reports deviations from it.", logger),
	}
}

type edge struct {
	state mealy.StateID
	word  string
}

type frame struct {
	state mealy.StateID
	path  []alphabet.Word
}

type candidate struct {
	state mealy.StateID
	word  alphabet.Word
	path  []alphabet.Word
}

// walk is the state of one classification run, shared by both passes.
type walk struct {
	c       *BenignSubgraphClassifier
	actx    *core.AnalysisContext
	m       *mealy.Machine
	details *core.GraphDetails

	reset    alphabet.Word
	hasReset bool

	// allowedAt is the successor set of the analyzer that first named each state.
	allowedAt  map[mealy.StateID]map[string]struct{}
	candidates []candidate
	candidate  map[edge]struct{}
	reported   map[string]struct{}
}

func (c *BenignSubgraphClassifier) Classify(actx *core.AnalysisContext) {
	if actx.Factory == nil {
		c.Logger.Warn("No transition analyzer configured, skipping benign subgraph")
		return
	}
	w := &walk{
		c:         c,
		actx:      actx,
		m:         actx.Machine,
		details:   actx.Details,
		allowedAt: map[mealy.StateID]map[string]struct{}{},
		candidate: map[edge]struct{}{},
		reported:  map[string]struct{}{},
	}
	w.reset, w.hasReset = util.ResetWord(w.m)

	w.details.MarkBenign(w.m.Initial())
	w.name(w.m.Initial(), actx.Factory.New(nil), nil, false)

	w.pass(false)
	w.pass(true)
	w.details.SetBenignComputed()

	w.evaluateIllegal()
	w.redundantStates()

	c.Logger.Debug("Benign subgraph computed",
		zap.Int("benign_states", len(w.details.BenignStates())),
		zap.Int("finish_states", len(w.details.FinishStates())),
		zap.Int("illegal_candidates", len(w.candidates)))
}

// pass is one depth-first traversal with an explicit stack. Every transition is followed at
// most once per pass; with resetRecovery the reset out of reached error states is followed
// too, starting a fresh path.
func (w *walk) pass(resetRecovery bool) {
	visited := map[edge]struct{}{}
	stack := []frame{{state: w.m.Initial()}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stack = append(stack, w.expand(top, visited, resetRecovery)...)
	}
}

func (w *walk) expand(f frame, visited map[edge]struct{}, resetRecovery bool) []frame {
	an := w.actx.Factory.New(f.path)
	allowed := map[string]struct{}{}
	var children []frame
	var errorTargets []mealy.StateID

	for _, in := range an.AllowedSuccessors() {
		allowed[in.Key()] = struct{}{}
		tr, ok := w.m.Transition(f.state, in)
		if !ok {
			continue
		}
		key := edge{f.state, in.Key()}
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}
		if w.details.IsDummy(tr.Target) || tr.Output.IllegalTransition {
			continue
		}

		path := appendPath(f.path, in)
		out := tr.Output
		if w.details.IsErrorState(tr.Target) {
			errorTargets = append(errorTargets, tr.Target)
			switch {
			case an.IsRequiredSuccessor(in):
				w.flag(core.CategoryRequiredSuccessorLeadsToError, f.state, path, &out,
					"required input %s from %s leads to error state %s",
					in, w.details.Name(f.state), w.details.Name(tr.Target))
			case an.IsOptionalSuccessor(in) && !an.IsExpectedResponse(in, out):
				w.flag(core.CategoryOptionalSuccessorUnexpected, f.state, path, &out,
					"optional input %s from %s leads to error state %s with unexpected response %s",
					in, w.details.Name(f.state), w.details.Name(tr.Target), out)
			}
			continue
		}

		if !an.IsExpectedResponse(in, out) {
			w.flag(core.CategoryUnexpectedResponse, f.state, path, &out,
				"allowed input %s from %s answered with unexpected response %s",
				in, w.details.Name(f.state), out)
		}
		w.details.AddBenignTransition(f.state, in, tr.Target)
		child := w.actx.Factory.New(path)
		w.name(tr.Target, child, path, tr.Target == f.state)
		w.details.AddProperties(tr.Target, child.ContextProperties()...)
		if child.IsFinished() {
			w.details.MarkFinish(tr.Target)
		}
		children = append(children, frame{state: tr.Target, path: path})
	}

	for _, in := range w.m.Alphabet().Words() {
		if in.IsReset() {
			continue
		}
		if _, ok := allowed[in.Key()]; ok {
			continue
		}
		if t := w.m.Successor(f.state, in); resetRecovery && w.details.IsErrorState(t) {
			errorTargets = append(errorTargets, t)
		}
		key := edge{f.state, in.Key()}
		if _, dup := w.candidate[key]; dup {
			continue
		}
		w.candidate[key] = struct{}{}
		w.candidates = append(w.candidates, candidate{state: f.state, word: in, path: appendPath(f.path, in)})
	}

	if resetRecovery && w.hasReset {
		for _, e := range errorTargets {
			key := edge{e, w.reset.Key()}
			if _, seen := visited[key]; seen {
				continue
			}
			visited[key] = struct{}{}
			r := w.m.Successor(e, w.reset)
			if r == mealy.Undefined || w.details.IsDummy(r) || w.details.IsErrorState(r) {
				continue
			}
			w.details.MarkBenign(r)
			w.name(r, w.actx.Factory.New(nil), []alphabet.Word{w.reset}, false)
			children = append(children, frame{state: r})
		}
	}

	// Reverse so the first allowed successor is expanded first.
	for i, j := 0, len(children)-1; i < j; i, j = i+1, j-1 {
		children[i], children[j] = children[j], children[i]
	}
	return children
}

// name assigns the analyzer's state name to s, reporting incompatible names.
func (w *walk) name(s mealy.StateID, an core.TransitionAnalyzer, path []alphabet.Word, selfLoop bool) {
	name := an.StateName()
	if name == "" {
		return
	}
	existing, ok := w.details.AssignedName(s)
	if !ok {
		w.details.SetName(s, name)
		w.allowedAt[s] = wordSet(an.AllowedSuccessors())
		return
	}
	if existing == name || w.benignRename(s, existing, name, an, selfLoop) {
		return
	}
	w.report(core.Issue{
		Category:  core.CategoryConflictingStateName,
		State:     s,
		Input:     alphabet.Clone(path),
		Rationale: fmt.Sprintf("state named %s is also reached as %s", existing, name),
	}, name)
}

func (w *walk) benignRename(s mealy.StateID, from, to string, an core.TransitionAnalyzer, selfLoop bool) bool {
	if selfLoop {
		return true
	}
	if judge, ok := an.(core.RenameJudge); ok && (judge.IsBenignRename(from, to) || judge.IsBenignRename(to, from)) {
		return true
	}
	return sameSet(w.allowedAt[s], wordSet(an.AllowedSuccessors()))
}

// evaluateIllegal classifies the inputs the analyzer did not allow, once the benign
// subgraph is complete.
func (w *walk) evaluateIllegal() {
	for _, cand := range w.candidates {
		if w.details.IsBenignTransition(cand.state, cand.word) {
			continue
		}
		tr, ok := w.m.Transition(cand.state, cand.word)
		if !ok || tr.Output.IllegalTransition || w.details.IsDummy(tr.Target) {
			continue
		}
		if w.details.IsErrorState(tr.Target) {
			continue
		}
		out := tr.Output
		issue := core.Issue{State: cand.state, Input: cand.path, Response: &out}
		from := w.details.Name(cand.state)
		switch {
		case tr.Target == cand.state:
			issue.Category = core.CategoryIgnoredInput
			issue.Rationale = fmt.Sprintf("illegal input %s is ignored in %s", cand.word, from)
		case !w.details.IsBenign(tr.Target):
			issue.Category = core.CategoryLeavesHappyFlow
			issue.Rationale = fmt.Sprintf("illegal input %s leaves the happy flow from %s to %s without an error",
				cand.word, from, w.details.Name(tr.Target))
		default:
			rest, found := util.FindPath(w.m, tr.Target, w.details.IsFinish, w.details.IsBenignTransition)
			if !found {
				issue.Category = core.CategoryReturnsToHappyFlow
				issue.Rationale = fmt.Sprintf("illegal input %s from %s returns to happy flow state %s",
					cand.word, from, w.details.Name(tr.Target))
				break
			}
			full := append(alphabet.Clone(cand.path), rest...)
			issue.Category = core.CategoryUnwantedHappyFlow
			issue.Confidence = core.ConfidenceUnconfirmed
			if w.actx.Factory.New(full).IsEffectivelyBenignFlow() {
				issue.Confidence = core.ConfidenceConfirmed
			}
			issue.Rationale = fmt.Sprintf("illegal input %s from %s still completes a flow via %s",
				cand.word, from, alphabet.Sequence(full))
		}
		w.report(issue)
	}
}

// redundantStates reports benign successors of one state that cannot be told apart.
func (w *walk) redundantStates() {
	flagged := map[mealy.StateID]struct{}{}
	for _, s := range w.details.BenignStates() {
		var targets []mealy.StateID
		for _, in := range w.details.BenignInputs(s) {
			t := w.m.Successor(s, in)
			if t == mealy.Undefined || w.details.IsErrorState(t) {
				continue
			}
			dup := false
			for _, prev := range targets {
				if prev == t {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			for _, prev := range targets {
				if _, done := flagged[t]; done {
					break
				}
				if util.Equivalent(w.m, prev, t) {
					flagged[t] = struct{}{}
					w.flag(core.CategoryRedundantState, t, w.m.AccessSequences()[t], nil,
						"state %s behaves exactly like %s", w.details.Name(t), w.details.Name(prev))
				}
			}
			targets = append(targets, t)
		}
	}
}

func (w *walk) flag(cat core.Category, s mealy.StateID, path []alphabet.Word, out *response.SulResponse, format string, args ...any) {
	w.report(core.Issue{
		Category:  cat,
		State:     s,
		Input:     path,
		Response:  out,
		Rationale: fmt.Sprintf(format, args...),
	})
}

// report adds the issue once per category, state and final input.
func (w *walk) report(issue core.Issue, extra ...string) {
	key := string(issue.Category) + "|" + fmt.Sprint(issue.State)
	if n := len(issue.Input); n > 0 {
		key += "|" + issue.Input[n-1].Key()
	}
	for _, e := range extra {
		key += "|" + e
	}
	if _, dup := w.reported[key]; dup {
		return
	}
	w.reported[key] = struct{}{}
	issue.Classifier = w.c.Name()
	w.actx.AddIssue(issue)
}

func appendPath(path []alphabet.Word, w alphabet.Word) []alphabet.Word {
	out := make([]alphabet.Word, len(path)+1)
	copy(out, path)
	out[len(path)] = w
	return out
}

func wordSet(words []alphabet.Word) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w.Key()] = struct{}{}
	}
	return set
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
