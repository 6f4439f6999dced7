package flow

import (
	"sort"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/analysis/core"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// position is the index of the next step to match within a flow.
type position struct {
	flow int
	step int
}

// Factory builds flow analyzers for path prefixes.
type Factory struct {
	def     *Definition
	words   map[string]alphabet.Word
	aliases map[string]int
}

// NewFactory creates a factory for def. Successor words are resolved against alph; a nil
// alphabet yields analyzers without allowed successors until Bind is called.
func NewFactory(def *Definition, alph *alphabet.Alphabet) *Factory {
	f := &Factory{def: def, aliases: map[string]int{}}
	for g, group := range def.Aliases {
		for _, name := range group {
			f.aliases[name] = g
		}
	}
	f.bind(alph)
	return f
}

func (f *Factory) bind(alph *alphabet.Alphabet) {
	f.words = map[string]alphabet.Word{}
	if alph == nil {
		return
	}
	for _, w := range alph.Words() {
		f.words[w.Name] = w
	}
}

// Bind returns a copy of the factory resolving words against alph.
func (f *Factory) Bind(alph *alphabet.Alphabet) core.AnalyzerFactory {
	c := &Factory{def: f.def, aliases: f.aliases}
	c.bind(alph)
	return c
}

// New runs path through the flows and returns the analyzer for its end.
func (f *Factory) New(path []alphabet.Word) core.TransitionAnalyzer {
	a := &Analyzer{f: f, path: alphabet.Clone(path)}
	cur := f.closure(f.start())
	for _, w := range path {
		if len(cur) == 0 {
			break
		}
		next, matched := f.advance(cur, w)
		cur = f.closure(next)
		a.matched = matched
	}
	a.positions = cur
	return a
}

func (f *Factory) start() map[position][]string {
	set := map[position][]string{}
	for i := range f.def.Flows {
		set[position{flow: i}] = nil
	}
	return set
}

func (f *Factory) step(p position) (Step, bool) {
	steps := f.def.Flows[p.flow].Steps
	if p.step >= len(steps) {
		return Step{}, false
	}
	return steps[p.step], true
}

// closure adds the positions reachable by skipping optional steps.
func (f *Factory) closure(set map[position][]string) map[position][]string {
	queue := make([]position, 0, len(set))
	for p := range set {
		queue = append(queue, p)
	}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		st, ok := f.step(p)
		if !ok || !st.Optional {
			continue
		}
		next := position{flow: p.flow, step: p.step + 1}
		if merge(set, next, set[p]) {
			queue = append(queue, next)
		}
	}
	return set
}

// advance consumes w from every position expecting it. matched lists the steps consumed.
func (f *Factory) advance(set map[position][]string, w alphabet.Word) (map[position][]string, []Step) {
	next := map[position][]string{}
	var matched []Step
	for _, p := range sortedPositions(set) {
		st, ok := f.step(p)
		if !ok || st.Word != w.Name {
			continue
		}
		matched = append(matched, st)
		props := append(append([]string(nil), set[p]...), st.Properties...)
		merge(next, position{flow: p.flow, step: p.step + 1}, props)
		if st.Repeat {
			merge(next, p, props)
		}
	}
	return next, matched
}

// merge adds p with props to set and reports whether anything changed.
func merge(set map[position][]string, p position, props []string) bool {
	have, ok := set[p]
	changed := !ok
next:
	for _, prop := range props {
		for _, h := range have {
			if h == prop {
				continue next
			}
		}
		have = append(have, prop)
		changed = true
	}
	set[p] = have
	return changed
}

func sortedPositions(set map[position][]string) []position {
	out := make([]position, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].flow != out[j].flow {
			return out[i].flow < out[j].flow
		}
		return out[i].step < out[j].step
	})
	return out
}

// Analyzer is the flow view of one path prefix.
type Analyzer struct {
	f         *Factory
	path      []alphabet.Word
	positions map[position][]string
	matched   []Step
}

var (
	_ core.TransitionAnalyzer = (*Analyzer)(nil)
	_ core.RenameJudge        = (*Analyzer)(nil)
	_ core.AlphabetBinder     = (*Factory)(nil)
)

// expecting returns the steps that consume w next.
func (a *Analyzer) expecting(w alphabet.Word) []Step {
	var out []Step
	for _, p := range sortedPositions(a.positions) {
		if st, ok := a.f.step(p); ok && st.Word == w.Name {
			out = append(out, st)
		}
	}
	return out
}

func (a *Analyzer) AllowedSuccessors() []alphabet.Word {
	var out []alphabet.Word
	seen := map[string]struct{}{}
	for _, p := range sortedPositions(a.positions) {
		st, ok := a.f.step(p)
		if !ok {
			continue
		}
		if _, dup := seen[st.Word]; dup {
			continue
		}
		seen[st.Word] = struct{}{}
		if w, known := a.f.words[st.Word]; known {
			out = append(out, w)
		}
	}
	return out
}

func (a *Analyzer) IsExpectedResponse(w alphabet.Word, r response.SulResponse) bool {
	if r.IllegalTransition || r.IsError() {
		return false
	}
	got := r.Fingerprint.MessageTypes()
	for _, st := range a.expecting(w) {
		if len(st.Expect) == 0 || equalTypes(st.Expect, got) {
			return true
		}
	}
	return false
}

func equalTypes(want, got []response.MessageType) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

func (a *Analyzer) IsRequiredSuccessor(w alphabet.Word) bool {
	for _, st := range a.expecting(w) {
		if !st.Optional {
			return true
		}
	}
	return false
}

func (a *Analyzer) IsOptionalSuccessor(w alphabet.Word) bool {
	steps := a.expecting(w)
	if len(steps) == 0 {
		return false
	}
	for _, st := range steps {
		if !st.Optional {
			return false
		}
	}
	return true
}

// IsEffectivelyBenignFlow matches the flows as subsequences of the path, so inputs that
// advance no flow are skipped.
func (a *Analyzer) IsEffectivelyBenignFlow() bool {
	cur := a.f.closure(a.f.start())
	for _, w := range a.path {
		next, _ := a.f.advance(cur, w)
		for p, props := range next {
			merge(cur, p, props)
		}
		cur = a.f.closure(cur)
	}
	return a.f.anyFinished(cur)
}

func (a *Analyzer) IsFinished() bool { return a.f.anyFinished(a.positions) }

func (f *Factory) anyFinished(set map[position][]string) bool {
	for p := range set {
		if p.step >= len(f.def.Flows[p.flow].Steps) {
			return true
		}
	}
	return false
}

// StateName is the initial name for the empty path, otherwise the name of the first named
// step the last input matched.
func (a *Analyzer) StateName() string {
	if len(a.path) == 0 {
		return a.f.def.Initial
	}
	if len(a.positions) == 0 {
		return ""
	}
	for _, st := range a.matched {
		if st.State != "" {
			return st.State
		}
	}
	return ""
}

func (a *Analyzer) ContextProperties() []string {
	var out []string
	seen := map[string]struct{}{}
	for _, p := range sortedPositions(a.positions) {
		for _, prop := range a.positions[p] {
			if _, dup := seen[prop]; dup {
				continue
			}
			seen[prop] = struct{}{}
			out = append(out, prop)
		}
	}
	return out
}

func (a *Analyzer) HasProperty(prop string) bool {
	for _, props := range a.positions {
		for _, p := range props {
			if p == prop {
				return true
			}
		}
	}
	return false
}

// IsBenignRename reports whether both names belong to the same alias group.
func (a *Analyzer) IsBenignRename(from, to string) bool {
	g1, ok1 := a.f.aliases[from]
	g2, ok2 := a.f.aliases[to]
	return ok1 && ok2 && g1 == g2
}
