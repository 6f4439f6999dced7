// internal/learner/equivalence.go
package learner

import (
	"context"
	"math/rand"
	"sort"
	"strings"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
)

// -- Happy flow --

// HappyFlowOracle replays hand-written, known-good sequences. It is the cheapest stage and
// catches the most common divergence first.
type HappyFlowOracle struct {
	Oracle MembershipOracle
	Flows  [][]alphabet.Word
}

// FindCounterExample implements EquivalenceOracle.
func (o *HappyFlowOracle) FindCounterExample(ctx context.Context, hyp *mealy.Machine, alph *alphabet.Alphabet) (*Counterexample, error) {
	for _, flow := range o.Flows {
		if !within(alph, flow) {
			continue
		}
		ce, err := check(ctx, o.Oracle, hyp, flow, "happy_flow")
		if err != nil || ce != nil {
			return ce, err
		}
	}
	return nil, nil
}

// ParseFlows resolves space separated word names against alph. Flows mentioning unknown
// words are skipped.
func ParseFlows(alph *alphabet.Alphabet, flows []string) [][]alphabet.Word {
	byName := map[string]alphabet.Word{}
	for _, w := range alph.Words() {
		byName[w.Name] = w
	}
	var out [][]alphabet.Word
next:
	for _, f := range flows {
		var seq []alphabet.Word
		for _, name := range strings.FieldsFunc(f, isSeparator) {
			w, ok := byName[name]
			if !ok {
				continue next
			}
			seq = append(seq, w)
		}
		if len(seq) > 0 {
			out = append(out, seq)
		}
	}
	return out
}

// -- Random words --

// RandomWordsOracle samples uniformly random words of bounded length.
type RandomWordsOracle struct {
	Oracle    MembershipOracle
	Count     int
	MinLength int
	MaxLength int
	Rand      *rand.Rand
}

// FindCounterExample implements EquivalenceOracle.
func (o *RandomWordsOracle) FindCounterExample(ctx context.Context, hyp *mealy.Machine, alph *alphabet.Alphabet) (*Counterexample, error) {
	if alph.Size() == 0 {
		return nil, nil
	}
	rng := o.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	minLen, maxLen := o.MinLength, o.MaxLength
	if minLen < 1 {
		minLen = 1
	}
	if maxLen < minLen {
		maxLen = minLen
	}
	words := alph.Words()
	for i := 0; i < o.Count; i++ {
		n := minLen + rng.Intn(maxLen-minLen+1)
		input := make([]alphabet.Word, n)
		for j := range input {
			input[j] = words[rng.Intn(len(words))]
		}
		ce, err := check(ctx, o.Oracle, hyp, input, "random_words")
		if err != nil || ce != nil {
			return ce, err
		}
	}
	return nil, nil
}

// -- W-method --

// WMethodOracle tests prefix·middle·W for every prefix of the transition cover (each access
// sequence, alone and extended by one symbol), every middle word of at most Depth symbols,
// and the characterizing set W of the hypothesis.
type WMethodOracle struct {
	Oracle MembershipOracle
	Depth  int
}

// FindCounterExample implements EquivalenceOracle.
func (o *WMethodOracle) FindCounterExample(ctx context.Context, hyp *mealy.Machine, alph *alphabet.Alphabet) (*Counterexample, error) {
	access := hyp.AccessSequences()
	w := CharacterizingSet(hyp)
	middles := wordsUpTo(alph.Words(), o.Depth+1)

	for _, s := range hyp.States() {
		base, ok := access[s]
		if !ok {
			continue
		}
		prefixes := [][]alphabet.Word{base}
		for _, a := range alph.Words() {
			prefixes = append(prefixes, concat(base, []alphabet.Word{a}))
		}
		for _, prefix := range prefixes {
			for _, mid := range middles {
				for _, suffix := range w {
					input := concat(prefix, mid, suffix)
					ce, err := check(ctx, o.Oracle, hyp, input, "wmethod")
					if err != nil || ce != nil {
						return ce, err
					}
				}
			}
		}
	}
	return nil, nil
}

// CharacterizingSet returns, for every pair of distinguishable reachable states, one
// shortest separating input, plus every single symbol.
func CharacterizingSet(hyp *mealy.Machine) [][]alphabet.Word {
	alph := hyp.Alphabet()
	var out [][]alphabet.Word
	seen := map[string]struct{}{}
	add := func(seq []alphabet.Word) {
		key := alphabet.SequenceKey(seq)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, seq)
	}
	for _, w := range alph.Words() {
		add([]alphabet.Word{w})
	}
	states := make([]mealy.StateID, 0)
	for s := range hyp.AccessSequences() {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	for i := range states {
		for j := i + 1; j < len(states); j++ {
			if seq, ok := Separate(hyp, states[i], states[j]); ok {
				add(seq)
			}
		}
	}
	return out
}

// Separate finds a shortest input on which s and t produce different outputs.
func Separate(m *mealy.Machine, s, t mealy.StateID) ([]alphabet.Word, bool) {
	return mealy.Distinguish(m, s, m, t)
}

// -- Vulnerability probes --

// VulnerabilityOracle probes the regions where the classifiers look for issues: from every
// state it sends each probe symbol followed by every symbol. Without probe symbols in the
// alphabet it falls back to every pair of symbols.
type VulnerabilityOracle struct {
	Oracle MembershipOracle
}

// FindCounterExample implements EquivalenceOracle.
func (o *VulnerabilityOracle) FindCounterExample(ctx context.Context, hyp *mealy.Machine, alph *alphabet.Alphabet) (*Counterexample, error) {
	words := alph.Words()
	var probes []alphabet.Word
	for _, w := range words {
		if w.Type.IsProbe() {
			probes = append(probes, w)
		}
	}
	if len(probes) == 0 {
		probes = words
	}
	access := hyp.AccessSequences()
	for _, s := range hyp.States() {
		prefix, ok := access[s]
		if !ok {
			continue
		}
		for _, p := range probes {
			for _, w := range words {
				ce, err := check(ctx, o.Oracle, hyp, concat(prefix, []alphabet.Word{p, w}), "vulnerability")
				if err != nil || ce != nil {
					return ce, err
				}
			}
		}
	}
	return nil, nil
}

// -- Chain --

// ChainOracle runs its stages in order and returns the first counterexample found.
type ChainOracle struct {
	Stages []EquivalenceOracle
}

// FindCounterExample implements EquivalenceOracle.
func (o *ChainOracle) FindCounterExample(ctx context.Context, hyp *mealy.Machine, alph *alphabet.Alphabet) (*Counterexample, error) {
	for _, stage := range o.Stages {
		if stage == nil {
			continue
		}
		ce, err := stage.FindCounterExample(ctx, hyp, alph)
		if err != nil || ce != nil {
			return ce, err
		}
	}
	return nil, nil
}

// -- helpers --

func within(alph *alphabet.Alphabet, seq []alphabet.Word) bool {
	for _, w := range seq {
		if !alph.Contains(w) {
			return false
		}
	}
	return true
}

func concat(parts ...[]alphabet.Word) []alphabet.Word {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]alphabet.Word, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// wordsUpTo enumerates all words of length < n, the empty word included.
func wordsUpTo(symbols []alphabet.Word, n int) [][]alphabet.Word {
	out := [][]alphabet.Word{{}}
	layer := [][]alphabet.Word{{}}
	for l := 1; l < n; l++ {
		var next [][]alphabet.Word
		for _, prefix := range layer {
			for _, w := range symbols {
				next = append(next, append(alphabet.Clone(prefix), w))
			}
		}
		out = append(out, next...)
		layer = next
	}
	return out
}

func isSeparator(r rune) bool { return r == ' ' || r == '\t' || r == ',' }
