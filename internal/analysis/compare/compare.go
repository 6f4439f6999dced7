// Package compare measures how alike learned machines are.
package compare

import (
	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
)

// Result describes one pairwise comparison.
type Result struct {
	Left  string `json:"left" yaml:"left"`
	Right string `json:"right" yaml:"right"`
	// Isomorphic holds when both machines have the same alphabet and are identical up to
	// state renaming.
	Isomorphic bool `json:"isomorphic" yaml:"isomorphic"`
	// Similarity is the share of product transitions over the common words whose outputs
	// agree, in [0, 1].
	Similarity float64 `json:"similarity" yaml:"similarity"`
	// Witness is a shortest input over the common words on which the machines differ.
	Witness     []alphabet.Word `json:"witness,omitempty" yaml:"witness,omitempty"`
	CommonWords int             `json:"common_words" yaml:"common_words"`
	Similar     bool            `json:"similar" yaml:"similar"`
}

// Comparator compares machines structurally. Threshold decides Result.Similar.
type Comparator struct {
	Threshold float64
}

// Compare runs both machines in lockstep over the words they share.
func (c Comparator) Compare(a, b *mealy.Machine) Result {
	var common []alphabet.Word
	for _, w := range a.Alphabet().Words() {
		if b.Alphabet().Contains(w) {
			common = append(common, w)
		}
	}
	res := Result{
		Isomorphic:  a.Isomorphic(b),
		CommonWords: len(common),
	}

	type pair struct{ s, t mealy.StateID }
	type entry struct {
		p    pair
		path []alphabet.Word
	}
	start := pair{a.Initial(), b.Initial()}
	seen := map[pair]struct{}{start: {}}
	queue := []entry{{p: start}}
	total, agree := 0, 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, w := range common {
			t1, ok1 := a.Transition(cur.p.s, w)
			t2, ok2 := b.Transition(cur.p.t, w)
			if !ok1 || !ok2 {
				continue
			}
			total++
			path := append(alphabet.Clone(cur.path), w)
			if t1.Output.Equal(t2.Output) {
				agree++
			} else if res.Witness == nil {
				res.Witness = path
			}
			next := pair{t1.Target, t2.Target}
			if _, dup := seen[next]; dup {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, entry{p: next, path: path})
		}
	}
	if total > 0 {
		res.Similarity = float64(agree) / float64(total)
	}
	res.Similar = res.Similarity >= c.Threshold
	return res
}
