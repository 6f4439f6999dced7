// internal/mealy/distinguish.go
package mealy

import "github.com/xkilldash9x/stateprobe/internal/alphabet"

// Distinguish searches the product of m1 and m2 breadth-first for a shortest input on which
// state s of m1 and state t of m2 produce different outputs. Inputs are drawn from m1's
// alphabet; a transition defined on only one side counts as a difference.
func Distinguish(m1 *Machine, s StateID, m2 *Machine, t StateID) ([]alphabet.Word, bool) {
	type pair struct{ a, b StateID }
	type entry struct {
		p    pair
		path []alphabet.Word
	}
	start := pair{s, t}
	visited := map[pair]struct{}{start: {}}
	queue := []entry{{p: start}}
	words := m1.Alphabet().Words()
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, w := range words {
			t1, ok1 := m1.Transition(cur.p.a, w)
			t2, ok2 := m2.Transition(cur.p.b, w)
			if ok1 != ok2 || (ok1 && !t1.Output.Equal(t2.Output)) {
				return append(alphabet.Clone(cur.path), w), true
			}
			if !ok1 {
				continue
			}
			next := pair{t1.Target, t2.Target}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, entry{p: next, path: append(alphabet.Clone(cur.path), w)})
		}
	}
	return nil, false
}
