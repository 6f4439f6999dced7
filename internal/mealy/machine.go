// internal/mealy/machine.go
package mealy

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// StateID is a stable index into the machine's state arena. States carry no semantic
// content beyond identity; every per-state structure elsewhere is keyed by StateID.
type StateID int

// Undefined marks a dangling transition.
const Undefined StateID = -1

// ErrBrokenHypothesis is returned by Validate for machines with dangling transitions.
var ErrBrokenHypothesis = errors.New("machine contains undefined transitions")

// Transition is the (successor, output) pair of a (state, input) cell.
type Transition struct {
	Target StateID
	Output response.SulResponse
}

type stateRecord struct {
	label       string
	transitions []Transition
	defined     []bool
}

// Machine is a deterministic Mealy machine over a fixed alphabet.
type Machine struct {
	alphabet *alphabet.Alphabet
	initial  StateID
	states   []stateRecord
}

// New creates an empty machine over the given alphabet.
func New(alph *alphabet.Alphabet) *Machine {
	return &Machine{alphabet: alph, initial: Undefined}
}

// Alphabet returns the input alphabet.
func (m *Machine) Alphabet() *alphabet.Alphabet { return m.alphabet }

// AddState appends a new state and returns its handle. The first state added becomes
// the initial state unless SetInitial is called.
func (m *Machine) AddState(label string) StateID {
	n := m.alphabet.Size()
	id := StateID(len(m.states))
	rec := stateRecord{
		label:       label,
		transitions: make([]Transition, n),
		defined:     make([]bool, n),
	}
	for i := range rec.transitions {
		rec.transitions[i].Target = Undefined
	}
	m.states = append(m.states, rec)
	if m.initial == Undefined {
		m.initial = id
	}
	if label == "" {
		m.states[id].label = fmt.Sprintf("s%d", id)
	}
	return id
}

// SetInitial changes the initial state.
func (m *Machine) SetInitial(s StateID) { m.initial = s }

// Initial returns the initial state.
func (m *Machine) Initial() StateID { return m.initial }

// Size returns the number of states.
func (m *Machine) Size() int { return len(m.states) }

// States returns all state handles in creation order.
func (m *Machine) States() []StateID {
	out := make([]StateID, len(m.states))
	for i := range out {
		out[i] = StateID(i)
	}
	return out
}

// Label returns the state's display label.
func (m *Machine) Label(s StateID) string {
	if !m.valid(s) {
		return "undefined"
	}
	return m.states[s].label
}

func (m *Machine) valid(s StateID) bool {
	return s >= 0 && int(s) < len(m.states)
}

// SetTransition defines the cell (from, w).
func (m *Machine) SetTransition(from StateID, w alphabet.Word, to StateID, out response.SulResponse) error {
	if !m.valid(from) {
		return fmt.Errorf("unknown source state %d", from)
	}
	if to != Undefined && !m.valid(to) {
		return fmt.Errorf("unknown target state %d", to)
	}
	idx := m.alphabet.IndexOf(w)
	if idx < 0 {
		return fmt.Errorf("word %s is not part of the alphabet", w)
	}
	m.states[from].transitions[idx] = Transition{Target: to, Output: out}
	m.states[from].defined[idx] = to != Undefined
	return nil
}

// Transition returns the cell (s, w) if it is defined.
func (m *Machine) Transition(s StateID, w alphabet.Word) (Transition, bool) {
	if !m.valid(s) {
		return Transition{Target: Undefined}, false
	}
	idx := m.alphabet.IndexOf(w)
	if idx < 0 || !m.states[s].defined[idx] {
		return Transition{Target: Undefined}, false
	}
	return m.states[s].transitions[idx], true
}

// Successor returns the target of (s, w) or Undefined.
func (m *Machine) Successor(s StateID, w alphabet.Word) StateID {
	t, _ := m.Transition(s, w)
	return t.Target
}

// Output returns the output of (s, w).
func (m *Machine) Output(s StateID, w alphabet.Word) (response.SulResponse, bool) {
	t, ok := m.Transition(s, w)
	return t.Output, ok
}

// Run walks the input from the initial state. ok is false if a dangling transition
// was hit, in which case the outputs collected so far are returned.
func (m *Machine) Run(input []alphabet.Word) (StateID, []response.SulResponse, bool) {
	return m.RunFrom(m.initial, input)
}

// RunFrom walks the input from the given state.
func (m *Machine) RunFrom(s StateID, input []alphabet.Word) (StateID, []response.SulResponse, bool) {
	outs := make([]response.SulResponse, 0, len(input))
	cur := s
	for _, w := range input {
		t, ok := m.Transition(cur, w)
		if !ok {
			return Undefined, outs, false
		}
		outs = append(outs, t.Output)
		cur = t.Target
	}
	return cur, outs, true
}

// Validate checks that the machine is total over its alphabet.
func (m *Machine) Validate() error {
	if !m.valid(m.initial) {
		return fmt.Errorf("%w: no initial state", ErrBrokenHypothesis)
	}
	for s := range m.states {
		for i, ok := range m.states[s].defined {
			if !ok {
				return fmt.Errorf("%w: state %s has no transition for %s",
					ErrBrokenHypothesis, m.states[s].label, m.alphabet.At(i))
			}
		}
	}
	return nil
}

// AccessSequences returns, for every reachable state, the shortest input sequence
// reaching it (ties broken by alphabet order).
func (m *Machine) AccessSequences() map[StateID][]alphabet.Word {
	access := map[StateID][]alphabet.Word{m.initial: {}}
	queue := []StateID{m.initial}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, w := range m.alphabet.Words() {
			t, ok := m.Transition(s, w)
			if !ok {
				continue
			}
			if _, seen := access[t.Target]; seen {
				continue
			}
			seq := append(alphabet.Clone(access[s]), w)
			access[t.Target] = seq
			queue = append(queue, t.Target)
		}
	}
	return access
}

// Isomorphic reports whether both machines are identical up to state renaming over
// the reachable part. Alphabets must contain the same words.
func (m *Machine) Isomorphic(o *Machine) bool {
	if m.alphabet.Size() != o.alphabet.Size() {
		return false
	}
	for _, w := range m.alphabet.Words() {
		if !o.alphabet.Contains(w) {
			return false
		}
	}
	fwd := map[StateID]StateID{m.initial: o.initial}
	bwd := map[StateID]StateID{o.initial: m.initial}
	queue := []StateID{m.initial}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		os := fwd[s]
		for _, w := range m.alphabet.Words() {
			t1, ok1 := m.Transition(s, w)
			t2, ok2 := o.Transition(os, w)
			if ok1 != ok2 {
				return false
			}
			if !ok1 {
				continue
			}
			if !t1.Output.Equal(t2.Output) {
				return false
			}
			mapped, seen := fwd[t1.Target]
			if seen {
				if mapped != t2.Target {
					return false
				}
				continue
			}
			if _, taken := bwd[t2.Target]; taken {
				return false
			}
			fwd[t1.Target] = t2.Target
			bwd[t2.Target] = t1.Target
			queue = append(queue, t1.Target)
		}
	}
	return len(fwd) == len(o.reachable())
}

func (m *Machine) reachable() map[StateID]struct{} {
	seen := map[StateID]struct{}{}
	for s := range m.AccessSequences() {
		seen[s] = struct{}{}
	}
	return seen
}

// Clone returns a deep copy.
func (m *Machine) Clone() *Machine {
	c := &Machine{alphabet: m.alphabet, initial: m.initial, states: make([]stateRecord, len(m.states))}
	for i, rec := range m.states {
		c.states[i] = stateRecord{
			label:       rec.label,
			transitions: append([]Transition(nil), rec.transitions...),
			defined:     append([]bool(nil), rec.defined...),
		}
	}
	return c
}
