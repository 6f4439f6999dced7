// Package util holds stateless queries over learned machines shared by the classifiers.
package util

import (
	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// IsSelfLoop reports whether w leaves s unchanged.
func IsSelfLoop(m *mealy.Machine, s mealy.StateID, w alphabet.Word) bool {
	t, ok := m.Transition(s, w)
	return ok && t.Target == s
}

// IsErrorState reports whether s is a trap the peer has given up in: every input other
// than a reset loops back with a closed socket or with alerts only. A live socket that
// stays silent is a waiting state, not an error. The dummy state is
// never an error state.
func IsErrorState(m *mealy.Machine, s mealy.StateID) bool {
	nonReset := 0
	for _, w := range m.Alphabet().Words() {
		if w.IsReset() {
			continue
		}
		t, ok := m.Transition(s, w)
		if !ok || t.Target != s || t.Output.IllegalTransition {
			return false
		}
		if !isTerminalOutput(t.Output) {
			return false
		}
		nonReset++
	}
	return nonReset > 0
}

func isTerminalOutput(r response.SulResponse) bool {
	if r.Fingerprint.SocketState.IsClosed() {
		return true
	}
	if len(r.Fingerprint.Messages) == 0 {
		return false
	}
	for _, msg := range r.Fingerprint.Messages {
		if msg.Type != response.MsgAlert {
			return false
		}
	}
	return true
}

// DummyState returns the state collapsing illegal learner transitions: the first state
// whose every output is flagged illegal.
func DummyState(m *mealy.Machine) (mealy.StateID, bool) {
next:
	for _, s := range m.States() {
		defined := 0
		for _, w := range m.Alphabet().Words() {
			t, ok := m.Transition(s, w)
			if !ok {
				continue
			}
			if !t.Output.IllegalTransition {
				continue next
			}
			defined++
		}
		if defined > 0 {
			return s, true
		}
	}
	return mealy.Undefined, false
}

// FindPath searches breadth-first for a shortest input leading from `from` to a state
// accepted by accept. Only transitions admitted by allow are followed; a nil allow admits
// all. The empty path is returned when from itself is accepted.
func FindPath(m *mealy.Machine, from mealy.StateID, accept func(mealy.StateID) bool, allow func(mealy.StateID, alphabet.Word) bool) ([]alphabet.Word, bool) {
	if accept(from) {
		return []alphabet.Word{}, true
	}
	type entry struct {
		state mealy.StateID
		path  []alphabet.Word
	}
	seen := map[mealy.StateID]struct{}{from: {}}
	queue := []entry{{state: from}}
	words := m.Alphabet().Words()
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, w := range words {
			if allow != nil && !allow(cur.state, w) {
				continue
			}
			t, ok := m.Transition(cur.state, w)
			if !ok {
				continue
			}
			if _, dup := seen[t.Target]; dup {
				continue
			}
			path := append(alphabet.Clone(cur.path), w)
			if accept(t.Target) {
				return path, true
			}
			seen[t.Target] = struct{}{}
			queue = append(queue, entry{state: t.Target, path: path})
		}
	}
	return nil, false
}

// ReachableStates lists the states reachable from `from` in breadth-first order, from
// included.
func ReachableStates(m *mealy.Machine, from mealy.StateID) []mealy.StateID {
	seen := map[mealy.StateID]struct{}{from: {}}
	order := []mealy.StateID{from}
	for i := 0; i < len(order); i++ {
		for _, w := range m.Alphabet().Words() {
			t, ok := m.Transition(order[i], w)
			if !ok {
				continue
			}
			if _, dup := seen[t.Target]; dup {
				continue
			}
			seen[t.Target] = struct{}{}
			order = append(order, t.Target)
		}
	}
	return order
}

// Equivalent reports whether a and b produce identical outputs for every input sequence.
func Equivalent(m *mealy.Machine, a, b mealy.StateID) bool {
	if a == b {
		return true
	}
	_, differ := mealy.Distinguish(m, a, m, b)
	return !differ
}

// ResetWord returns the reset symbol of the machine's alphabet, if it has one.
func ResetWord(m *mealy.Machine) (alphabet.Word, bool) {
	return m.Alphabet().Reset()
}
