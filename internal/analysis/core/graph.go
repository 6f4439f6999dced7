package core

import (
	"sort"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/analysis/util"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
)

// StateDetails is the derived metadata of one learned state.
type StateDetails struct {
	Name         string          `json:"name,omitempty"`
	BenignInputs []alphabet.Word `json:"benign_inputs,omitempty"`
	Properties   []string        `json:"properties,omitempty"`
}

type transitionKey struct {
	state mealy.StateID
	word  string
}

// GraphDetails maps learned states to what the analysis derived about them. It is rebuilt
// for every machine, written by a single traversal and read-only afterwards; it is not
// safe for concurrent mutation.
type GraphDetails struct {
	machine *mealy.Machine

	states            map[mealy.StateID]*StateDetails
	benign            map[mealy.StateID]struct{}
	benignTransitions map[transitionKey]struct{}
	errorStates       map[mealy.StateID]struct{}
	finishStates      map[mealy.StateID]struct{}

	dummy          mealy.StateID
	hasDummy       bool
	benignComputed bool
}

// NewGraphDetails classifies error states and the dummy state of m up front.
func NewGraphDetails(m *mealy.Machine) *GraphDetails {
	d := &GraphDetails{
		machine:           m,
		states:            map[mealy.StateID]*StateDetails{},
		benign:            map[mealy.StateID]struct{}{},
		benignTransitions: map[transitionKey]struct{}{},
		errorStates:       map[mealy.StateID]struct{}{},
		finishStates:      map[mealy.StateID]struct{}{},
		dummy:             mealy.Undefined,
	}
	d.dummy, d.hasDummy = util.DummyState(m)
	for _, s := range m.States() {
		if util.IsErrorState(m, s) {
			d.errorStates[s] = struct{}{}
		}
	}
	return d
}

func (d *GraphDetails) details(s mealy.StateID) *StateDetails {
	sd, ok := d.states[s]
	if !ok {
		sd = &StateDetails{}
		d.states[s] = sd
	}
	return sd
}

// Name returns the assigned name, or the machine label when none was assigned.
func (d *GraphDetails) Name(s mealy.StateID) string {
	if sd, ok := d.states[s]; ok && sd.Name != "" {
		return sd.Name
	}
	return d.machine.Label(s)
}

// AssignedName returns the name set by the traversal, if any.
func (d *GraphDetails) AssignedName(s mealy.StateID) (string, bool) {
	sd, ok := d.states[s]
	if !ok || sd.Name == "" {
		return "", false
	}
	return sd.Name, true
}

func (d *GraphDetails) SetName(s mealy.StateID, name string) { d.details(s).Name = name }

// AddBenignTransition records w as a benign input of s and marks both ends benign.
func (d *GraphDetails) AddBenignTransition(s mealy.StateID, w alphabet.Word, target mealy.StateID) {
	key := transitionKey{s, w.Key()}
	if _, ok := d.benignTransitions[key]; ok {
		return
	}
	d.benignTransitions[key] = struct{}{}
	sd := d.details(s)
	sd.BenignInputs = append(sd.BenignInputs, w)
	d.benign[s] = struct{}{}
	d.benign[target] = struct{}{}
}

func (d *GraphDetails) IsBenignTransition(s mealy.StateID, w alphabet.Word) bool {
	_, ok := d.benignTransitions[transitionKey{s, w.Key()}]
	return ok
}

// BenignInputs returns the benign inputs of s in discovery order.
func (d *GraphDetails) BenignInputs(s mealy.StateID) []alphabet.Word {
	if sd, ok := d.states[s]; ok {
		return alphabet.Clone(sd.BenignInputs)
	}
	return nil
}

func (d *GraphDetails) MarkBenign(s mealy.StateID) { d.benign[s] = struct{}{} }

func (d *GraphDetails) IsBenign(s mealy.StateID) bool {
	_, ok := d.benign[s]
	return ok
}

// AddProperties merges context properties active when s is reached.
func (d *GraphDetails) AddProperties(s mealy.StateID, props ...string) {
	sd := d.details(s)
next:
	for _, p := range props {
		for _, have := range sd.Properties {
			if have == p {
				continue next
			}
		}
		sd.Properties = append(sd.Properties, p)
	}
}

func (d *GraphDetails) Properties(s mealy.StateID) []string {
	if sd, ok := d.states[s]; ok {
		return append([]string(nil), sd.Properties...)
	}
	return nil
}

func (d *GraphDetails) IsErrorState(s mealy.StateID) bool {
	_, ok := d.errorStates[s]
	return ok
}

// DummyState returns the synthetic illegal-transition state, if the machine has one.
func (d *GraphDetails) DummyState() (mealy.StateID, bool) { return d.dummy, d.hasDummy }

func (d *GraphDetails) IsDummy(s mealy.StateID) bool { return d.hasDummy && s == d.dummy }

func (d *GraphDetails) MarkFinish(s mealy.StateID) { d.finishStates[s] = struct{}{} }

func (d *GraphDetails) IsFinish(s mealy.StateID) bool {
	_, ok := d.finishStates[s]
	return ok
}

// SetBenignComputed marks the benign subgraph as available to dependent classifiers.
func (d *GraphDetails) SetBenignComputed() { d.benignComputed = true }

func (d *GraphDetails) BenignComputed() bool { return d.benignComputed }

func (d *GraphDetails) BenignStates() []mealy.StateID { return sorted(d.benign) }
func (d *GraphDetails) ErrorStates() []mealy.StateID { return sorted(d.errorStates) }
func (d *GraphDetails) FinishStates() []mealy.StateID { return sorted(d.finishStates) }

// Summary is the serializable view used by reports.
type Summary struct {
	States       map[string]StateDetails `json:"states"`
	ErrorStates  []string                `json:"error_states"`
	FinishStates []string                `json:"finish_states"`
	DummyState   string                  `json:"dummy_state,omitempty"`
}

// Summary renders the details keyed by state name.
func (d *GraphDetails) Summary() Summary {
	out := Summary{States: map[string]StateDetails{}}
	for s, sd := range d.states {
		out.States[d.Name(s)] = *sd
	}
	for _, s := range d.ErrorStates() {
		out.ErrorStates = append(out.ErrorStates, d.Name(s))
	}
	for _, s := range d.FinishStates() {
		out.FinishStates = append(out.FinishStates, d.Name(s))
	}
	if d.hasDummy {
		out.DummyState = d.Name(d.dummy)
	}
	return out
}

func sorted(set map[mealy.StateID]struct{}) []mealy.StateID {
	out := make([]mealy.StateID, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
