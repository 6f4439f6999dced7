// Package mealytest builds small hand-written machines for tests.
package mealytest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// Common test symbols.
var (
	A     = alphabet.New(alphabet.TypeGeneric, "A")
	B     = alphabet.New(alphabet.TypeGeneric, "B")
	Reset = alphabet.Reset()
)

// Builder assembles a machine by state and word names.
type Builder struct {
	t     testing.TB
	m     *mealy.Machine
	ids   map[string]mealy.StateID
	words map[string]alphabet.Word
}

// New starts a machine over the given words. The first state mentioned becomes initial.
func New(t testing.TB, words ...alphabet.Word) *Builder {
	t.Helper()
	b := &Builder{
		t:     t,
		m:     mealy.New(alphabet.NewAlphabet(words...)),
		ids:   map[string]mealy.StateID{},
		words: map[string]alphabet.Word{},
	}
	for _, w := range words {
		b.words[w.Name] = w
	}
	return b
}

// State returns the handle of the named state, creating it on first use.
func (b *Builder) State(name string) mealy.StateID {
	if id, ok := b.ids[name]; ok {
		return id
	}
	id := b.m.AddState(name)
	b.ids[name] = id
	return id
}

// T adds the transition from --word/out--> to.
func (b *Builder) T(from, word, to string, out response.SulResponse) *Builder {
	b.t.Helper()
	w, ok := b.words[word]
	require.True(b.t, ok, "unknown word %s", word)
	require.NoError(b.t, b.m.SetTransition(b.State(from), w, b.State(to), out))
	return b
}

// Loop makes every listed word a self loop of state with the given output.
func (b *Builder) Loop(state string, out response.SulResponse, words ...string) *Builder {
	b.t.Helper()
	for _, w := range words {
		b.T(state, w, state, out)
	}
	return b
}

// Build validates and returns the machine.
func (b *Builder) Build() *mealy.Machine {
	b.t.Helper()
	require.NoError(b.t, b.m.Validate())
	return b.m
}

// Partial returns the machine without validating it.
func (b *Builder) Partial() *mealy.Machine { return b.m }

// Word returns a word by name.
func (b *Builder) Word(name string) alphabet.Word { return b.words[name] }

// -- canned outputs --

var (
	ServerHello = response.Of(response.SocketUp, response.MsgServerHello)
	Finished    = response.Of(response.SocketUp, response.MsgFinished)
	Alert       = response.Of(response.SocketUp, response.MsgAlert)
	Silent      = response.Of(response.SocketUp)
	Closed      = response.ClosedResponse()
)

// ThreeState is the minimal 3-state machine over {A, B}:
//
//	s0 -A/ServerHello-> s1, s0 -B/Silent-> s0
//	s1 -A/Alert-> s2,       s1 -B/Finished-> s0
//	s2 is a closed sink.
func ThreeState(t testing.TB) *mealy.Machine {
	t.Helper()
	return New(t, A, B).
		T("s0", "A", "s1", ServerHello).
		T("s0", "B", "s0", Silent).
		T("s1", "A", "s2", Alert).
		T("s1", "B", "s0", Finished).
		Loop("s2", Closed, "A", "B").
		Build()
}

// ResetTrap is the machine over {A, B, RESET} whose only correct flow is "A B":
//
//	s0 -A/ServerHello-> s1 -B/Finished-> s0
//	s0 -B/Alert-> err, err loops on A and B with a closed socket
//	RESET leads back to s0 from everywhere.
func ResetTrap(t testing.TB) *mealy.Machine {
	t.Helper()
	return New(t, A, B, Reset).
		T("s0", "A", "s1", ServerHello).
		T("s1", "B", "s0", Finished).
		T("s0", "B", "err", Alert).
		T("s1", "A", "err", Alert).
		Loop("err", Closed, "A", "B").
		T("s0", "RESET", "s0", Silent).
		T("s1", "RESET", "s0", Silent).
		T("err", "RESET", "s0", Silent).
		Build()
}
