package learner

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/mealy/mealytest"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// modelOracle answers straight from a machine and counts queries.
type modelOracle struct {
	m       *mealy.Machine
	queries int
	failAt  int
}

func (o *modelOracle) Answer(_ context.Context, input []alphabet.Word) ([]response.SulResponse, error) {
	o.queries++
	if o.failAt > 0 && o.queries >= o.failAt {
		return nil, errors.New("limit reached")
	}
	_, out, _ := o.m.Run(input)
	return out, nil
}

// counterMachine only reveals its third state after three consecutive A symbols.
func counterMachine(t *testing.T) *mealy.Machine {
	x := mealytest.Silent
	y := mealytest.Alert
	return mealytest.New(t, mealytest.A, mealytest.B).
		T("c0", "A", "c1", x).
		T("c1", "A", "c2", x).
		T("c2", "A", "c0", y).
		Loop("c0", x, "B").
		T("c1", "B", "c0", x).
		T("c2", "B", "c0", x).
		Build()
}

func learn(t *testing.T, target *mealy.Machine, eq func(MembershipOracle) EquivalenceOracle) (*mealy.Machine, int) {
	t.Helper()
	ctx := context.Background()
	oracle := &modelOracle{m: target}
	l := NewLStar(target.Alphabet(), oracle, zap.NewNop())
	require.NoError(t, l.Start(ctx))

	eqOracle := eq(oracle)
	for round := 1; round <= 20; round++ {
		hyp, err := l.Hypothesis()
		require.NoError(t, err)
		ce, err := eqOracle.FindCounterExample(ctx, hyp, target.Alphabet())
		require.NoError(t, err)
		if ce == nil {
			return hyp, round
		}
		require.NoError(t, l.Refine(ctx, ce))
	}
	t.Fatal("learning did not converge")
	return nil, 0
}

func TestLStar_LearnsThreeStateMachine(t *testing.T) {
	target := mealytest.ThreeState(t)
	hyp, _ := learn(t, target, func(o MembershipOracle) EquivalenceOracle {
		return &WMethodOracle{Oracle: o, Depth: 1}
	})
	assert.Equal(t, 3, hyp.Size())
	assert.True(t, target.Isomorphic(hyp))
}

func TestLStar_RefinesOnCounterexample(t *testing.T) {
	target := counterMachine(t)
	ctx := context.Background()
	oracle := &modelOracle{m: target}
	l := NewLStar(target.Alphabet(), oracle, zap.NewNop())
	require.NoError(t, l.Start(ctx))

	first, err := l.Hypothesis()
	require.NoError(t, err)
	require.Equal(t, 1, first.Size(), "single-symbol suffixes cannot tell the counter states apart")

	ce := &Counterexample{Input: []alphabet.Word{mealytest.A, mealytest.A, mealytest.A}}
	require.NoError(t, l.Refine(ctx, ce))
	second, err := l.Hypothesis()
	require.NoError(t, err)
	assert.True(t, target.Isomorphic(second))
	assert.Positive(t, l.Queries())
}

func TestLStar_ConvergesWithRandomWords(t *testing.T) {
	target := counterMachine(t)
	hyp, rounds := learn(t, target, func(o MembershipOracle) EquivalenceOracle {
		return &RandomWordsOracle{Oracle: o, Count: 200, MinLength: 2, MaxLength: 6, Rand: rand.New(rand.NewSource(5))}
	})
	assert.True(t, target.Isomorphic(hyp))
	assert.GreaterOrEqual(t, rounds, 2)
}

func TestLStar_PartialHypothesisAfterAbort(t *testing.T) {
	target := mealytest.ThreeState(t)
	oracle := &modelOracle{m: target, failAt: 4}
	l := NewLStar(target.Alphabet(), oracle, zap.NewNop())

	err := l.Start(context.Background())
	require.Error(t, err)
	partial := l.PartialHypothesis()
	assert.ErrorIs(t, partial.Validate(), mealy.ErrBrokenHypothesis)

	_, err = NewLStar(target.Alphabet(), oracle, nil).Hypothesis()
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestChainOracle_PriorityOrder(t *testing.T) {
	target := counterMachine(t)
	oracle := &modelOracle{m: target}
	// A one-state hypothesis that is wrong after AAA.
	hyp := mealytest.New(t, mealytest.A, mealytest.B).
		Loop("h", mealytest.Silent, "A", "B").
		Build()

	flows := ParseFlows(target.Alphabet(), []string{"A A A", "A UNKNOWN"})
	require.Len(t, flows, 1)

	chain := &ChainOracle{Stages: []EquivalenceOracle{
		&HappyFlowOracle{Oracle: oracle, Flows: flows},
		&WMethodOracle{Oracle: oracle, Depth: 2},
	}}
	ce, err := chain.FindCounterExample(context.Background(), hyp, target.Alphabet())
	require.NoError(t, err)
	require.NotNil(t, ce)
	assert.Equal(t, "happy_flow", ce.Source)
	assert.Len(t, ce.Input, 3)
	assert.True(t, ce.Output[2].Equal(mealytest.Alert))

	correct, _ := learn(t, target, func(o MembershipOracle) EquivalenceOracle {
		return &WMethodOracle{Oracle: o, Depth: 1}
	})
	full := &ChainOracle{Stages: []EquivalenceOracle{
		&HappyFlowOracle{Oracle: oracle, Flows: flows},
		&VulnerabilityOracle{Oracle: oracle},
		nil,
	}}
	ce, err = full.FindCounterExample(context.Background(), correct, target.Alphabet())
	require.NoError(t, err)
	assert.Nil(t, ce)
}

func TestChainOracle_PropagatesErrors(t *testing.T) {
	target := mealytest.ThreeState(t)
	failing := OracleFunc(func(context.Context, []alphabet.Word) ([]response.SulResponse, error) {
		return nil, context.Canceled
	})
	chain := &ChainOracle{Stages: []EquivalenceOracle{&VulnerabilityOracle{Oracle: failing}}}
	_, err := chain.FindCounterExample(context.Background(), target, target.Alphabet())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSeparateAndCharacterizingSet(t *testing.T) {
	m := counterMachine(t)
	seq, ok := Separate(m, 0, 1)
	require.True(t, ok)
	assert.Len(t, seq, 2, "c0 and c1 differ first on AA")

	_, ok = Separate(m, 2, 2)
	assert.False(t, ok)

	w := CharacterizingSet(m)
	assert.GreaterOrEqual(t, len(w), 3)
	for _, s := range []mealy.StateID{0, 1, 2} {
		for _, u := range []mealy.StateID{0, 1, 2} {
			if s == u {
				continue
			}
			distinguished := false
			for _, suffix := range w {
				_, o1, _ := m.RunFrom(s, suffix)
				_, o2, _ := m.RunFrom(u, suffix)
				if !response.EqualSequences(o1, o2) {
					distinguished = true
					break
				}
			}
			assert.True(t, distinguished, "states %d and %d must be separated by W", s, u)
		}
	}

	_, differ := mealy.Distinguish(m, 0, m.Clone(), 0)
	assert.False(t, differ)
}

func TestWMethodOracle_TransitionCover(t *testing.T) {
	target := counterMachine(t)
	hyp := mealytest.New(t, mealytest.A, mealytest.B).
		Loop("h", mealytest.Silent, "A", "B").
		Build()

	tests := []struct {
		name  string
		depth int
		found bool
	}{
		// AA is the longest query at depth 0 and stays silent on the target.
		{name: "depth 0", depth: 0, found: false},
		// One middle symbol reaches AAA, which alerts in c2.
		{name: "depth 1", depth: 1, found: true},
		{name: "depth 2", depth: 2, found: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &modelOracle{m: target}
			ce, err := (&WMethodOracle{Oracle: oracle, Depth: tt.depth}).
				FindCounterExample(context.Background(), hyp, target.Alphabet())
			require.NoError(t, err)
			if !tt.found {
				assert.Nil(t, ce)
				return
			}
			require.NotNil(t, ce)
			assert.Equal(t, "wmethod", ce.Source)
			assert.LessOrEqual(t, len(ce.Input), 3+tt.depth-1)
		})
	}
}

func TestWMethodOracle_ChecksTransitionTargets(t *testing.T) {
	// A depth of zero still checks the state each transition leads to against W.
	target := mealytest.ThreeState(t)
	hyp, _ := learn(t, target, func(o MembershipOracle) EquivalenceOracle {
		return &WMethodOracle{Oracle: o, Depth: 0}
	})
	assert.True(t, target.Isomorphic(hyp))

	counter := counterMachine(t)
	learned, _ := learn(t, counter, func(o MembershipOracle) EquivalenceOracle {
		return &WMethodOracle{Oracle: o, Depth: 1}
	})
	assert.Equal(t, 3, learned.Size())
	assert.True(t, counter.Isomorphic(learned))
}
