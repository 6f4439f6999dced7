// internal/learner/oracle.go
package learner

import (
	"context"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/response"
	"github.com/xkilldash9x/stateprobe/internal/sul"
)

// MembershipOracle answers output queries. Errors must only be returned for conditions that
// have to unwind learning (conflicts, limits, cancellation).
type MembershipOracle interface {
	Answer(ctx context.Context, input []alphabet.Word) ([]response.SulResponse, error)
}

// OracleFunc adapts a function to MembershipOracle.
type OracleFunc func(ctx context.Context, input []alphabet.Word) ([]response.SulResponse, error)

// Answer implements MembershipOracle.
func (f OracleFunc) Answer(ctx context.Context, input []alphabet.Word) ([]response.SulResponse, error) {
	return f(ctx, input)
}

// SULOracle answers every query with one Pre/Step.../Post bracket on a SUL.
type SULOracle struct {
	SUL sul.SUL
}

// Answer implements MembershipOracle.
func (o SULOracle) Answer(ctx context.Context, input []alphabet.Word) ([]response.SulResponse, error) {
	return sul.Query(ctx, o.SUL, input)
}

// Counterexample is an input on which the hypothesis and the SUL disagree, truncated after
// the first differing output.
type Counterexample struct {
	Input  []alphabet.Word
	Output []response.SulResponse
	// Source names the equivalence stage that found it.
	Source string
}

// EquivalenceOracle searches for a counterexample to a hypothesis. A nil counterexample
// means none was found.
type EquivalenceOracle interface {
	FindCounterExample(ctx context.Context, hyp *mealy.Machine, alph *alphabet.Alphabet) (*Counterexample, error)
}

// check asks the oracle for input and compares against the hypothesis.
func check(ctx context.Context, mo MembershipOracle, hyp *mealy.Machine, input []alphabet.Word, source string) (*Counterexample, error) {
	if len(input) == 0 {
		return nil, nil
	}
	got, err := mo.Answer(ctx, input)
	if err != nil {
		return nil, err
	}
	_, want, _ := hyp.Run(input)
	for i := range got {
		if i >= len(want) || !got[i].Equal(want[i]) {
			return &Counterexample{
				Input:  alphabet.Clone(input[:i+1]),
				Output: append([]response.SulResponse(nil), got[:i+1]...),
				Source: source,
			}, nil
		}
	}
	return nil, nil
}
