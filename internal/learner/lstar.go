// internal/learner/lstar.go
package learner

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// ErrNotStarted is returned when a hypothesis is requested before Start.
var ErrNotStarted = errors.New("learner has not been started")

type row struct {
	prefix []alphabet.Word
	// cells maps a suffix key to the outputs of that suffix after prefix.
	cells map[string][]response.SulResponse
}

// LStar is an observation-table learner for Mealy machines. Counterexamples are processed
// by adding all of their suffixes to the distinguishing set, which keeps the short-prefix
// rows pairwise distinct and the table consistent by construction.
type LStar struct {
	alph   *alphabet.Alphabet
	oracle MembershipOracle
	logger *zap.Logger

	short    []string // keys of S in insertion order
	rows     map[string]*row
	suffixes [][]alphabet.Word
	suffixIn map[string]struct{}

	started bool
	queries int
}

// NewLStar creates a learner over alph.
func NewLStar(alph *alphabet.Alphabet, oracle MembershipOracle, logger *zap.Logger) *LStar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LStar{
		alph:     alph,
		oracle:   oracle,
		logger:   logger.With(zap.String("component", "lstar")),
		rows:     map[string]*row{},
		suffixIn: map[string]struct{}{},
	}
}

// Queries returns the number of membership queries issued.
func (l *LStar) Queries() int { return l.queries }

// Start initialises the table with the empty prefix and all single-symbol suffixes and
// closes it.
func (l *LStar) Start(ctx context.Context) error {
	l.addShort(nil)
	for _, w := range l.alph.Words() {
		l.addSuffix([]alphabet.Word{w})
	}
	l.started = true
	return l.stabilize(ctx)
}

// Refine incorporates a counterexample and closes the table again.
func (l *LStar) Refine(ctx context.Context, ce *Counterexample) error {
	if !l.started {
		return ErrNotStarted
	}
	for i := range ce.Input {
		l.addSuffix(ce.Input[i:])
	}
	return l.stabilize(ctx)
}

// States returns the current number of short prefixes.
func (l *LStar) States() int { return len(l.short) }

func (l *LStar) addShort(prefix []alphabet.Word) {
	key := alphabet.SequenceKey(prefix)
	for _, k := range l.short {
		if k == key {
			return
		}
	}
	l.short = append(l.short, key)
	l.ensureRow(prefix)
	for _, w := range l.alph.Words() {
		l.ensureRow(append(alphabet.Clone(prefix), w))
	}
}

func (l *LStar) ensureRow(prefix []alphabet.Word) *row {
	key := alphabet.SequenceKey(prefix)
	if r, ok := l.rows[key]; ok {
		return r
	}
	r := &row{prefix: alphabet.Clone(prefix), cells: map[string][]response.SulResponse{}}
	l.rows[key] = r
	return r
}

func (l *LStar) addSuffix(suffix []alphabet.Word) {
	key := alphabet.SequenceKey(suffix)
	if _, ok := l.suffixIn[key]; ok {
		return
	}
	l.suffixIn[key] = struct{}{}
	l.suffixes = append(l.suffixes, alphabet.Clone(suffix))
}

// fill answers every missing cell.
func (l *LStar) fill(ctx context.Context) error {
	for _, r := range l.orderedRows() {
		for _, e := range l.suffixes {
			ekey := alphabet.SequenceKey(e)
			if _, ok := r.cells[ekey]; ok {
				continue
			}
			input := append(alphabet.Clone(r.prefix), e...)
			out, err := l.oracle.Answer(ctx, input)
			if err != nil {
				return err
			}
			l.queries++
			r.cells[ekey] = append([]response.SulResponse(nil), out[len(r.prefix):]...)
		}
	}
	return nil
}

// orderedRows returns S rows followed by their one-symbol extensions, deterministically.
func (l *LStar) orderedRows() []*row {
	out := make([]*row, 0, len(l.short)*(1+l.alph.Size()))
	seen := map[string]struct{}{}
	push := func(prefix []alphabet.Word) {
		key := alphabet.SequenceKey(prefix)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, l.rows[key])
	}
	for _, k := range l.short {
		push(l.rows[k].prefix)
	}
	for _, k := range l.short {
		for _, w := range l.alph.Words() {
			push(append(alphabet.Clone(l.rows[k].prefix), w))
		}
	}
	return out
}

func (l *LStar) signature(r *row) string {
	var b strings.Builder
	for i, e := range l.suffixes {
		if i > 0 {
			b.WriteByte('#')
		}
		b.WriteString(response.SequenceKey(r.cells[alphabet.SequenceKey(e)]))
	}
	return b.String()
}

// stabilize fills the table and promotes unmatched extension rows until it is closed.
func (l *LStar) stabilize(ctx context.Context) error {
	for {
		if err := l.fill(ctx); err != nil {
			return err
		}
		known := map[string]struct{}{}
		for _, k := range l.short {
			known[l.signature(l.rows[k])] = struct{}{}
		}
		var promote []alphabet.Word
		found := false
		for _, k := range l.short {
			for _, w := range l.alph.Words() {
				ext := l.rows[alphabet.SequenceKey(append(alphabet.Clone(l.rows[k].prefix), w))]
				if _, ok := known[l.signature(ext)]; !ok {
					promote = ext.prefix
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return nil
		}
		l.logger.Debug("Table not closed, promoting row", zap.String("prefix", alphabet.Sequence(promote)))
		l.addShort(promote)
	}
}

// Hypothesis builds the machine described by the closed table.
func (l *LStar) Hypothesis() (*mealy.Machine, error) {
	if !l.started {
		return nil, ErrNotStarted
	}
	m := l.build()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// PartialHypothesis builds a machine from whatever the table holds. Transitions whose
// rows are incomplete are left dangling, so the result must be validated before use.
func (l *LStar) PartialHypothesis() *mealy.Machine {
	return l.build()
}

func (l *LStar) build() *mealy.Machine {
	m := mealy.New(l.alph)
	bySig := map[string]mealy.StateID{}
	stateOf := map[string]mealy.StateID{}
	for _, k := range l.short {
		r := l.rows[k]
		sig := l.signature(r)
		if _, dup := bySig[sig]; dup {
			continue
		}
		id := m.AddState("")
		bySig[sig] = id
		stateOf[k] = id
	}
	if len(l.short) == 0 {
		return m
	}

	for _, k := range l.short {
		from, ok := stateOf[k]
		if !ok {
			continue
		}
		prefix := l.rows[k].prefix
		for _, w := range l.alph.Words() {
			ext, ok := l.rows[alphabet.SequenceKey(append(alphabet.Clone(prefix), w))]
			if !ok || !l.complete(ext) {
				continue
			}
			cell := l.rows[k].cells[alphabet.SequenceKey([]alphabet.Word{w})]
			if len(cell) != 1 {
				continue
			}
			to, ok := bySig[l.signature(ext)]
			if !ok {
				continue
			}
			if err := m.SetTransition(from, w, to, cell[0]); err != nil {
				l.logger.Debug("Skipping hypothesis transition", zap.String("input", w.Key()), zap.Error(err))
			}
		}
	}
	return m
}

func (l *LStar) complete(r *row) bool {
	for _, e := range l.suffixes {
		if _, ok := r.cells[alphabet.SequenceKey(e)]; !ok {
			return false
		}
	}
	return true
}
