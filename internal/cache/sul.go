// internal/cache/sul.go
package cache

import (
	"context"
	"math/rand"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/response"
	"github.com/xkilldash9x/stateprobe/internal/sul"
)

// Stats counts how the cursor answered steps.
type Stats struct {
	Hits          int64 // answered from the cache
	LiveSteps     int64 // forwarded to the live SUL, replays included
	Confirmations int64 // cached answers re-checked against the live SUL
}

// SUL is the cache-backed view of a live SUL. It walks the trie while the query stays on
// cached paths and opens the live SUL lazily. When it has to go live, the prefix walked so
// far is replayed and every replayed answer is compared against the cache.
//
// A SUL is a per-session cursor and is not safe for concurrent use; several cursors may
// share one Cache.
type SUL struct {
	cache  *Cache
	live   sul.SUL
	logger *zap.Logger

	divisor int
	rng     *rand.Rand

	path     []alphabet.Word
	outs     []response.SulResponse
	node     int
	gen      uint64
	liveOpen bool
	illegal  bool

	hits          atomic.Int64
	liveSteps     atomic.Int64
	confirmations atomic.Int64
}

// Option configures a cache SUL.
type Option func(*SUL)

// WithConfirmation re-checks cached responses without messages against the live SUL with
// probability 1/divisor. A divisor of 0 disables confirmation.
func WithConfirmation(divisor int, seed int64) Option {
	return func(s *SUL) {
		s.divisor = divisor
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *SUL) { s.logger = logger }
}

// NewSUL creates a cursor over c answering misses from live.
func NewSUL(c *Cache, live sul.SUL, opts ...Option) *SUL {
	s := &SUL{cache: c, live: live, logger: zap.NewNop(), rng: rand.New(rand.NewSource(1))}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "cache_sul"))
	return s
}

// Cache returns the shared store.
func (s *SUL) Cache() *Cache { return s.cache }

// Pre resets the cursor to the root. The live SUL is not touched.
func (s *SUL) Pre(_ context.Context) error {
	s.path = s.path[:0]
	s.outs = s.outs[:0]
	s.node = root
	s.gen = s.cache.Generation()
	s.liveOpen = false
	s.illegal = false
	return nil
}

// Post releases the live connection if one was opened for this query.
func (s *SUL) Post() error {
	if !s.liveOpen {
		return nil
	}
	s.liveOpen = false
	return s.live.Post()
}

// Step answers one symbol.
func (s *SUL) Step(ctx context.Context, w alphabet.Word) (response.SulResponse, error) {
	input := append(alphabet.Clone(s.path), w)

	// Nothing below an illegal transition is ever sent to the target.
	if s.illegal {
		return s.advance(w, s.node, response.IllegalLearnerTransition()), nil
	}
	if err := s.revalidate(); err != nil {
		return response.SulResponse{}, err
	}

	s.cache.mu.RLock()
	idx, cached := s.cache.child(s.node, w)
	var expected response.SulResponse
	if cached {
		expected = s.cache.nodes[idx].resp
	}
	s.cache.mu.RUnlock()

	if cached && !s.liveOpen {
		if !s.shouldConfirm(expected) {
			s.hits.Add(1)
			return s.advance(w, idx, expected), nil
		}
		s.confirmations.Add(1)
	}

	if !s.liveOpen {
		if err := s.openLive(ctx); err != nil {
			return response.SulResponse{}, err
		}
	}

	var hint *response.SulResponse
	if cached {
		hint = &expected
	}
	raw, err := sul.StepHinted(ctx, s.live, w, hint)
	if err != nil {
		return response.SulResponse{}, err
	}
	s.liveSteps.Add(1)
	observed := s.cache.filter.Next(input, s.outs, raw)

	if cached {
		if !expected.Equal(observed) {
			return response.SulResponse{}, s.conflict(input, expected, observed)
		}
		return s.advance(w, idx, expected), nil
	}

	idx, existing := s.cache.extend(s.node, w, observed)
	if existing != nil {
		return response.SulResponse{}, s.conflict(input, *existing, observed)
	}
	return s.advance(w, idx, observed), nil
}

func (s *SUL) advance(w alphabet.Word, idx int, r response.SulResponse) response.SulResponse {
	s.path = append(s.path, w)
	s.outs = append(s.outs, r)
	s.node = idx
	if r.IllegalTransition {
		s.illegal = true
	}
	return r
}

func (s *SUL) shouldConfirm(r response.SulResponse) bool {
	if s.divisor <= 0 || r.IllegalTransition || !r.Fingerprint.IsEmpty() {
		return false
	}
	return s.rng.Intn(s.divisor) == 0
}

// openLive opens the live SUL and replays the walked prefix, comparing every answer.
func (s *SUL) openLive(ctx context.Context) error {
	if err := s.live.Pre(ctx); err != nil {
		return err
	}
	s.liveOpen = true

	prior := make([]response.SulResponse, 0, len(s.path))
	for i, w := range s.path {
		expected := s.outs[i]
		raw, err := sul.StepHinted(ctx, s.live, w, &expected)
		if err != nil {
			return err
		}
		s.liveSteps.Add(1)
		observed := s.cache.filter.Next(s.path, prior, raw)
		if !observed.Equal(expected) {
			return s.conflict(alphabet.Clone(s.path[:i+1]), expected, observed)
		}
		prior = append(prior, observed)
	}
	return nil
}

// revalidate re-resolves the cursor after an overwrite changed the trie under it.
func (s *SUL) revalidate() error {
	gen := s.cache.Generation()
	if gen == s.gen {
		return nil
	}

	s.cache.mu.RLock()
	n := root
	matched := 0
	for i, w := range s.path {
		child, ok := s.cache.child(n, w)
		if !ok {
			break
		}
		if cur := s.cache.nodes[child].resp; !cur.Equal(s.outs[i]) {
			s.cache.mu.RUnlock()
			return s.conflict(alphabet.Clone(s.path[:i+1]), cur, s.outs[i])
		}
		n = child
		matched++
	}
	s.cache.mu.RUnlock()

	// The walked prefix was pruned; restore it from what this query observed.
	for i := matched; i < len(s.path); i++ {
		idx, existing := s.cache.extend(n, s.path[i], s.outs[i])
		if existing != nil {
			return s.conflict(alphabet.Clone(s.path[:i+1]), *existing, s.outs[i])
		}
		n = idx
	}
	s.node = n
	s.gen = gen
	return nil
}

func (s *SUL) conflict(input []alphabet.Word, expected, observed response.SulResponse) *ConflictError {
	s.logger.Debug("Cache conflict detected",
		zap.String("conflict_input", alphabet.Sequence(input)),
		zap.Stringer("expected", expected),
		zap.Stringer("observed", observed))
	return &ConflictError{Input: input, Expected: expected, Observed: observed}
}

// Stats returns the cursor counters.
func (s *SUL) Stats() Stats {
	return Stats{
		Hits:          s.hits.Load(),
		LiveSteps:     s.liveSteps.Load(),
		Confirmations: s.confirmations.Load(),
	}
}
