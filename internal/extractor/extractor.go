// internal/extractor/extractor.go
package extractor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/analysis"
	"github.com/xkilldash9x/stateprobe/internal/cache"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/learner"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/metrics"
	"github.com/xkilldash9x/stateprobe/internal/response"
	"github.com/xkilldash9x/stateprobe/internal/sul"
	"github.com/xkilldash9x/stateprobe/internal/timeout"
)

// errMaxRounds ends a learning attempt that keeps producing counterexamples.
var errMaxRounds = errors.New("maximum number of learning rounds reached")

// Analyzer classifies a learned machine.
type Analyzer interface {
	Analyze(ctx context.Context, m *mealy.Machine) *analysis.Report
}

// Result is the outcome of one extraction session. Machine is nil only when no clean
// hypothesis was ever produced.
type Result struct {
	SessionID string
	Alphabet  *alphabet.Alphabet
	Machine   *mealy.Machine
	// Complete is false when a limit or the round cap ended learning before convergence.
	Complete    bool
	Blacklisted bool
	// Abort holds the condition that ended an incomplete session.
	Abort  error
	Stats  Stats
	Report *analysis.Report
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithCache makes the extractor use an existing, possibly pre-filled cache.
func WithCache(c *cache.Cache) Option {
	return func(x *Extractor) { x.cache = c }
}

// WithTimeout shares a timeout controller across extractors.
func WithTimeout(h *timeout.Handler) Option {
	return func(x *Extractor) { x.handler = h }
}

// WithAnalyzer hands every salvaged or converged machine to a.
func WithAnalyzer(a Analyzer) Option {
	return func(x *Extractor) { x.analyzer = a }
}

// WithMetrics records session progress in m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(x *Extractor) { x.metrics = m }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(x *Extractor) { x.sessionID = id }
}

// Extractor learns the state machine of one target over one alphabet.
type Extractor struct {
	exec   sul.Executor
	alph   *alphabet.Alphabet
	cfg    config.Interface
	logger *zap.Logger

	cache     *cache.Cache
	handler   *timeout.Handler
	analyzer  Analyzer
	metrics   *metrics.Collectors
	sessionID string
}

// New creates an extractor. Without WithCache a fresh cache is built from the configured
// filter rules.
func New(exec sul.Executor, alph *alphabet.Alphabet, cfg config.Interface, logger *zap.Logger, opts ...Option) (*Extractor, error) {
	if exec == nil {
		return nil, errors.New("extractor requires an executor")
	}
	if alph == nil || alph.Size() == 0 {
		return nil, errors.New("extractor requires a non-empty alphabet")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	x := &Extractor{exec: exec, alph: alph, cfg: cfg}
	for _, opt := range opts {
		opt(x)
	}
	if x.sessionID == "" {
		x.sessionID = uuid.NewString()
	}
	x.logger = logger.Named("extractor").With(zap.String("session_id", x.sessionID))

	if x.cache == nil {
		filter, err := cache.NewFilter(cfg.Cache().ForbiddenAfter)
		if err != nil {
			return nil, fmt.Errorf("invalid cache filter: %w", err)
		}
		x.cache = cache.New(filter)
	}
	if x.handler == nil {
		tc := cfg.Timeout()
		x.handler = timeout.NewHandler(tc, timeout.NewShared(tc.Initial), logger)
	}
	return x, nil
}

// SessionID returns the id logged with every event of this extractor.
func (x *Extractor) SessionID() string { return x.sessionID }

// stack is the wrapped SUL pipeline of one session. Each layer keeps its own counters.
type stack struct {
	limit   *sul.LimitSUL
	timing  *sul.TimingSUL
	counter *sul.CounterSUL
	live    *sul.ResetCounterSUL
	cursor  *cache.SUL
	outer   *sul.ResetCounterSUL
}

func (x *Extractor) buildStack() *stack {
	st := &stack{}
	base := sul.NewExecutorSUL(x.exec, x.cfg.SUL(), x.handler.Shared(), x.logger)
	st.limit = sul.NewLimitSUL(base, x.cfg.Limits())
	st.timing = sul.NewTimingSUL(st.limit)
	st.counter = sul.NewCounterSUL(st.timing)
	st.live = sul.NewResetCounterSUL(st.counter)
	st.cursor = cache.NewSUL(x.cache, st.live,
		cache.WithConfirmation(x.cfg.Cache().ConfirmDivisor, x.cfg.Cache().Seed),
		cache.WithLogger(x.logger))
	st.outer = sul.NewResetCounterSUL(st.cursor)
	return st
}

// observingOracle answers membership queries through the stack and reports one anomaly
// flag per query to the timeout handler.
type observingOracle struct {
	x  *Extractor
	st *stack
}

func (o *observingOracle) Answer(ctx context.Context, input []alphabet.Word) ([]response.SulResponse, error) {
	before := o.st.live.Resets()
	out, err := sul.Query(ctx, o.st.outer, input)

	anomalous := errors.Is(err, cache.ErrConflict)
	for _, r := range out {
		if r.IsError() {
			anomalous = true
			break
		}
	}
	if o.x.handler.Observe(anomalous) {
		o.x.logger.Info("Query timeout increased", zap.Int64("timeout_ms", o.x.handler.Shared().Get().Milliseconds()))
		o.x.metrics.Timeout(o.x.sessionID, o.x.handler.Shared().Get(), true)
	}
	o.x.metrics.Query(o.st.live.Resets() == before)
	return out, err
}

// chain assembles happy flow, the configured strategy and the vulnerability probes.
func (x *Extractor) chain(oracle learner.MembershipOracle) learner.EquivalenceOracle {
	lc := x.cfg.Learner()
	var general learner.EquivalenceOracle
	switch lc.Equivalence {
	case "wmethod":
		general = &learner.WMethodOracle{Oracle: oracle, Depth: lc.WMethodDepth}
	default:
		general = &learner.RandomWordsOracle{
			Oracle:    oracle,
			Count:     lc.RandomWords,
			MinLength: lc.RandomMinLength,
			MaxLength: lc.RandomMaxLength,
			Rand:      rand.New(rand.NewSource(lc.Seed)),
		}
	}
	return &learner.ChainOracle{Stages: []learner.EquivalenceOracle{
		&learner.HappyFlowOracle{Oracle: oracle, Flows: learner.ParseFlows(x.alph, lc.HappyFlows)},
		general,
		&learner.VulnerabilityOracle{Oracle: oracle},
	}}
}

// attempt tracks one learning run between restarts.
type attempt struct {
	lstar      *learner.LStar
	lastClean  *mealy.Machine
	hypotheses int
}

// Extract runs the learning session to convergence or until a limit ends it. Only context
// cancellation and unexpected failures are returned as errors; limits produce an incomplete
// Result.
func (x *Extractor) Extract(ctx context.Context) (*Result, error) {
	started := time.Now()
	st := x.buildStack()
	oracle := &observingOracle{x: x, st: st}
	eq := x.chain(oracle)
	lc := x.cfg.Learner()
	timeoutBefore := x.handler.Stats()
	cacheBefore := x.cache.Size()

	res := &Result{SessionID: x.sessionID, Alphabet: x.alph}
	x.logger.Info("Starting extraction",
		zap.Int("alphabet_size", x.alph.Size()),
		zap.Int("cached_paths", cacheBefore),
		zap.Int64("timeout_ms", x.handler.Shared().Get().Milliseconds()))

	var (
		conflicts  int
		restarts   int
		hypotheses int
		lastClean  *mealy.Machine
	)

	for {
		at := &attempt{lstar: learner.NewLStar(x.alph, oracle, x.logger)}
		hyp, err := x.learn(ctx, at, eq, lc.MaxRounds)
		hypotheses += at.hypotheses
		if at.lastClean != nil {
			lastClean = at.lastClean
		}
		if err == nil {
			res.Machine = hyp
			res.Complete = true
			break
		}

		var conflict *cache.ConflictError
		switch {
		case errors.As(err, &conflict):
			conflicts++
			x.metrics.Conflict()
			if restarts >= lc.MaxConflictRestarts {
				x.logger.Warn("Conflict restart limit reached", zap.Int("restarts", restarts))
				res.Abort = fmt.Errorf("giving up after %d conflict restarts: %w", restarts, err)
				res.Machine = salvage(lastClean, at.lstar)
				break
			}
			if verr := x.resolveConflict(ctx, st, conflict); verr != nil {
				if !errors.Is(verr, sul.ErrLimitExceeded) {
					return nil, verr
				}
				x.abortOnLimit(res, verr, lastClean, at.lstar)
				break
			}
			restarts++
			x.metrics.Restart()
			continue
		case errors.Is(err, sul.ErrLimitExceeded):
			x.abortOnLimit(res, err, lastClean, at.lstar)
		case errors.Is(err, errMaxRounds):
			x.logger.Warn("Learning did not converge", zap.Int("round", lc.MaxRounds))
			res.Abort = err
			res.Machine = salvage(lastClean, at.lstar)
		default:
			return nil, fmt.Errorf("learning failed: %w", err)
		}
		break
	}

	res.Stats = Stats{
		Queries:          st.outer.Resets(),
		LiveQueries:      st.live.Resets(),
		LiveSteps:        st.counter.Steps(),
		CachedSteps:      st.cursor.Stats().Hits,
		HintedSteps:      st.counter.Hinted(),
		Confirmations:    st.cursor.Stats().Confirmations,
		LiveDuration:     st.timing.Duration(),
		Elapsed:          time.Since(started),
		Hypotheses:       hypotheses,
		Conflicts:        conflicts,
		Restarts:         restarts,
		TimeoutIncreases: x.handler.Stats().Increases - timeoutBefore.Increases,
		FinalTimeout:     x.handler.Shared().Get(),
		CacheGrowth:      x.cache.Size() - cacheBefore,
	}
	if res.Machine != nil {
		res.Stats.States = res.Machine.Size()
	}

	outcome := "complete"
	switch {
	case res.Blacklisted:
		outcome = "blacklisted"
	case !res.Complete:
		outcome = "incomplete"
	}
	x.metrics.SessionDone(outcome, res.Stats.Elapsed)
	x.logger.Info("Extraction finished",
		zap.String("outcome", outcome),
		zap.Int("states", res.Stats.States),
		zap.Int("hypotheses", hypotheses),
		zap.Int("conflicts", conflicts),
		zap.Int64("queries", res.Stats.Queries),
		zap.Int64("live_queries", res.Stats.LiveQueries),
		zap.Int64("timeout_ms", res.Stats.FinalTimeout.Milliseconds()))

	if res.Machine != nil && x.analyzer != nil {
		res.Report = x.analyzer.Analyze(ctx, res.Machine)
		if res.Report != nil {
			for _, issue := range res.Report.Issues {
				x.metrics.Finding(string(issue.Category))
			}
		}
	}
	return res, nil
}

// learn runs hypothesis/counterexample rounds until the chain finds nothing.
func (x *Extractor) learn(ctx context.Context, at *attempt, eq learner.EquivalenceOracle, maxRounds int) (*mealy.Machine, error) {
	if err := at.lstar.Start(ctx); err != nil {
		return nil, err
	}
	for round := 1; maxRounds <= 0 || round <= maxRounds; round++ {
		hyp, err := at.lstar.Hypothesis()
		if err != nil {
			return nil, err
		}
		at.lastClean = hyp
		at.hypotheses++
		x.metrics.Hypothesis(x.sessionID, hyp.Size())
		x.logger.Debug("Hypothesis ready", zap.Int("round", round), zap.Int("states", hyp.Size()))

		ce, err := eq.FindCounterExample(ctx, hyp, x.alph)
		if err != nil {
			return nil, err
		}
		if ce == nil {
			return hyp, nil
		}
		x.logger.Debug("Counterexample found",
			zap.String("source", ce.Source),
			zap.String("input", alphabet.Sequence(ce.Input)))
		if err := at.lstar.Refine(ctx, ce); err != nil {
			return nil, err
		}
	}
	return nil, errMaxRounds
}

func (x *Extractor) abortOnLimit(res *Result, err error, lastClean *mealy.Machine, l *learner.LStar) {
	res.Abort = err
	res.Blacklisted = errors.Is(err, sul.ErrProbablyBlacklisted)
	res.Machine = salvage(lastClean, l)
	x.logger.Warn("Learning aborted by limit",
		zap.Error(err),
		zap.Bool("blacklisted", res.Blacklisted),
		zap.Bool("salvaged", res.Machine != nil))
}

// salvage returns the last hypothesis without dangling transitions, if any.
func salvage(lastClean *mealy.Machine, l *learner.LStar) *mealy.Machine {
	if lastClean != nil {
		return lastClean
	}
	if l == nil {
		return nil
	}
	if partial := l.PartialHypothesis(); partial.Size() > 0 && partial.Validate() == nil {
		return partial
	}
	return nil
}
