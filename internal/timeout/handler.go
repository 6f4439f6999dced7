// internal/timeout/handler.go
package timeout

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/config"
)

// Shared is the session-wide minimum timeout consumed by the SUL layer. It only ever grows.
type Shared struct {
	ms atomic.Int64
}

// NewShared creates a shared timeout with the given initial value.
func NewShared(initial time.Duration) *Shared {
	s := &Shared{}
	s.ms.Store(initial.Milliseconds())
	return s
}

// Get returns the current timeout.
func (s *Shared) Get() time.Duration {
	return time.Duration(s.ms.Load()) * time.Millisecond
}

// Increase raises the timeout by step, capped at max. It reports whether the value changed.
func (s *Shared) Increase(step, max time.Duration) bool {
	for {
		cur := s.ms.Load()
		next := cur + step.Milliseconds()
		if limit := max.Milliseconds(); next > limit {
			next = limit
		}
		if next <= cur {
			return false
		}
		if s.ms.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Policy selects how anomalies turn into increase suggestions.
type Policy string

const (
	// PolicyWindowed counts anomalies inside a sliding window of recent queries.
	PolicyWindowed Policy = "windowed"
	// PolicyRatio tracks the anomaly ratio since the last increase.
	PolicyRatio Policy = "ratio"
)

// Stats is a snapshot of the handler counters.
type Stats struct {
	Observations int
	Anomalies    int
	Suggestions  int
	Increases    int
	Current      time.Duration
}

// Handler decides from a stream of per-query anomaly flags when the shared timeout should
// grow. All methods are safe for concurrent use.
type Handler struct {
	mu     sync.Mutex
	cfg    config.TimeoutConfig
	policy Policy
	shared *Shared
	logger *zap.Logger

	window  []bool
	head    int // index of the oldest entry
	filled  int
	flagged int

	suggestions int
	increases   int
	cooling     bool

	// counters reset on every increase
	sinceIncrease          int
	anomaliesSinceIncrease int
	cleanStreak            int

	// counters reset on every suggestion or decay ("limit adjustment")
	sinceAdjust          int
	anomaliesSinceAdjust int

	observations int
	anomalies    int
}

// NewHandler creates a handler driving the shared timeout.
func NewHandler(cfg config.TimeoutConfig, shared *Shared, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.WindowSize
	if size <= 0 {
		size = 200
	}
	if cfg.WindowThreshold < 1 {
		cfg.WindowThreshold = 2
	}
	if cfg.MinQueries <= 0 {
		cfg.MinQueries = 20
	}
	policy := Policy(cfg.Policy)
	if policy != PolicyRatio {
		policy = PolicyWindowed
	}
	return &Handler{
		cfg:    cfg,
		policy: policy,
		shared: shared,
		logger: logger.With(zap.String("component", "timeout_handler")),
		window: make([]bool, size),
	}
}

// Shared returns the controlled timeout.
func (h *Handler) Shared() *Shared { return h.shared }

// Observe records the outcome of one completed query and reports whether the timeout was
// increased as a consequence.
func (h *Handler) Observe(anomalous bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.observations++
	if anomalous {
		h.anomalies++
	}
	h.sinceIncrease++

	if h.cooling {
		if h.sinceIncrease <= h.cfg.CoolDown {
			return false
		}
		h.cooling = false
		h.sinceIncrease = 1
	}

	if anomalous {
		h.anomaliesSinceIncrease++
		h.anomaliesSinceAdjust++
	}
	h.sinceAdjust++

	switch h.policy {
	case PolicyRatio:
		h.observeRatio()
	default:
		h.observeWindowed(anomalous)
	}

	if h.suggestions > h.threshold() {
		return h.increase()
	}
	return false
}

func (h *Handler) observeWindowed(anomalous bool) {
	h.push(anomalous)
	if anomalous {
		h.cleanStreak = 0
	} else {
		h.cleanStreak++
	}

	if h.flagged >= h.cfg.WindowThreshold {
		h.suggestions++
		h.clearOldestFlag()
		h.logger.Debug("Timeout increase suggested",
			zap.Int("suggestions", h.suggestions),
			zap.Int("threshold", h.threshold()))
		return
	}

	// A full window without anomalies lets one earlier suggestion heal.
	if h.filled == len(h.window) && h.flagged == 0 && h.cleanStreak >= len(h.window) && h.suggestions > 0 {
		h.suggestions--
		h.cleanStreak = 0
	}
}

func (h *Handler) observeRatio() {
	if h.sinceAdjust < h.cfg.MinQueries {
		return
	}
	ratio := float64(h.anomaliesSinceIncrease) / float64(h.sinceIncrease)
	switch {
	case ratio > h.cfg.IncreaseRatio && h.anomaliesSinceAdjust > 0:
		h.suggestions++
		h.resetAdjust()
		h.logger.Debug("Timeout increase suggested",
			zap.Float64("ratio", ratio),
			zap.Int("suggestions", h.suggestions))
	case ratio < h.cfg.DecayRatio && h.suggestions > 0:
		h.suggestions--
		h.resetAdjust()
	}
}

func (h *Handler) resetAdjust() {
	h.sinceAdjust = 0
	h.anomaliesSinceAdjust = 0
}

// threshold grows with every increase already performed in this session.
func (h *Handler) threshold() int {
	return h.cfg.SuggestionBase + h.increases*h.cfg.SuggestionStep
}

func (h *Handler) increase() bool {
	before := h.shared.Get()
	changed := h.shared.Increase(h.cfg.Step, h.cfg.Max)
	if changed {
		h.increases++
		h.logger.Info("Increased query timeout",
			zap.Duration("from", before),
			zap.Duration("to", h.shared.Get()),
			zap.Int("increases", h.increases))
	}

	h.suggestions = 0
	h.sinceIncrease = 0
	h.anomaliesSinceIncrease = 0
	h.cleanStreak = 0
	h.resetAdjust()
	h.clearWindow()
	h.cooling = h.cfg.CoolDown > 0
	return changed
}

// -- ring buffer --

func (h *Handler) push(flag bool) {
	if h.filled < len(h.window) {
		h.window[(h.head+h.filled)%len(h.window)] = flag
		h.filled++
	} else {
		if h.window[h.head] {
			h.flagged--
		}
		h.window[h.head] = flag
		h.head = (h.head + 1) % len(h.window)
	}
	if flag {
		h.flagged++
	}
}

func (h *Handler) clearOldestFlag() {
	for i := 0; i < h.filled; i++ {
		idx := (h.head + i) % len(h.window)
		if h.window[idx] {
			h.window[idx] = false
			h.flagged--
			return
		}
	}
}

func (h *Handler) clearWindow() {
	for i := range h.window {
		h.window[i] = false
	}
	h.head, h.filled, h.flagged = 0, 0, 0
}

// Stats returns a snapshot of the handler counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Observations: h.observations,
		Anomalies:    h.anomalies,
		Suggestions:  h.suggestions,
		Increases:    h.increases,
		Current:      h.shared.Get(),
	}
}
