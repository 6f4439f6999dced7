package timeout

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/stateprobe/internal/config"
)

func testConfig(policy string) config.TimeoutConfig {
	return config.TimeoutConfig{
		Policy:          policy,
		Initial:         100 * time.Millisecond,
		Max:             200 * time.Millisecond,
		Step:            10 * time.Millisecond,
		WindowSize:      200,
		CoolDown:        50,
		WindowThreshold: 2,
		IncreaseRatio:   0.005,
		DecayRatio:      0.003,
		MinQueries:      20,
		SuggestionBase:  3,
		SuggestionStep:  2,
	}
}

func TestShared_IncreaseIsMonotonicAndCapped(t *testing.T) {
	s := NewShared(100 * time.Millisecond)
	assert.True(t, s.Increase(30*time.Millisecond, 150*time.Millisecond))
	assert.Equal(t, 130*time.Millisecond, s.Get())
	assert.True(t, s.Increase(30*time.Millisecond, 150*time.Millisecond))
	assert.Equal(t, 150*time.Millisecond, s.Get(), "increase must clamp to the maximum")
	assert.False(t, s.Increase(30*time.Millisecond, 150*time.Millisecond))
	assert.False(t, s.Increase(30*time.Millisecond, 50*time.Millisecond), "a lower max must never shrink the value")
	assert.Equal(t, 150*time.Millisecond, s.Get())
}

func TestShared_ConcurrentIncreases(t *testing.T) {
	s := NewShared(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Increase(time.Millisecond, time.Hour)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50*time.Millisecond, s.Get())
}

func TestHandler_IsolatedAnomalyDoesNotIncrease(t *testing.T) {
	for _, policy := range []string{"windowed", "ratio"} {
		t.Run(policy, func(t *testing.T) {
			cfg := testConfig(policy)
			h := NewHandler(cfg, NewShared(cfg.Initial), zap.NewNop())

			assert.False(t, h.Observe(true))
			for i := 0; i < 199; i++ {
				assert.False(t, h.Observe(false))
			}
			assert.Equal(t, cfg.Initial, h.Shared().Get())
			assert.Zero(t, h.Stats().Increases)
		})
	}
}

func TestHandler_SustainedCongestionIncreases(t *testing.T) {
	for _, policy := range []string{"windowed", "ratio"} {
		t.Run(policy, func(t *testing.T) {
			cfg := testConfig(policy)
			cfg.Max = time.Second
			h := NewHandler(cfg, NewShared(cfg.Initial), zap.NewNop())

			increased := false
			for i := 0; i < 2000; i++ {
				if h.Observe(i%4 == 0) {
					increased = true
				}
			}
			require.True(t, increased)
			assert.Greater(t, h.Shared().Get(), cfg.Initial)
			assert.GreaterOrEqual(t, h.Stats().Increases, 2)
		})
	}
}

func TestHandler_DiminishingSensitivity(t *testing.T) {
	cfg := testConfig("windowed")
	cfg.CoolDown = 0
	cfg.Max = time.Hour
	h := NewHandler(cfg, NewShared(cfg.Initial), zap.NewNop())

	// Every second anomaly produces one suggestion once the window holds two flags.
	anomaliesUntilIncrease := func() int {
		n := 0
		for {
			n++
			if h.Observe(true) {
				return n
			}
		}
	}
	first := anomaliesUntilIncrease()
	second := anomaliesUntilIncrease()
	third := anomaliesUntilIncrease()
	assert.Less(t, first, second)
	assert.Less(t, second, third)
}

func TestHandler_CoolDownIgnoresObservations(t *testing.T) {
	cfg := testConfig("windowed")
	cfg.Max = time.Hour
	h := NewHandler(cfg, NewShared(cfg.Initial), zap.NewNop())

	for !h.Observe(true) {
	}
	after := h.Shared().Get()
	for i := 0; i < cfg.CoolDown; i++ {
		assert.False(t, h.Observe(true), "observation %d falls inside the cool-down", i)
	}
	assert.Equal(t, after, h.Shared().Get())
	assert.Zero(t, h.Stats().Suggestions)
}

func TestHandler_SuggestionsHeal(t *testing.T) {
	cfg := testConfig("windowed")
	cfg.WindowSize = 10
	h := NewHandler(cfg, NewShared(cfg.Initial), zap.NewNop())

	h.Observe(true)
	h.Observe(true)
	require.Equal(t, 1, h.Stats().Suggestions)
	for i := 0; i < 30; i++ {
		h.Observe(false)
	}
	assert.Zero(t, h.Stats().Suggestions)
}

func TestHandler_MonotonicAndBoundedUnderRandomNoise(t *testing.T) {
	for _, policy := range []string{"windowed", "ratio"} {
		t.Run(policy, func(t *testing.T) {
			cfg := testConfig(policy)
			h := NewHandler(cfg, NewShared(cfg.Initial), zap.NewNop())
			rng := rand.New(rand.NewSource(7))

			last := h.Shared().Get()
			for i := 0; i < 20000; i++ {
				h.Observe(rng.Float64() < 0.3)
				cur := h.Shared().Get()
				require.GreaterOrEqual(t, cur, last)
				require.LessOrEqual(t, cur, cfg.Max)
				last = cur
			}
			assert.Equal(t, cfg.Max, last, "heavy noise must eventually saturate at the maximum")
		})
	}
}

func TestHandler_LogsIncreases(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := testConfig("windowed")
	cfg.CoolDown = 0
	h := NewHandler(cfg, NewShared(cfg.Initial), zap.New(core))

	for !h.Observe(true) {
	}
	entries := logs.FilterMessage("Increased query timeout").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "timeout_handler", entries[0].ContextMap()["component"])
}

func TestHandler_RatioPolicy(t *testing.T) {
	cfg := testConfig("ratio")
	h := NewHandler(cfg, NewShared(cfg.Initial), zap.NewNop())

	t.Run("no suggestion before the query quota", func(t *testing.T) {
		h.Observe(true)
		for i := 0; i < cfg.MinQueries-2; i++ {
			h.Observe(false)
		}
		assert.Zero(t, h.Stats().Suggestions)

		// 1 anomaly in 20 queries is far above the increase ratio.
		h.Observe(false)
		assert.Equal(t, 1, h.Stats().Suggestions)
	})

	t.Run("a suggestion needs a fresh anomaly", func(t *testing.T) {
		// The ratio since the last increase stays above the threshold, but nothing new
		// went wrong since the last suggestion.
		for i := 0; i < 2*cfg.MinQueries; i++ {
			h.Observe(false)
		}
		assert.Equal(t, 1, h.Stats().Suggestions)
	})

	t.Run("decays once the ratio falls below the decay ratio", func(t *testing.T) {
		// 1/333 is still above 0.003, 1/334 is below it.
		for h.Stats().Observations < 333 {
			h.Observe(false)
		}
		assert.Equal(t, 1, h.Stats().Suggestions)

		h.Observe(false)
		assert.Zero(t, h.Stats().Suggestions)
		assert.Zero(t, h.Stats().Increases)
		assert.Equal(t, cfg.Initial, h.Shared().Get())
	})
}
