// internal/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collectors holds the prometheus series updated while learning. A nil *Collectors is valid
// and records nothing, so callers never have to guard their updates.
type Collectors struct {
	registry *prometheus.Registry

	queriesTotal     *prometheus.CounterVec
	conflictsTotal   prometheus.Counter
	restartsTotal    prometheus.Counter
	hypothesesTotal  prometheus.Counter
	timeoutIncreases prometheus.Counter
	findingsTotal    *prometheus.CounterVec

	timeoutSeconds *prometheus.GaugeVec
	learnedStates  *prometheus.GaugeVec
	sessionSeconds *prometheus.HistogramVec
}

// New creates the collectors on their own registry.
func New() (*Collectors, error) {
	c := &Collectors{registry: prometheus.NewRegistry()}

	c.queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stateprobe_queries_total",
			Help: "Membership queries answered, by source",
		},
		[]string{"source"},
	)
	c.conflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateprobe_cache_conflicts_total",
		Help: "Disagreements between the response cache and the live target",
	})
	c.restartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateprobe_learning_restarts_total",
		Help: "Learning restarts after a resolved cache conflict",
	})
	c.hypothesesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateprobe_hypotheses_total",
		Help: "Hypotheses submitted to the equivalence oracle chain",
	})
	c.timeoutIncreases = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateprobe_timeout_increases_total",
		Help: "Adaptive timeout increases",
	})
	c.findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stateprobe_findings_total",
			Help: "Issues reported by the classifiers, by category",
		},
		[]string{"category"},
	)
	c.timeoutSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stateprobe_query_timeout_seconds",
			Help: "Current shared query timeout",
		},
		[]string{"session"},
	)
	c.learnedStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stateprobe_learned_states",
			Help: "States of the last hypothesis",
		},
		[]string{"session"},
	)
	c.sessionSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stateprobe_session_duration_seconds",
			Help:    "Wall-clock duration of extraction sessions",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		},
		[]string{"outcome"},
	)

	for _, col := range []prometheus.Collector{
		c.queriesTotal,
		c.conflictsTotal,
		c.restartsTotal,
		c.hypothesesTotal,
		c.timeoutIncreases,
		c.findingsTotal,
		c.timeoutSeconds,
		c.learnedStates,
		c.sessionSeconds,
	} {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return c, nil
}

// Registry exposes the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Query counts one membership query. cached reports whether the cache answered it in full.
func (c *Collectors) Query(cached bool) {
	if c == nil {
		return
	}
	source := "live"
	if cached {
		source = "cache"
	}
	c.queriesTotal.WithLabelValues(source).Inc()
}

func (c *Collectors) Conflict() {
	if c != nil {
		c.conflictsTotal.Inc()
	}
}

func (c *Collectors) Restart() {
	if c != nil {
		c.restartsTotal.Inc()
	}
}

// Hypothesis records a new hypothesis and its size.
func (c *Collectors) Hypothesis(session string, states int) {
	if c == nil {
		return
	}
	c.hypothesesTotal.Inc()
	c.learnedStates.WithLabelValues(session).Set(float64(states))
}

// Timeout records the current timeout; increased marks an actual increase.
func (c *Collectors) Timeout(session string, d time.Duration, increased bool) {
	if c == nil {
		return
	}
	if increased {
		c.timeoutIncreases.Inc()
	}
	c.timeoutSeconds.WithLabelValues(session).Set(d.Seconds())
}

func (c *Collectors) Finding(category string) {
	if c != nil {
		c.findingsTotal.WithLabelValues(category).Inc()
	}
}

// SessionDone observes the duration of a finished session under its outcome.
func (c *Collectors) SessionDone(outcome string, d time.Duration) {
	if c != nil {
		c.sessionSeconds.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// Handler serves the registry in the exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collectors) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return <-errCh
}
