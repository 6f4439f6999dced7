// internal/extractor/stats.go
package extractor

import (
	"fmt"
	"time"
)

// Stats are the per-session deltas reported with a Result.
type Stats struct {
	// Queries counts membership queries issued by the learner, LiveQueries those that
	// reached the target (majority votes included).
	Queries     int64 `json:"queries"`
	LiveQueries int64 `json:"live_queries"`
	// LiveSteps counts symbols sent to the target, CachedSteps symbols answered by the cache.
	LiveSteps     int64 `json:"live_steps"`
	CachedSteps   int64 `json:"cached_steps"`
	HintedSteps   int64 `json:"hinted_steps"`
	Confirmations int64 `json:"confirmations"`

	LiveDuration time.Duration `json:"live_duration"`
	Elapsed      time.Duration `json:"elapsed"`

	States           int           `json:"states"`
	Hypotheses       int           `json:"hypotheses"`
	Conflicts        int           `json:"conflicts"`
	Restarts         int           `json:"restarts"`
	TimeoutIncreases int           `json:"timeout_increases"`
	FinalTimeout     time.Duration `json:"final_timeout"`
	CacheGrowth      int           `json:"cache_growth"`
}

// CachedRatio is the share of symbols the cache answered.
func (s Stats) CachedRatio() float64 {
	total := s.CachedSteps + s.LiveSteps
	if total == 0 {
		return 0
	}
	return float64(s.CachedSteps) / float64(total)
}

// Add accumulates o into s. FinalTimeout keeps the larger value.
func (s *Stats) Add(o Stats) {
	s.Queries += o.Queries
	s.LiveQueries += o.LiveQueries
	s.LiveSteps += o.LiveSteps
	s.CachedSteps += o.CachedSteps
	s.HintedSteps += o.HintedSteps
	s.Confirmations += o.Confirmations
	s.LiveDuration += o.LiveDuration
	s.Elapsed += o.Elapsed
	s.Hypotheses += o.Hypotheses
	s.Conflicts += o.Conflicts
	s.Restarts += o.Restarts
	s.TimeoutIncreases += o.TimeoutIncreases
	s.CacheGrowth += o.CacheGrowth
	if o.FinalTimeout > s.FinalTimeout {
		s.FinalTimeout = o.FinalTimeout
	}
	s.States = o.States
}

func (s Stats) String() string {
	return fmt.Sprintf("states=%d hypotheses=%d queries=%d live=%d cached=%.1f%% hinted=%d conflicts=%d restarts=%d timeout=%s duration=%s",
		s.States, s.Hypotheses, s.Queries, s.LiveQueries, 100*s.CachedRatio(), s.HintedSteps,
		s.Conflicts, s.Restarts, s.FinalTimeout, s.Elapsed.Round(time.Millisecond))
}
