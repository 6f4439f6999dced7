// internal/sul/wrappers.go
package sul

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// Each wrapper reports its own statistics so the extractor can tell how many symbols
// actually reached the target versus how many the cache answered.

// -- TimingSUL --

// TimingSUL accumulates the wall-clock time spent inside the wrapped SUL.
type TimingSUL struct {
	inner SUL
	nanos atomic.Int64
}

func NewTimingSUL(inner SUL) *TimingSUL { return &TimingSUL{inner: inner} }

func (s *TimingSUL) track(start time.Time) { s.nanos.Add(int64(time.Since(start))) }

func (s *TimingSUL) Pre(ctx context.Context) error {
	defer s.track(time.Now())
	return s.inner.Pre(ctx)
}

func (s *TimingSUL) Step(ctx context.Context, w alphabet.Word) (response.SulResponse, error) {
	defer s.track(time.Now())
	return s.inner.Step(ctx, w)
}

func (s *TimingSUL) StepWithHint(ctx context.Context, w alphabet.Word, hint *response.SulResponse) (response.SulResponse, error) {
	defer s.track(time.Now())
	return StepHinted(ctx, s.inner, w, hint)
}

func (s *TimingSUL) Post() error {
	defer s.track(time.Now())
	return s.inner.Post()
}

// Duration returns the accumulated time.
func (s *TimingSUL) Duration() time.Duration { return time.Duration(s.nanos.Load()) }

// -- CounterSUL --

// CounterSUL counts symbols and how many of them carried a receive hint.
type CounterSUL struct {
	inner  SUL
	steps  atomic.Int64
	hinted atomic.Int64
}

func NewCounterSUL(inner SUL) *CounterSUL { return &CounterSUL{inner: inner} }

func (s *CounterSUL) Pre(ctx context.Context) error { return s.inner.Pre(ctx) }

func (s *CounterSUL) Step(ctx context.Context, w alphabet.Word) (response.SulResponse, error) {
	s.steps.Add(1)
	return s.inner.Step(ctx, w)
}

func (s *CounterSUL) StepWithHint(ctx context.Context, w alphabet.Word, hint *response.SulResponse) (response.SulResponse, error) {
	s.steps.Add(1)
	if hint != nil {
		s.hinted.Add(1)
	}
	return StepHinted(ctx, s.inner, w, hint)
}

func (s *CounterSUL) Post() error { return s.inner.Post() }

// Steps returns the number of symbols forwarded.
func (s *CounterSUL) Steps() int64 { return s.steps.Load() }

// Hinted returns the number of symbols forwarded with a receive hint.
func (s *CounterSUL) Hinted() int64 { return s.hinted.Load() }

// -- ResetCounterSUL --

// ResetCounterSUL counts queries, i.e. Pre/Post brackets.
type ResetCounterSUL struct {
	inner  SUL
	resets atomic.Int64
}

func NewResetCounterSUL(inner SUL) *ResetCounterSUL { return &ResetCounterSUL{inner: inner} }

func (s *ResetCounterSUL) Pre(ctx context.Context) error {
	s.resets.Add(1)
	return s.inner.Pre(ctx)
}

func (s *ResetCounterSUL) Step(ctx context.Context, w alphabet.Word) (response.SulResponse, error) {
	return s.inner.Step(ctx, w)
}

func (s *ResetCounterSUL) StepWithHint(ctx context.Context, w alphabet.Word, hint *response.SulResponse) (response.SulResponse, error) {
	return StepHinted(ctx, s.inner, w, hint)
}

func (s *ResetCounterSUL) Post() error { return s.inner.Post() }

// Resets returns the number of queries started.
func (s *ResetCounterSUL) Resets() int64 { return s.resets.Load() }

// -- LimitSUL --

// LimitSUL enforces the hard resource caps of a session. It sits directly above the live
// executor so only traffic that reaches the target is charged.
type LimitSUL struct {
	inner  SUL
	limits config.LimitsConfig
	start  time.Time
	now    func() time.Time

	queries     atomic.Int64
	connections atomic.Int64
}

func NewLimitSUL(inner SUL, limits config.LimitsConfig) *LimitSUL {
	return &LimitSUL{inner: inner, limits: limits, start: time.Now(), now: time.Now}
}

func (s *LimitSUL) checkDuration() error {
	if s.limits.MaxDuration > 0 && s.now().Sub(s.start) > s.limits.MaxDuration {
		return &LimitError{Kind: LimitDuration, Limit: s.limits.MaxDuration.Milliseconds()}
	}
	return nil
}

func (s *LimitSUL) Pre(ctx context.Context) error {
	if err := s.checkDuration(); err != nil {
		return err
	}
	n := s.connections.Add(1)
	if s.limits.MaxConnections > 0 && n > int64(s.limits.MaxConnections) {
		return &LimitError{Kind: LimitConnections, Limit: int64(s.limits.MaxConnections)}
	}
	return s.inner.Pre(ctx)
}

func (s *LimitSUL) charge() error {
	if err := s.checkDuration(); err != nil {
		return err
	}
	n := s.queries.Add(1)
	if s.limits.MaxQueries > 0 && n > int64(s.limits.MaxQueries) {
		return &LimitError{Kind: LimitQueries, Limit: int64(s.limits.MaxQueries)}
	}
	return nil
}

func (s *LimitSUL) Step(ctx context.Context, w alphabet.Word) (response.SulResponse, error) {
	if err := s.charge(); err != nil {
		return response.SulResponse{}, err
	}
	return s.inner.Step(ctx, w)
}

func (s *LimitSUL) StepWithHint(ctx context.Context, w alphabet.Word, hint *response.SulResponse) (response.SulResponse, error) {
	if err := s.charge(); err != nil {
		return response.SulResponse{}, err
	}
	return StepHinted(ctx, s.inner, w, hint)
}

func (s *LimitSUL) Post() error { return s.inner.Post() }

// Queries returns the number of live symbols charged so far.
func (s *LimitSUL) Queries() int64 { return s.queries.Load() }

// Connections returns the number of connections opened so far.
func (s *LimitSUL) Connections() int64 { return s.connections.Load() }
