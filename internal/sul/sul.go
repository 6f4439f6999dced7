// internal/sul/sul.go
package sul

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// SUL is the system under learning as seen by a membership oracle. Every query is bracketed
// by Pre and Post; Post must be called even if a Step failed, or the underlying connection leaks.
//
// Step only returns errors that must unwind the learning loop (limits, cache conflicts,
// cancellation). Transport failures are reported in-band as response.ErrorFingerprint().
type SUL interface {
	Pre(ctx context.Context) error
	Step(ctx context.Context, w alphabet.Word) (response.SulResponse, error)
	Post() error
}

// HintedStepper is implemented by SULs that can use the expected response to skip an
// unnecessary blocking receive.
type HintedStepper interface {
	StepWithHint(ctx context.Context, w alphabet.Word, hint *response.SulResponse) (response.SulResponse, error)
}

// StepHinted forwards the hint when s supports it and falls back to a plain Step.
func StepHinted(ctx context.Context, s SUL, w alphabet.Word, hint *response.SulResponse) (response.SulResponse, error) {
	if hint != nil {
		if hs, ok := s.(HintedStepper); ok {
			return hs.StepWithHint(ctx, w, hint)
		}
	}
	return s.Step(ctx, w)
}

// Query runs one complete membership query against s. Post is always called.
func Query(ctx context.Context, s SUL, input []alphabet.Word) (out []response.SulResponse, err error) {
	if err := s.Pre(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if perr := s.Post(); perr != nil && err == nil {
			err = perr
		}
	}()
	out = make([]response.SulResponse, 0, len(input))
	for _, w := range input {
		r, err := s.Step(ctx, w)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// -- Limit errors --

var (
	// ErrLimitExceeded is matched by every *LimitError.
	ErrLimitExceeded = errors.New("resource limit exceeded")
	// ErrProbablyBlacklisted is additionally matched when the target stopped accepting connections.
	ErrProbablyBlacklisted = errors.New("target probably blacklisted the learner")
)

// LimitKind names the exhausted resource.
type LimitKind string

const (
	LimitQueries     LimitKind = "queries"
	LimitConnections LimitKind = "connections"
	LimitDuration    LimitKind = "duration"
	LimitBlacklisted LimitKind = "blacklisted"
)

// LimitError aborts the current learning attempt. Collected cache content and statistics
// stay valid.
type LimitError struct {
	Kind  LimitKind
	Limit int64
}

func (e *LimitError) Error() string {
	if e.Kind == LimitBlacklisted {
		return fmt.Sprintf("%s: %d consecutive connection failures", ErrProbablyBlacklisted, e.Limit)
	}
	return fmt.Sprintf("%s: %s (limit %d)", ErrLimitExceeded, e.Kind, e.Limit)
}

// Is lets errors.Is match the sentinel errors.
func (e *LimitError) Is(target error) bool {
	if target == ErrLimitExceeded {
		return true
	}
	return target == ErrProbablyBlacklisted && e.Kind == LimitBlacklisted
}
