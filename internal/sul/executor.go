// internal/sul/executor.go
package sul

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/response"
	"github.com/xkilldash9x/stateprobe/internal/timeout"
)

// SessionState is the per-connection state handed to every symbol execution.
type SessionState struct {
	ID string
	// Timeout is the receive timeout in effect for this connection.
	Timeout time.Duration
	// Handle is owned by the Executor (socket, simulated cursor, ...).
	Handle any
}

// Executor is the protocol capability: it knows how to send one alphabet symbol over an
// open connection and fingerprint whatever comes back.
type Executor interface {
	Open(ctx context.Context, timeout time.Duration) (*SessionState, error)
	// Execute sends w and collects the answer. A non-nil hint describes the expected
	// answer and may be used to stop receiving early.
	Execute(ctx context.Context, state *SessionState, w alphabet.Word, hint *response.Fingerprint) (response.Fingerprint, error)
	// SocketState re-evaluates the transport without sending anything.
	SocketState(ctx context.Context, state *SessionState) (response.SocketState, error)
	Close(state *SessionState) error
}

// ErrPermanent marks executor failures that retrying cannot fix (an unparsable target, a missing model file).
var ErrPermanent = errors.New("permanent executor failure")

// ExecutorSUL drives an Executor: it paces queries, opens connections with exponential
// backoff, and absorbs transport failures into error fingerprints.
type ExecutorSUL struct {
	exec    Executor
	cfg     config.SULConfig
	timeout *timeout.Shared
	limiter *rate.Limiter
	logger  *zap.Logger

	state               *SessionState
	broken              bool
	consecutiveFailures int
}

// NewExecutorSUL wraps exec.
func NewExecutorSUL(exec Executor, cfg config.SULConfig, shared *timeout.Shared, logger *zap.Logger) *ExecutorSUL {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &ExecutorSUL{
		exec:    exec,
		cfg:     cfg,
		timeout: shared,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "executor_sul")),
	}
}

// Pre opens a fresh connection.
func (s *ExecutorSUL) Pre(ctx context.Context) error {
	if s.state != nil {
		s.closeState()
	}
	s.broken = false

	b := backoff.NewExponentialBackOff()
	if s.cfg.OpenBackoffInitial > 0 {
		b.InitialInterval = s.cfg.OpenBackoffInitial
	}
	if s.cfg.OpenBackoffMax > 0 {
		b.MaxInterval = s.cfg.OpenBackoffMax
	}
	b.MaxElapsedTime = 0

	var state *SessionState
	operation := func() error {
		st, err := s.exec.Open(ctx, s.timeout.Get())
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrPermanent) {
				return backoff.Permanent(err)
			}
			s.logger.Debug("Failed to open connection, retrying", zap.Error(err))
			return err
		}
		state = st
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.OpenRetries), ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.consecutiveFailures++
		s.broken = true
		s.logger.Warn("Could not open connection to target",
			zap.Int("consecutive_failures", s.consecutiveFailures),
			zap.Error(err))
		if s.cfg.BlacklistAfter > 0 && s.consecutiveFailures >= s.cfg.BlacklistAfter {
			return &LimitError{Kind: LimitBlacklisted, Limit: int64(s.consecutiveFailures)}
		}
		return nil
	}

	s.consecutiveFailures = 0
	if state.ID == "" {
		state.ID = uuid.NewString()
	}
	state.Timeout = s.timeout.Get()
	s.state = state
	return nil
}

// Step executes one symbol.
func (s *ExecutorSUL) Step(ctx context.Context, w alphabet.Word) (response.SulResponse, error) {
	return s.StepWithHint(ctx, w, nil)
}

// StepWithHint executes one symbol, using the expected response to avoid blocking.
func (s *ExecutorSUL) StepWithHint(ctx context.Context, w alphabet.Word, hint *response.SulResponse) (response.SulResponse, error) {
	if s.broken || s.state == nil {
		return response.ErrorFingerprint(), nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return response.SulResponse{}, err
	}

	var fpHint *response.Fingerprint
	if hint != nil && !hint.IllegalTransition {
		fp := hint.Fingerprint
		fpHint = &fp
	}
	s.state.Timeout = s.timeout.Get()

	fp, err := s.exec.Execute(ctx, s.state, w, fpHint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return response.SulResponse{}, ctxErr
		}
		s.logger.Debug("Symbol execution failed",
			zap.String("session_id", s.state.ID),
			zap.String("word", w.Name),
			zap.Error(err))
		s.broken = true
		return response.ErrorFingerprint(), nil
	}

	if fpHint != nil && fpHint.SocketState.IsClosed() && !fp.SocketState.IsClosed() {
		state, err := s.awaitSocketState(ctx)
		if err != nil {
			return response.SulResponse{}, err
		}
		fp.SocketState = state
	}
	return response.New(fp), nil
}

// awaitSocketState re-evaluates the socket in PollInterval increments until it reports a
// closed state or the current timeout elapses.
func (s *ExecutorSUL) awaitSocketState(ctx context.Context) (response.SocketState, error) {
	deadline := time.Now().Add(s.timeout.Get())
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	last := response.SocketUp
	for {
		state, err := s.exec.SocketState(ctx, s.state)
		if err != nil {
			return response.SocketException, nil
		}
		last = state
		if state.IsClosed() || !time.Now().Before(deadline) {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Post closes the connection.
func (s *ExecutorSUL) Post() error {
	s.broken = false
	if s.state == nil {
		return nil
	}
	return s.closeState()
}

func (s *ExecutorSUL) closeState() error {
	state := s.state
	s.state = nil
	if err := s.exec.Close(state); err != nil {
		return fmt.Errorf("failed to close session %s: %w", state.ID, err)
	}
	return nil
}
