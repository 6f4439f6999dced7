// internal/sul/simulated.go
package sul

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// FaultFunc may replace the output of one simulated step. session counts opened
// connections starting at 1; path includes w as its last element.
type FaultFunc func(session int, path []alphabet.Word, out response.Fingerprint) response.Fingerprint

// SimulatedExecutor answers from a recorded Mealy model. It stands in for a real target
// when replaying model files and in tests.
type SimulatedExecutor struct {
	model *mealy.Machine

	mu       sync.Mutex
	rng      *rand.Rand
	noise    float64
	latency  time.Duration
	fault    FaultFunc
	failOpen int
	sessions int
	opened   int
	closed   int
}

// SimulatedOption configures a SimulatedExecutor.
type SimulatedOption func(*SimulatedExecutor)

// WithNoise makes every step answer with an empty timeout fingerprint with probability p.
func WithNoise(p float64, seed int64) SimulatedOption {
	return func(e *SimulatedExecutor) {
		e.noise = p
		e.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLatency delays every step.
func WithLatency(d time.Duration) SimulatedOption {
	return func(e *SimulatedExecutor) { e.latency = d }
}

// WithFault installs a deterministic output override.
func WithFault(f FaultFunc) SimulatedOption {
	return func(e *SimulatedExecutor) { e.fault = f }
}

// WithFailingOpens makes the first n Open calls fail.
func WithFailingOpens(n int) SimulatedOption {
	return func(e *SimulatedExecutor) { e.failOpen = n }
}

// NewSimulatedExecutor creates an executor over a validated model.
func NewSimulatedExecutor(model *mealy.Machine, opts ...SimulatedOption) *SimulatedExecutor {
	e := &SimulatedExecutor{model: model, rng: rand.New(rand.NewSource(1))}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type simSession struct {
	n       int
	current mealy.StateID
	path    []alphabet.Word
	socket  response.SocketState
}

var errSimulatedRefusal = errors.New("simulated connection refused")

// Open implements Executor.
func (e *SimulatedExecutor) Open(ctx context.Context, timeout time.Duration) (*SessionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failOpen > 0 {
		e.failOpen--
		return nil, errSimulatedRefusal
	}
	e.sessions++
	e.opened++
	return &SessionState{
		ID:      uuid.NewString(),
		Timeout: timeout,
		Handle: &simSession{
			n:       e.sessions,
			current: e.model.Initial(),
			socket:  response.SocketUp,
		},
	}, nil
}

// Execute implements Executor.
func (e *SimulatedExecutor) Execute(ctx context.Context, state *SessionState, w alphabet.Word, _ *response.Fingerprint) (response.Fingerprint, error) {
	sess, ok := state.Handle.(*simSession)
	if !ok {
		return response.Fingerprint{}, errors.New("foreign session handle")
	}
	if e.latency > 0 {
		t := time.NewTimer(e.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return response.Fingerprint{}, ctx.Err()
		case <-t.C:
		}
	}

	t, ok := e.model.Transition(sess.current, w)
	if !ok {
		return response.Fingerprint{}, errors.New("model has no transition for " + w.Name)
	}
	sess.current = t.Target
	sess.path = append(sess.path, w)
	out := t.Output.Fingerprint
	sess.socket = out.SocketState

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fault != nil {
		out = e.fault(sess.n, alphabet.Clone(sess.path), out)
	}
	if e.noise > 0 && e.rng.Float64() < e.noise {
		out = response.Fingerprint{SocketState: response.SocketTimeout}
	}
	return out, nil
}

// SocketState implements Executor.
func (e *SimulatedExecutor) SocketState(_ context.Context, state *SessionState) (response.SocketState, error) {
	sess, ok := state.Handle.(*simSession)
	if !ok {
		return response.SocketException, errors.New("foreign session handle")
	}
	return sess.socket, nil
}

// Close implements Executor.
func (e *SimulatedExecutor) Close(state *SessionState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

// OpenSessions reports connections that were opened but not yet closed.
func (e *SimulatedExecutor) OpenSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened - e.closed
}
