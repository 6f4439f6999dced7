// internal/reporting/sink.go
package reporting

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
)

// Persister stores result envelopes.
type Persister interface {
	PersistData(ctx context.Context, envelope *schemas.ResultEnvelope) error
}

// Sink fans every envelope out to a reporter and, when configured, a persistent store. It
// satisfies the engine's store contract so the task engine can write reports directly.
type Sink struct {
	reporter Reporter
	store    Persister
	logger   *zap.Logger
}

// NewSink creates a sink. Either target may be nil, but not both.
func NewSink(reporter Reporter, store Persister, logger *zap.Logger) (*Sink, error) {
	if reporter == nil && store == nil {
		return nil, errors.New("sink requires a reporter or a store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{reporter: reporter, store: store, logger: logger.Named("result_sink")}, nil
}

// PersistData writes the envelope to the store first, then to the reporter. A store
// failure still lets the reporter see the results; both errors are returned.
func (s *Sink) PersistData(ctx context.Context, envelope *schemas.ResultEnvelope) error {
	if envelope.Empty() {
		return nil
	}
	var errs []error
	if s.store != nil {
		if err := s.store.PersistData(ctx, envelope); err != nil {
			s.logger.Error("Failed to persist results", zap.String("task_id", envelope.TaskID), zap.Error(err))
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if s.reporter != nil {
		if err := s.reporter.Write(envelope); err != nil {
			errs = append(errs, fmt.Errorf("report: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close finalizes the reporter. The store is owned by the caller.
func (s *Sink) Close() error {
	if s.reporter == nil {
		return nil
	}
	return s.reporter.Close()
}
