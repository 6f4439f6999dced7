// internal/extractor/iterative.go
package extractor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/cache"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/sul"
	"github.com/xkilldash9x/stateprobe/internal/timeout"
)

// IterativeExtractor learns the same target over alphabets of increasing richness. All
// stages share one cache and one timeout controller, so later stages replay what earlier
// ones already asked.
type IterativeExtractor struct {
	exec      sul.Executor
	alphabets []*alphabet.Alphabet
	cfg       config.Interface
	logger    *zap.Logger
	opts      []Option
}

// NewIterative creates an iterative extractor. opts are passed to every stage; cache and
// timeout options are overridden by the shared instances.
func NewIterative(exec sul.Executor, alphabets []*alphabet.Alphabet, cfg config.Interface, logger *zap.Logger, opts ...Option) (*IterativeExtractor, error) {
	if len(alphabets) == 0 {
		return nil, errors.New("iterative extraction requires at least one alphabet")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IterativeExtractor{
		exec:      exec,
		alphabets: alphabets,
		cfg:       cfg,
		logger:    logger.Named("iterative_extractor"),
		opts:      opts,
	}, nil
}

// Extract runs one stage per alphabet and returns the result of every stage that ran. It
// stops after the first incomplete stage or once the configured alphabet cap is reached.
func (it *IterativeExtractor) Extract(ctx context.Context) ([]*Result, error) {
	union := alphabet.Union(it.alphabets...)
	filter, err := cache.NewFilter(it.cfg.Cache().ForbiddenAfter)
	if err != nil {
		return nil, fmt.Errorf("invalid cache filter: %w", err)
	}
	shared := cache.New(filter)
	tc := it.cfg.Timeout()
	handler := timeout.NewHandler(tc, timeout.NewShared(tc.Initial), it.logger)

	it.logger.Info("Starting iterative extraction",
		zap.Int("stages", len(it.alphabets)),
		zap.Int("alphabet_size", union.Size()))

	maxStages := it.cfg.Alphabet().MaxAlphabets
	var results []*Result
	for i, alph := range it.alphabets {
		if maxStages > 0 && i >= maxStages {
			it.logger.Info("Alphabet cap reached", zap.Int("max_alphabets", maxStages))
			break
		}
		opts := append(append([]Option(nil), it.opts...), WithCache(shared), WithTimeout(handler))
		x, err := New(it.exec, alph, it.cfg, it.logger, opts...)
		if err != nil {
			return results, fmt.Errorf("stage %d: %w", i+1, err)
		}
		res, err := x.Extract(ctx)
		if err != nil {
			return results, fmt.Errorf("stage %d: %w", i+1, err)
		}
		results = append(results, res)

		if res.Blacklisted {
			it.logger.Warn("Target probably blacklisted, not attempting further alphabets", zap.Int("stage", i+1))
			break
		}
		if !res.Complete {
			it.logger.Warn("Stage aborted, stopping escalation", zap.Int("stage", i+1), zap.Error(res.Abort))
			break
		}
	}
	return results, nil
}
