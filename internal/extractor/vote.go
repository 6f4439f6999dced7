// internal/extractor/vote.go
package extractor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/cache"
	"github.com/xkilldash9x/stateprobe/internal/response"
	"github.com/xkilldash9x/stateprobe/internal/sul"
)

// resolveConflict re-queries the conflicting input below the cache, takes the plurality
// answer and writes it back. The cache is only touched once every vote has completed.
func (x *Extractor) resolveConflict(ctx context.Context, st *stack, conflict *cache.ConflictError) error {
	votes := x.cfg.Learner().MajorityVotes
	if votes < 1 {
		votes = 1
	}
	x.logger.Info("Resolving cache conflict by majority vote",
		zap.String("conflict_input", alphabet.Sequence(conflict.Input)),
		zap.Stringer("expected", conflict.Expected),
		zap.Stringer("observed", conflict.Observed),
		zap.Int("votes", votes))

	winner, count, err := majority(ctx, st.live, conflict.Input, votes)
	if err != nil {
		return fmt.Errorf("majority vote aborted: %w", err)
	}
	if err := x.cache.Overwrite(conflict.Input, winner); err != nil {
		return fmt.Errorf("cache overwrite failed: %w", err)
	}
	x.logger.Info("Cache overwritten with voted responses",
		zap.String("conflict_input", alphabet.Sequence(conflict.Input)),
		zap.String("voted", response.SequenceKey(winner)),
		zap.Int("agreeing", count))
	return nil
}

// majority runs input n times on s and returns the most frequent output sequence. Ties go
// to the sequence seen first.
func majority(ctx context.Context, s sul.SUL, input []alphabet.Word, n int) ([]response.SulResponse, int, error) {
	counts := map[string]int{}
	first := map[string][]response.SulResponse{}
	var order []string
	for i := 0; i < n; i++ {
		out, err := sul.Query(ctx, s, input)
		if err != nil {
			return nil, 0, err
		}
		key := response.SequenceKey(out)
		if _, ok := first[key]; !ok {
			first[key] = out
			order = append(order, key)
		}
		counts[key]++
	}
	best := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}
	return first[best], counts[best], nil
}
