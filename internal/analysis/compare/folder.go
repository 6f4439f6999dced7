package compare

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/mealy"
)

// CompareFolder loads every model file (*.yaml, *.yml) in dir and compares all pairs. Loads
// and comparisons run on a pool bounded by cfg.Concurrency.
func CompareFolder(ctx context.Context, dir string, cfg config.CompareConfig, logger *zap.Logger) ([]Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("compare")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read model folder %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	if len(paths) < 2 {
		return nil, fmt.Errorf("need at least two models in %s, found %d", dir, len(paths))
	}
	workers := cfg.Concurrency
	if workers < 1 {
		workers = 1
	}

	machines := make([]*mealy.Machine, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := mealy.LoadFile(p)
			if err != nil {
				return err
			}
			machines[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.Info("Models loaded", zap.Int("models", len(machines)))

	cmp := Comparator{Threshold: cfg.Threshold}
	results := make([]Result, 0, len(paths)*(len(paths)-1)/2)
	out := make(chan Result, workers)
	sem := semaphore.NewWeighted(int64(workers))
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(out)
		var pairs errgroup.Group
		for i := 0; i < len(machines); i++ {
			for j := i + 1; j < len(machines); j++ {
				if err := sem.Acquire(gctx, 1); err != nil {
					pairs.Wait()
					return err
				}
				pairs.Go(func() error {
					defer sem.Release(1)
					res := cmp.Compare(machines[i], machines[j])
					res.Left = filepath.Base(paths[i])
					res.Right = filepath.Base(paths[j])
					select {
					case out <- res:
						return nil
					case <-gctx.Done():
						return gctx.Err()
					}
				})
			}
		}
		return pairs.Wait()
	})
	for res := range out {
		results = append(results, res)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Left != results[j].Left {
			return results[i].Left < results[j].Left
		}
		return results[i].Right < results[j].Right
	})
	similar := 0
	for _, r := range results {
		if r.Similar {
			similar++
		}
	}
	logger.Info("Folder comparison complete",
		zap.Int("pairs", len(results)),
		zap.Int("similar_pairs", similar),
		zap.Float64("threshold", cfg.Threshold))
	return results, nil
}
