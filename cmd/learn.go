// File: cmd/learn.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/observability"
)

// newLearnCmd creates the `learn` command.
func newLearnCmd() *cobra.Command {
	var out outputOptions
	var modelDir string

	learnCmd := &cobra.Command{
		Use:   "learn [targets...]",
		Short: "Learn the state machine of one or more targets",
		Long: `Runs an iterative extraction against every target, escalating through the
configured alphabets, and classifies the learned machine. Targets are recorded
model files replayed through the simulated executor.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			_, err = runLearn(ctx, observability.GetLogger(), cfg, args, modelDir, out, NewStoreProvider(), cmd.OutOrStdout())
			return err
		},
	}

	addOutputFlags(learnCmd, &out)
	learnCmd.Flags().StringVar(&modelDir, "model-dir", "", "Directory receiving the learned model of every target.")
	learnCmd.Flags().StringSlice("alphabet", nil, "Alphabet files escalated through, in order. (Overrides config/env)")
	learnCmd.Flags().String("flows", "", "Flow definition file for the flow analyzer. (Overrides config/env)")
	learnCmd.Flags().Bool("no-analysis", false, "Skip classification of the learned machine.")
	learnCmd.Flags().Float64("noise", 0, "Probability of corrupting a simulated output. (Overrides config/env)")
	learnCmd.Flags().String("equivalence", "", "Equivalence oracle: 'random' or 'wmethod'. (Overrides config/env)")
	learnCmd.Flags().Int("max-queries", 0, "Hard cap on membership queries per session. (Overrides config/env)")
	learnCmd.Flags().Duration("max-duration", 0, "Hard cap on the duration of one session. (Overrides config/env)")
	learnCmd.Flags().IntP("concurrency", "j", 0, "Number of targets learned in parallel. (Overrides config/env)")
	learnCmd.Flags().Duration("task-timeout", 0, "Timeout for one target. (Overrides config/env)")
	learnCmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address while learning. (Overrides config/env)")

	return learnCmd
}

// runLearn builds one learn task per target and runs them on the engine.
func runLearn(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	targets []string,
	modelDir string,
	out outputOptions,
	provider storeProvider,
	stdout io.Writer,
) ([]schemas.SessionSummary, error) {
	if modelDir != "" {
		if err := os.MkdirAll(modelDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create model directory: %w", err)
		}
	}

	tasks := make([]schemas.Task, 0, len(targets))
	for _, target := range targets {
		params := schemas.LearnTaskParams{}
		if modelDir != "" {
			params.ModelOut = filepath.Join(modelDir, modelFileName(target))
		}
		tasks = append(tasks, schemas.Task{
			TaskID:     uuid.NewString(),
			SessionID:  uuid.NewString(),
			Type:       schemas.TaskLearn,
			Target:     target,
			Parameters: params,
		})
	}

	logger.Info("Starting learning",
		zap.Strings("targets", targets),
		zap.Strings("alphabets", cfg.Alphabet().Files),
		zap.Int("concurrency", cfg.Engine().WorkerConcurrency),
		zap.String("equivalence", cfg.Learner().Equivalence),
	)
	return runTasks(ctx, logger, cfg, tasks, out, provider, stdout)
}

// modelFileName derives the learned model's file name from the target.
func modelFileName(target string) string {
	base := filepath.Base(target)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		base = "target"
	}
	return base + ".learned.yaml"
}
