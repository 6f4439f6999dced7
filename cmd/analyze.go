// File: cmd/analyze.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/observability"
)

// newAnalyzeCmd creates the `analyze` command.
func newAnalyzeCmd() *cobra.Command {
	var out outputOptions

	analyzeCmd := &cobra.Command{
		Use:   "analyze [models...]",
		Short: "Classify deviations in recorded state machine models",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			_, err = runAnalyze(ctx, observability.GetLogger(), cfg, args, out, NewStoreProvider(), cmd.OutOrStdout())
			return err
		},
	}

	addOutputFlags(analyzeCmd, &out)
	analyzeCmd.Flags().String("flows", "", "Flow definition file for the flow analyzer. (Overrides config/env)")
	analyzeCmd.Flags().IntP("concurrency", "j", 0, "Number of models analyzed in parallel. (Overrides config/env)")

	return analyzeCmd
}

// runAnalyze builds one model analysis task per file and runs them on the engine.
func runAnalyze(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	models []string,
	out outputOptions,
	provider storeProvider,
	stdout io.Writer,
) ([]schemas.SessionSummary, error) {
	tasks := make([]schemas.Task, 0, len(models))
	for _, model := range models {
		if _, err := os.Stat(model); err != nil {
			return nil, fmt.Errorf("model %s: %w", model, err)
		}
		tasks = append(tasks, schemas.Task{
			TaskID:     uuid.NewString(),
			SessionID:  uuid.NewString(),
			Type:       schemas.TaskAnalyzeModel,
			Target:     model,
			Parameters: schemas.AnalyzeModelTaskParams{},
		})
	}
	logger.Info("Starting model analysis", zap.Strings("models", models), zap.String("flows_file", cfg.Analysis().FlowsFile))
	return runTasks(ctx, logger, cfg, tasks, out, provider, stdout)
}
