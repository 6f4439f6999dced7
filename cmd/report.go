// File: cmd/report.go
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/observability"
	"github.com/xkilldash9x/stateprobe/internal/reporting"
	"github.com/xkilldash9x/stateprobe/internal/results"
	"github.com/xkilldash9x/stateprobe/internal/service"
)

// storeProvider creates the data store. Tests inject a mock store through it instead of
// a live database connection.
type storeProvider interface {
	// Create returns a store, a cleanup function releasing its resources, and an error.
	Create(ctx context.Context, cfg config.Interface) (schemas.Store, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider creates the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the configured database, applies the schema and returns the store
// with a cleanup function that closes the pool.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (schemas.Store, func(), error) {
	storeService, handle, err := service.InitializeStore(ctx, cfg, observability.GetLogger())
	if err != nil {
		return nil, nil, err
	}
	return storeService, handle.Close, nil
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var sessionID string
	var outputPath string
	var format string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a report for a stored session",
		Long: `Loads the findings recorded for a session from the database and writes them as
a SARIF or JSON report. Duplicate findings are dropped and the rest are sorted
by severity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, sessionID, outputPath, format, provider, cmd.OutOrStdout())
		},
	}

	reportCmd.Flags().StringVar(&sessionID, "session-id", "", "The session to generate a report for (required)")
	_ = reportCmd.MarkFlagRequired("session-id")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path. If unset, the findings are printed to stdout as JSON.")
	reportCmd.Flags().StringVarP(&format, "format", "f", "sarif", "Format for the output report ('sarif' or 'json').")

	return reportCmd
}

// runReport contains the testable core of the report command.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	sessionID, outputPath, format string,
	provider storeProvider,
	stdout io.Writer,
) error {
	logger.Info("Starting report generation", zap.String("session_id", sessionID))

	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	processed, err := results.NewPipeline(storeService, logger).ProcessSession(ctx, sessionID)
	if err != nil {
		logger.Error("Failed to process results", zap.Error(err), zap.String("session_id", sessionID))
		return fmt.Errorf("failed to process session results: %w", err)
	}

	envelope := &schemas.ResultEnvelope{
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Findings:  processed.Findings,
	}

	if outputPath == "" {
		return printEnvelope(stdout, envelope)
	}
	return writeReportFile(logger, envelope, outputPath, format)
}

// writeReportFile writes the envelope through the reporting module.
func writeReportFile(logger *zap.Logger, envelope *schemas.ResultEnvelope, outputPath, format string) error {
	reporter, err := reporting.New(format, outputPath, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	if err := reporter.Write(envelope); err != nil {
		reporter.Close()
		return fmt.Errorf("failed to write report file: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	logger.Info("Report successfully written to file", zap.String("path", outputPath), zap.Int("findings", len(envelope.Findings)))
	return nil
}

// printEnvelope prints the envelope as indented JSON.
func printEnvelope(w io.Writer, envelope *schemas.ResultEnvelope) error {
	reportJSON, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize report to JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(reportJSON))
	return err
}
