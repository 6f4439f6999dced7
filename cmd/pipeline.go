// File: cmd/pipeline.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/reporting"
	"github.com/xkilldash9x/stateprobe/internal/service"
)

// outputOptions controls where task results go besides the console summary.
type outputOptions struct {
	OutputPath string
	Format     string
	Persist    bool
}

func addOutputFlags(cmd *cobra.Command, opts *outputOptions) {
	cmd.Flags().StringVarP(&opts.OutputPath, "output", "o", "", "Output file path for the report. If unset, no report is written.")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "sarif", "Format for the output report ('sarif' or 'json').")
	cmd.Flags().BoolVar(&opts.Persist, "store", false, "Persist findings and sessions to the configured database.")
}

// tally records every envelope the engine persists, for the console summary, and forwards
// it to the sink when there is one.
type tally struct {
	mu       sync.Mutex
	next     reporting.Persister
	sessions []schemas.SessionSummary
	findings int
}

func (t *tally) PersistData(ctx context.Context, envelope *schemas.ResultEnvelope) error {
	t.mu.Lock()
	t.sessions = append(t.sessions, envelope.Sessions...)
	t.findings += len(envelope.Findings)
	t.mu.Unlock()
	if t.next == nil {
		return nil
	}
	return t.next.PersistData(ctx, envelope)
}

// runTasks executes tasks on the engine and writes the configured outputs. It returns the
// recorded session summaries.
func runTasks(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	tasks []schemas.Task,
	opts outputOptions,
	provider storeProvider,
	stdout io.Writer,
) ([]schemas.SessionSummary, error) {
	var reporter reporting.Reporter
	if opts.OutputPath != "" {
		r, err := reporting.New(opts.Format, opts.OutputPath, Version, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize reporter: %w", err)
		}
		reporter = r
	}

	var persister reporting.Persister
	if opts.Persist {
		st, cleanup, err := provider.Create(ctx, cfg)
		if err != nil {
			if reporter != nil {
				reporter.Close()
			}
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		if cleanup != nil {
			defer cleanup()
		}
		persister = st
	}

	results := &tally{}
	var sink *reporting.Sink
	if reporter != nil || persister != nil {
		s, err := reporting.NewSink(reporter, persister, logger)
		if err != nil {
			return nil, err
		}
		sink = s
		results.next = s
	}

	components, err := service.NewComponents(cfg, logger, results)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	metricsCtx, stopMetrics := context.WithCancel(gctx)
	defer stopMetrics()
	if components.Metrics != nil {
		addr := cfg.Metrics().Addr
		g.Go(func() error { return components.Metrics.Serve(metricsCtx, addr, logger) })
	}

	var runErr error
	if len(tasks) > 0 {
		_, runErr = components.Orchestrator.Run(ctx, uuid.NewString(), tasks)
	}

	stopMetrics()
	metricsErr := g.Wait()

	var errs []error
	if sink != nil {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to finalize report: %w", err))
		}
	}
	if metricsErr != nil && !errors.Is(metricsErr, context.Canceled) {
		errs = append(errs, fmt.Errorf("metrics server: %w", metricsErr))
	}
	if runErr != nil {
		errs = append(errs, runErr)
	}

	printSummary(stdout, results.sessions, results.findings)
	if len(results.sessions) == 0 && len(tasks) > 0 && len(errs) == 0 {
		errs = append(errs, errors.New("no task produced results; see the log for task errors"))
	}
	return results.sessions, errors.Join(errs...)
}

// printSummary writes one line per recorded session.
func printSummary(w io.Writer, sessions []schemas.SessionSummary, findings int) {
	if len(sessions) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTAGE\tTARGET\tSTATES\tCOMPLETE\tQUERIES\tFINDINGS")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%t\t%d\t%d\n",
			s.SessionID, s.Stage, s.Target, s.States, s.Complete, s.Queries, s.Findings)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d session(s), %d finding(s)\n", len(sessions), findings)
}
