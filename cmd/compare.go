// File: cmd/compare.go
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/analysis/compare"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/observability"
)

// newCompareCmd creates the `compare` command.
func newCompareCmd() *cobra.Command {
	var format string
	var failOnDifference bool

	compareCmd := &cobra.Command{
		Use:   "compare [folder]",
		Short: "Compare every pair of models in a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runCompare(ctx, observability.GetLogger(), cfg, args[0], format, failOnDifference, cmd.OutOrStdout())
		},
	}

	compareCmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: 'table', 'json' or 'yaml'.")
	compareCmd.Flags().BoolVar(&failOnDifference, "fail-on-difference", false, "Exit with an error when any pair is not isomorphic.")
	compareCmd.Flags().Float64("threshold", 0, "Similarity at or above which a pair counts as similar. (Overrides config/env)")

	return compareCmd
}

// runCompare contains the testable core of the compare command.
func runCompare(ctx context.Context, logger *zap.Logger, cfg config.Interface, dir, format string, failOnDifference bool, w io.Writer) error {
	cc := cfg.Compare()
	if cc.Concurrency < 1 {
		cc.Concurrency = cfg.Engine().WorkerConcurrency
	}
	results, err := compare.CompareFolder(ctx, dir, cc, logger)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		if err := enc.Close(); err != nil {
			return err
		}
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "LEFT\tRIGHT\tISOMORPHIC\tSIMILARITY\tSIMILAR\tWITNESS")
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%.3f\t%t\t%s\n",
				r.Left, r.Right, r.Isomorphic, r.Similarity, r.Similar, alphabet.Sequence(r.Witness))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}

	if failOnDifference {
		differing := 0
		for _, r := range results {
			if !r.Isomorphic {
				differing++
			}
		}
		if differing > 0 {
			return fmt.Errorf("%d of %d model pairs differ", differing, len(results))
		}
	}
	return nil
}
