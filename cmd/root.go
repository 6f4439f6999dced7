// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/observability"
)

type configKey struct{}

// flagBindings maps command flags onto the viper keys they override. A flag only takes
// effect on the commands that define it.
var flagBindings = map[string]string{
	"concurrency":  "engine.worker_concurrency",
	"task-timeout": "engine.default_task_timeout",
	"alphabet":     "alphabet.files",
	"flows":        "analysis.flows_file",
	"noise":        "sul.noise",
	"equivalence":  "learner.equivalence",
	"max-queries":  "limits.max_queries",
	"max-duration": "limits.max_duration",
	"metrics-addr": "metrics.addr",
	"threshold":    "compare.threshold",
	"log-level":    "logger.level",
}

// NewRootCommand builds a fresh command tree. Every invocation gets its own viper
// instance, so flags from one run never leak into the next.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "stateprobe",
		Short: "stateprobe learns protocol state machines and hunts for state machine bugs.",
		Long: `stateprobe drives a protocol implementation through active automata learning,
builds a Mealy machine model of its state machine and classifies the deviations
found in the model.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			if noAnalysis, _ := cmd.Flags().GetBool("no-analysis"); noAnalysis {
				cfg.AnalysisCfg.Enabled = false
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Configuration loaded",
				zap.String("version", Version),
				zap.String("config_file", v.ConfigFileUsed()))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey{}, cfg))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error). (Overrides config/env)")
	rootCmd.SetVersionTemplate(`{{printf "stateprobe version %s\n" .Version}}`)

	rootCmd.AddCommand(
		newLearnCmd(),
		newAnalyzeCmd(),
		newCompareCmd(),
		newReportCmd(NewStoreProvider()),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with ctx, which should be cancelled on interrupt.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Command aborted", zap.Error(err))
		} else {
			fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		}
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and environment, then binds the flags the
// running command defines.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("STATEPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagBindings {
		if key == "" {
			continue
		}
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}
	return nil
}

// getConfigFromContext returns the configuration installed by the root command.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	if ctx == nil {
		return nil, errors.New("no context available")
	}
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not initialized")
	}
	return cfg, nil
}
