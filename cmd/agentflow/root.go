package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"agentflow/internal/app"
)

type cliOptions struct {
	configPath string
	logLevel   string
	dev        bool
	jsonOutput bool
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := cliOptions{
		configPath: "agentflow.yaml",
		logLevel:   "warn",
		logger:     zap.NewNop(),
	}

	root := &cobra.Command{
		Use:           "agentflow",
		Short:         "Run chat and voice agent pipelines against remote MCP tool servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			applyRootFlagBindings(cmd, &opts)
			logger, err := app.NewLogger(app.LoggingConfig{Level: opts.logLevel, Development: opts.dev})
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to config file (yaml or toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.dev, "dev", false, "human-readable development logging")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output JSON")

	root.AddCommand(
		newRunCmd(&opts),
		newServeCmd(&opts),
		newValidateCmd(&opts),
		newServersCmd(&opts),
		newGraphCmd(&opts),
		newRunsCmd(&opts),
		newHealthCmd(&opts),
	)

	return root
}

func applyRootFlagBindings(cmd *cobra.Command, opts *cliOptions) {
	flags := cmd.Flags()
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "config":
			opts.configPath, _ = flags.GetString("config")
		case "log-level":
			opts.logLevel, _ = flags.GetString("log-level")
		case "dev":
			opts.dev, _ = flags.GetBool("dev")
		case "json":
			opts.jsonOutput, _ = flags.GetBool("json")
		}
	})
}
