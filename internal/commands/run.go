package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gaborage/go-retrieval/config"
	"github.com/gaborage/go-retrieval/logger"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	ConfigFile string
	EnvFiles   []string
}

// NewRunCommand creates the run command.
func NewRunCommand(version string) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the recurring fetchers and the status API",
		Long: `Loads the configuration, schedules every configured fetcher and serves the
/_sys/fetch status API until SIGINT or SIGTERM is received.

Configuration is read from defaults, then the YAML file, then RETRIEVAL_* environment
variables. Env files are loaded into the process environment first.`,
		Example: `  # Run with ./config.yaml when present
  retrievald run

  # Run with an explicit config and local overrides
  retrievald run --config /etc/retrievald.yaml --env-file .env.local --env-file .env`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, opts, version)
		},
	}

	// Flags
	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "Path to the YAML configuration file (default ./"+config.DefaultFile+" when present)")
	cmd.Flags().StringSliceVarP(&opts.EnvFiles, "env-file", "e", nil, "Env files to load before reading configuration")

	return cmd
}

func runDaemon(cmd *cobra.Command, opts *RunOptions, version string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log := logger.NewWithWriter(cmd.OutOrStdout(), cfg.Log.Level, cfg.Log.Pretty)
	log.Info().
		Str("version", version).
		Int("fetchers", len(cfg.Fetchers)).
		Msg("Starting retrievald")

	d, err := NewDaemon(cfg, log, version)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("retrievald stopped")
	return nil
}

func loadConfig(opts *RunOptions) (*config.Config, error) {
	if len(opts.EnvFiles) > 0 {
		if err := godotenv.Load(opts.EnvFiles...); err != nil {
			return nil, fmt.Errorf("failed to load env files: %w", err)
		}
	}

	if opts.ConfigFile != "" {
		return config.LoadFrom(opts.ConfigFile)
	}
	return config.Load()
}
