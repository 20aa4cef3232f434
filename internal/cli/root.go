// Package cli implements the tribute command line.
package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	app "github.com/R3E-Network/tribute_layer/internal/app"
	"github.com/R3E-Network/tribute_layer/internal/config"
	"github.com/R3E-Network/tribute_layer/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tribute",
		Short: "Memorial engagement scoring and ledger commits",
		Long: `tribute serves the engagement API, ranks memorials by heat and drives
ledger transactions from submission to finality.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultPath, "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "override log format (text|json)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTickCommand(opts))
	cmd.AddCommand(NewLeaderboardCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

// load reads configuration and builds the root logger.
func (o *RootOptions) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load configuration", err)
	}
	if lvl := strings.TrimSpace(o.LogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if f := strings.TrimSpace(o.LogFormat); f != "" {
		cfg.Logging.Format = f
	}
	return cfg, logger.New(cfg.Logging).Named("tribute"), nil
}

// open loads configuration and connects the application.
func (o *RootOptions) open(ctx context.Context) (*config.Config, *app.Application, *logger.Logger, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, nil, nil, err
	}
	application, err := app.Open(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitUnavailable, "open application", err)
	}
	return cfg, application, log, nil
}

func stopQuietly(ctx context.Context, application *app.Application, log *logger.Logger) {
	if err := application.Stop(ctx); err != nil {
		log.WithError(err).Warn("shutdown reported errors")
	}
}
