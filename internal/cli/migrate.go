package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	app "github.com/R3E-Network/tribute_layer/internal/app"
	"github.com/R3E-Network/tribute_layer/internal/platform/migrations"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Database.DSN) == "" {
				return WrapExitError(ExitCommandError, "migrate", errors.New("database.dsn is not configured"))
			}

			ctx := cmd.Context()
			db, err := app.OpenDatabase(ctx, cfg.Database)
			if err != nil {
				return WrapExitError(ExitUnavailable, "migrate", err)
			}
			defer db.Close()

			version, err := migrations.Apply(ctx, db)
			if err != nil {
				return WrapExitError(ExitFailure, "migrate", err)
			}
			log.WithField("version", version).Info("schema migrated")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return err
		},
	})
	return cmd
}
