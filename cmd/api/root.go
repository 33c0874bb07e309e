package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devicehub/server/internal/config"
	"github.com/devicehub/server/internal/db"
	"github.com/devicehub/server/internal/logging"
)

// newRootCommand creates the devicehub command with its subcommands
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "devicehub",
		Short:         "Device trading server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSeedCommand())

	return cmd
}

// env is what every subcommand needs: configuration, a logger and an open,
// migrated database.
type env struct {
	cfg    *config.Config
	logger *logrus.Logger
	db     *sql.DB
}

func setup(ctx context.Context, migrate bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	database, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if migrate {
		if err := db.Migrate(database, cfg.DBDriver, logger); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &env{cfg: cfg, logger: logger, db: database}, nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer e.db.Close()

			version, err := db.Version(e.db, e.cfg.DBDriver)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}
