package cli

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/visitor_gate/internal/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var versionOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), versionOnly)
		},
	}

	cmd.Flags().BoolVar(&versionOnly, "version", false, "print current schema version and exit")
	return cmd
}

func runMigrate(ctx context.Context, versionOnly bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Только БД: брокеры и бот для миграций не нужны
	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	defer pool.Close()

	migrator, err := app.NewMigrator(pool, logger.Named("migrations"))
	if err != nil {
		return err
	}
	defer migrator.Close()

	if versionOnly {
		version, err := migrator.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Schema version: %d\n", version)
		return nil
	}

	return migrator.Run(ctx)
}
