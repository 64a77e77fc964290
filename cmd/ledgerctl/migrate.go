package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/blagoySimandov/transcriptmagic/internal/config"
	"github.com/blagoySimandov/transcriptmagic/internal/db"
	"github.com/blagoySimandov/transcriptmagic/migrations"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage SQL schema migrations",
}

func newMigrator(ctx context.Context) (*migrate.Migrator, *bun.DB, error) {
	cfg := loadConfig()

	var bunDB *bun.DB
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		bunDB = db.NewBunPostgresClient(cfg.DatabaseURL)
	case config.StoreBackendSQLite:
		var err error
		bunDB, err = db.NewBunSQLiteClient(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("store backend %q has no SQL schema", cfg.StoreBackend)
	}

	migrator := migrate.NewMigrator(bunDB, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		bunDB.Close()
		return nil, nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return migrator, bunDB, nil
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Run all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		migrator, bunDB, err := newMigrator(ctx)
		if err != nil {
			return err
		}
		defer bunDB.Close()

		group, err := migrator.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if group.IsZero() {
			fmt.Println("No new migrations to run (database is up to date)")
			return nil
		}
		fmt.Printf("Migrated to %s\n", group)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last migration group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		migrator, bunDB, err := newMigrator(ctx)
		if err != nil {
			return err
		}
		defer bunDB.Close()

		group, err := migrator.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		if group.IsZero() {
			fmt.Println("No migrations to rollback")
			return nil
		}
		fmt.Printf("Rolled back %s\n", group)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		migrator, bunDB, err := newMigrator(ctx)
		if err != nil {
			return err
		}
		defer bunDB.Close()

		ms, err := migrator.MigrationsWithStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		fmt.Printf("Migrations:\n")
		for _, m := range ms {
			status := "pending"
			if m.IsApplied() {
				status = "applied"
			}
			fmt.Printf("  %s: %s\n", m.Name, status)
		}
		return nil
	},
}

var migrateCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create new SQL migration files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		migrator, bunDB, err := newMigrator(ctx)
		if err != nil {
			return err
		}
		defer bunDB.Close()

		files, err := migrator.CreateTxSQLMigrations(ctx, strings.Join(args, "_"))
		if err != nil {
			return fmt.Errorf("failed to create migration: %w", err)
		}
		for _, f := range files {
			fmt.Printf("Created migration: %s\n", f.Path)
		}
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd, migrateCreateCmd)
	rootCmd.AddCommand(migrateCmd)
}
