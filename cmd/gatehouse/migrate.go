// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/store"
)

// migratorIface abstracts store.Migrator so the command logic can be
// tested without a database.
type migratorIface interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
	Close() error
}

// migratorFactory creates a migrator for a database URL. Swapped in tests.
var migratorFactory = func(databaseURL string) (migratorIface, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand and its children.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations (destroys all data)",
		RunE:  runMigrateDown,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE:  runMigrateStatus,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations",
		Long: `Set the recorded schema version without running any migrations.
Use only to recover from a dirty state after fixing the database by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: runMigrateForce,
	})

	return cmd
}

// openMigrator loads config for the database URL and builds a migrator.
func openMigrator() (migratorIface, error) {
	cfg, err := config.Load(resolveConfigFile(), nil)
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, oops.Code("CONFIG_INVALID").
			Errorf("database.url or the DATABASE_URL environment variable is required")
	}
	return migratorFactory(cfg.Database.URL)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, m)

	pending, err := m.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		cmd.Println("Schema is up to date")
		return nil
	}

	if err := m.Up(); err != nil {
		return err
	}
	cmd.Printf("Applied %d migration(s)\n", len(pending))
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	m, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, m)

	if err := m.Down(); err != nil {
		return err
	}
	cmd.Println("Rolled back all migrations")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	m, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, m)

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}

	if version == 0 {
		cmd.Println("Current version: none")
	} else {
		name, nameErr := store.MigrationName(version)
		if nameErr != nil || name == "" {
			name = "unknown"
		}
		cmd.Printf("Current version: %d (%s)\n", version, name)
	}
	if dirty {
		cmd.Println("WARNING: schema is dirty; fix the database and run 'migrate force'")
	}

	pending, err := m.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		cmd.Println("Pending: none")
		return nil
	}
	for _, v := range pending {
		name, nameErr := store.MigrationName(v)
		if nameErr != nil || name == "" {
			name = "unknown"
		}
		cmd.Printf("Pending: %d (%s)\n", v, name)
	}
	return nil
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	var version int
	if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
		return oops.Code("INVALID_VERSION").
			Errorf("version must be an integer, got %q", args[0])
	}
	if version < 0 {
		return oops.Code("INVALID_VERSION").
			Errorf("version must be non-negative, got %d", version)
	}

	m, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, m)

	if err := m.Force(version); err != nil {
		return err
	}
	cmd.Printf("Schema version forced to %d\n", version)
	return nil
}

func closeMigrator(cmd *cobra.Command, m migratorIface) {
	if err := m.Close(); err != nil {
		cmd.PrintErrln("warning: failed to close migrator:", err)
	}
}
