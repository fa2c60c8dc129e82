package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// runMigrateUp applies every pending migration.
func runMigrateUp(cmd *cobra.Command, args []string) error {
	m, cleanup, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("No pending migrations")
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}
	v, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Printf("Schema at version %d (dirty=%v)\n", v, dirty)
	return nil
}

// runMigrateDown rolls back one migration.
func runMigrateDown(cmd *cobra.Command, args []string) error {
	m, cleanup, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("Nothing to roll back")
			return nil
		}
		return fmt.Errorf("migrate down: %w", err)
	}
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		fmt.Println("Schema rolled back to empty")
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Printf("Schema at version %d (dirty=%v)\n", v, dirty)
	return nil
}

// newMigrator opens a dedicated connection for migrations; the full service
// graph is not needed here.
func newMigrator(cmd *cobra.Command) (*migrate.Migrate, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	dir, _ := cmd.Flags().GetString("dir")

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open migrations %s: %w", dir, err)
	}

	cleanup := func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			log.Warn().Err(srcErr).Msg("migration source close failed")
		}
		if dbErr != nil {
			log.Warn().Err(dbErr).Msg("migration database close failed")
		}
	}
	return m, cleanup, nil
}
