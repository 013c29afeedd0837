package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// runMigrations applies all pending migrations for the dialect and returns
// the resulting schema version. The migrate instance is not closed because
// that would close db.
func runMigrations(db *sql.DB, d dialect) (uint, error) {
	var (
		driver database.Driver
		err    error
	)
	switch d.name {
	case "postgres":
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case "sqlite":
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		return 0, fmt.Errorf("migrate: unknown dialect %q", d.name)
	}
	if err != nil {
		return 0, fmt.Errorf("migrate: create %s driver: %w", d.name, err)
	}

	source, err := iofs.New(migrationFS, "migrations/"+d.name)
	if err != nil {
		return 0, fmt.Errorf("migrate: create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, d.name, driver)
	if err != nil {
		return 0, fmt.Errorf("migrate: create instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate: up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migrate: version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migrate: schema version %d is dirty", version)
	}
	return version, nil
}
