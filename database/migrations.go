// Package database provides the schema migrations of the pattern catalog and
// helpers to run them against PostgreSQL.
package database

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // Registers the pgx5:// scheme
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsFromSource returns a migration source driver from the embedded migrations.
func migrationsFromSource() (source.Driver, error) {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	return d, nil
}

// Migrator is the interface for the migration tooling.
type Migrator interface {
	Up() error
	Down() error
	Steps(int) error
	Version() (uint, bool, error)
	Close() (error, error)
}

// GetMigrate returns a new migration instance from the given connection string.
// postgres:// and postgresql:// URLs are rewritten to the pgx5 driver scheme.
func GetMigrate(connString string) (Migrator, error) {
	d, err := migrationsFromSource()
	if err != nil {
		return nil, err
	}
	url, err := toMigrateURL(connString)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

func toMigrateURL(connString string) (string, error) {
	switch {
	case strings.HasPrefix(connString, "pgx5://"):
		return connString, nil
	case strings.HasPrefix(connString, "postgres://"):
		return "pgx5://" + strings.TrimPrefix(connString, "postgres://"), nil
	case strings.HasPrefix(connString, "postgresql://"):
		return "pgx5://" + strings.TrimPrefix(connString, "postgresql://"), nil
	default:
		return "", fmt.Errorf("unsupported connection string scheme, expected a postgres:// URL")
	}
}

// ignoreNoChange treats migrate.ErrNoChange as success
func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
