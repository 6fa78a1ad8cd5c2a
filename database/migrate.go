package database

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
)

// MigrateUp applies every pending migration and returns the resulting schema version
func MigrateUp(connString string) (uint, error) {
	m, err := GetMigrate(connString)
	if err != nil {
		return 0, err
	}
	defer closeMigrator(m)

	if err := ignoreNoChange(m.Up()); err != nil {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return currentVersion(m)
}

// MigrateDown reverts the given number of migrations. A value of zero or less reverts all of them.
func MigrateDown(connString string, steps int) (uint, error) {
	m, err := GetMigrate(connString)
	if err != nil {
		return 0, err
	}
	defer closeMigrator(m)

	if steps <= 0 {
		err = m.Down()
	} else {
		err = m.Steps(-steps)
	}
	if err := ignoreNoChange(err); err != nil {
		return 0, fmt.Errorf("failed to revert migrations: %w", err)
	}
	return currentVersion(m)
}

func currentVersion(m Migrator) (uint, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("database schema is dirty at version %d", version)
	}
	return version, nil
}

func closeMigrator(m Migrator) {
	srcErr, dbErr := m.Close()
	if srcErr != nil || dbErr != nil {
		slog.Warn("Failed to close migrator", "source_error", srcErr, "database_error", dbErr)
	}
}
