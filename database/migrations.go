// Package database provides migration tooling for the PostgreSQL ledger.
package database

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// GetMigrate returns a migrate instance reading the embedded migrations.
// connString may use the postgres:// or postgresql:// scheme.
func GetMigrate(connString string) (*migrate.Migrate, error) {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, toPgx5Scheme(connString))
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// MigrateUp applies numSteps pending migrations, or all of them when numSteps is 0
func MigrateUp(connString string, numSteps uint) error {
	m, err := GetMigrate(connString)
	if err != nil {
		return err
	}
	defer closeMigrate(m)

	if numSteps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(int(numSteps)) // #nosec G115 -- flag values are small
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigrateDown reverts numSteps migrations, or all of them when numSteps is 0
func MigrateDown(connString string, numSteps uint) error {
	m, err := GetMigrate(connString)
	if err != nil {
		return err
	}
	defer closeMigrate(m)

	if numSteps == 0 {
		err = m.Down()
	} else {
		err = m.Steps(-int(numSteps)) // #nosec G115 -- flag values are small
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// GetVersion returns the current schema version and whether it is dirty
func GetVersion(connString string) (uint, bool, error) {
	m, err := GetMigrate(connString)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrate(m)

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func closeMigrate(m *migrate.Migrate) {
	_, _ = m.Close()
}

func toPgx5Scheme(connString string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(connString, prefix) {
			return "pgx5://" + strings.TrimPrefix(connString, prefix)
		}
	}
	return connString
}
