// Package schema holds the SQL schema of the batch tables and the ledger destination table.
package schema

import (
	"embed"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	"strings"
)

// MigrationsTable table recording the applied schema version
const MigrationsTable = "batch_schema_migrations"

const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite3"
)

//go:embed migrations
var migrations embed.FS

// MigrationURL database url understood by golang-migrate for a driver dsn
func MigrationURL(dialect, dsn string) (string, error) {
	var url string
	switch strings.ToLower(dialect) {
	case DialectMySQL:
		url = "mysql://" + dsn
	case DialectSQLite, "sqlite":
		url = "sqlite3://" + dsn
	default:
		return "", errors.Errorf("unsupported dialect: %v", dialect)
	}
	if strings.Contains(url, "?") {
		url += "&"
	} else {
		url += "?"
	}
	return url + "x-migrations-table=" + MigrationsTable, nil
}

func newMigrate(dialect, dsn string) (*migrate.Migrate, error) {
	dir := DialectSQLite
	if strings.ToLower(dialect) == DialectMySQL {
		dir = DialectMySQL
	}
	url, err := MigrationURL(dialect, dsn)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrations, "migrations/"+dir)
	if err != nil {
		return nil, errors.Wrap(err, "open embedded migrations failed")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, errors.Wrapf(err, "create migration of %v failed", dialect)
	}
	return m, nil
}

// Migrate apply all pending up migrations, returning the resulting schema version.
// An up-to-date database is not an error.
func Migrate(dialect, dsn string) (uint, error) {
	m, err := newMigrate(dialect, dsn)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err = m.Up(); err != nil && err != migrate.ErrNoChange {
		return 0, errors.Wrap(err, "apply migrations failed")
	}
	version, _, err := m.Version()
	if err != nil {
		return 0, errors.Wrap(err, "read schema version failed")
	}
	return version, nil
}

// Drop revert every migration
func Drop(dialect, dsn string) error {
	m, err := newMigrate(dialect, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err = m.Down(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "revert migrations failed")
	}
	return nil
}
