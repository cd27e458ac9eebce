// Package db embeds the schema migrations and applies them with
// golang-migrate. The schema is the two-table log store: ingest_batch
// for batch lifecycle tracking and log_event for parsed entries with
// their pgvector embeddings.
package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx v5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// newMigrator builds a migrate instance over the embedded migrations
// for the given postgres:// or postgresql:// URL.
func newMigrator(connURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	dbURL, err := toMigrateURL(connURL)
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

func closeMigrator(m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		slog.Warn("failed to close migration source", "error", srcErr)
	}
	if dbErr != nil {
		slog.Warn("failed to close migration database connection", "error", dbErr)
	}
}

// Migrate applies all pending migrations in order. Already-applied
// versions are skipped via the schema_migrations bookkeeping table.
// A dirty state (a previous run died mid-migration) aborts before any
// work; it needs manual inspection and a `migrate force`.
func Migrate(connURL string) error {
	m, err := newMigrator(connURL)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("check migration version: %w", err)
	}
	if dirty {
		slog.Error("database schema is dirty, refusing to migrate",
			"version", version,
			"hint", fmt.Sprintf("inspect the schema, then: migrate force %d", version))
		return fmt.Errorf("database in dirty state (version=%d), manual cleanup required", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Debug("schema up to date")
			return nil
		}

		// A failed migration leaves the dirty flag set; surface that
		// immediately so the operator knows recovery is needed.
		if v, d, verr := m.Version(); verr == nil && d {
			slog.Error("migration failed, schema now dirty",
				"version", v,
				"hint", fmt.Sprintf("fix the migration, then: migrate force %d", v))
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	if v, d, verr := m.Version(); verr == nil {
		slog.Info("migrations applied", "version", v, "dirty", d)
	}
	return nil
}

// Status reports the current schema version and dirty flag. A fresh
// database with no applied migrations reports version 0.
func Status(connURL string) (version uint, dirty bool, err error) {
	m, err := newMigrator(connURL)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(m)

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("check migration version: %w", err)
	}
	return version, dirty, nil
}

// toMigrateURL rewrites a postgres:// URL to the pgx5:// scheme that
// selects golang-migrate's pgx v5 driver.
func toMigrateURL(connURL string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("parse database URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
		return u.String(), nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme %q (expected postgres or postgresql)", u.Scheme)
	}
}
