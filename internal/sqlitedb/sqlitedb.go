// Package sqlitedb opens the SQLite databases used for lock records and run
// history. It uses modernc.org/sqlite (pure Go, no CGO) in WAL mode so that
// overlapping cronrun processes can share one file.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// DefaultBusyTimeout is how long, in milliseconds, a writer waits for
// another process holding the database lock.
const DefaultBusyTimeout = 5000

// Migration is the schema of one component at one version.
type Migration struct {
	// Component scopes the version so several components can share a file.
	Component  string
	Version    int
	Statements []string
}

// Open opens (creating if needed) the database at path with WAL mode, a
// busy timeout and a single connection, then applies migrations.
func Open(ctx context.Context, path string, migrations ...Migration) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", DefaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	for _, m := range migrations {
		if err := Migrate(ctx, db, m); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Migrate applies m if the recorded version for m.Component is older.
func Migrate(ctx context.Context, db *sql.DB, m Migration) error {
	if _, err := db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS schema_version (component TEXT PRIMARY KEY, version INTEGER NOT NULL)",
	); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version WHERE component = ?", m.Component,
	).Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version for %s: %w", m.Component, err)
	}

	if current >= m.Version {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin migration for %s: %w", m.Component, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate %s: %w\nstatement: %s", m.Component, err, stmt)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO schema_version (component, version) VALUES (?, ?)", m.Component, m.Version,
	); err != nil {
		return fmt.Errorf("sqlite: record schema version for %s: %w", m.Component, err)
	}

	return tx.Commit()
}
