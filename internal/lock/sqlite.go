package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/cronrun/internal/sqlitedb"
)

// SQLiteMigration creates the lock table.
var SQLiteMigration = sqlitedb.Migration{
	Component: "locks",
	Version:   1,
	Statements: []string{
		`CREATE TABLE IF NOT EXISTS cron_locks (
			name        TEXT PRIMARY KEY,
			owner       TEXT NOT NULL,
			pid         INTEGER NOT NULL,
			hostname    TEXT NOT NULL,
			acquired_at INTEGER NOT NULL,
			timeout_ms  INTEGER NOT NULL
		)`,
	},
}

// SQLiteStore keeps leases in a SQLite table. The primary key on name plus
// INSERT ... ON CONFLICT DO NOTHING gives atomic acquisition across
// processes sharing the database file.
type SQLiteStore struct {
	db     *sql.DB
	closer bool
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens the database at path and migrates the lock table.
// The store owns the connection and closes it on Close.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(ctx, path, SQLiteMigration)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, closer: true}, nil
}

// NewSQLiteStore wraps an already migrated database. Close leaves db open.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, lease Lease) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_locks (name, owner, pid, hostname, acquired_at, timeout_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		lease.Name, lease.Owner, lease.PID, lease.Hostname,
		lease.AcquiredAt.UnixNano(), lease.Timeout.Milliseconds(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: insert lease %s: %w", lease.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: insert lease %s: %w", lease.Name, err)
	}
	return n == 1, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, name string) (Lease, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, owner, pid, hostname, acquired_at, timeout_ms FROM cron_locks WHERE name = ?`, name)
	l, err := scanLease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Lease{}, ErrNotFound
	}
	if err != nil {
		return Lease{}, fmt.Errorf("sqlite: get lease %s: %w", name, err)
	}
	return l, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, name, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cron_locks WHERE name = ? AND (? = '' OR owner = ?)`, name, owner, owner)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: delete lease %s: %w", name, err)
	}
	return n > 0, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Lease, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, owner, pid, hostname, acquired_at, timeout_ms FROM cron_locks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list leases: %w", err)
	}
	defer rows.Close()

	var leases []Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan lease: %w", err)
		}
		leases = append(leases, l)
	}
	return leases, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if !s.closer {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLease(row scanner) (Lease, error) {
	var (
		l          Lease
		acquiredAt int64
		timeoutMS  int64
	)
	if err := row.Scan(&l.Name, &l.Owner, &l.PID, &l.Hostname, &acquiredAt, &timeoutMS); err != nil {
		return Lease{}, err
	}
	l.AcquiredAt = time.Unix(0, acquiredAt)
	l.Timeout = time.Duration(timeoutMS) * time.Millisecond
	return l, nil
}
