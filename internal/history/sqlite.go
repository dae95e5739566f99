package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flemzord/cronrun/internal/sqlitedb"
)

// SQLiteMigration creates the history table.
var SQLiteMigration = sqlitedb.Migration{
	Component: "history",
	Version:   1,
	Statements: []string{
		`CREATE TABLE IF NOT EXISTS cron_history (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_at       INTEGER NOT NULL,
			forced       INTEGER NOT NULL DEFAULT 0,
			job          TEXT NOT NULL,
			status       TEXT NOT NULL,
			message      TEXT NOT NULL DEFAULT '',
			error        TEXT NOT NULL DEFAULT '',
			started_at   INTEGER NOT NULL,
			finished_at  INTEGER NOT NULL,
			memory_delta INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cron_history_job ON cron_history(job, id)`,
		`CREATE INDEX IF NOT EXISTS idx_cron_history_started ON cron_history(started_at)`,
	},
}

// SQLiteStore keeps entries in a SQLite table.
type SQLiteStore struct {
	db     *sql.DB
	closer bool
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens the database at path and migrates the history
// table. The store owns the connection.
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

// Append implements Store. All entries are written in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cron_history
			(run_at, forced, job, status, message, error, started_at, finished_at, memory_delta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("history: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	ids := make([]int64, len(entries))
	for i, e := range entries {
		forced := 0
		if e.Forced {
			forced = 1
		}
		res, err := stmt.ExecContext(ctx,
			e.RunAt.UnixNano(), forced, e.Job, e.Status, e.Message, e.Error,
			e.StartedAt.UnixNano(), e.FinishedAt.UnixNano(), e.MemoryDelta,
		)
		if err != nil {
			return fmt.Errorf("history: insert %s: %w", e.Job, err)
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return fmt.Errorf("history: insert %s: %w", e.Job, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	for i := range entries {
		entries[i].ID = ids[i]
	}
	return nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(ctx context.Context, job string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_at, forced, job, status, message, error, started_at, finished_at, memory_delta
		FROM cron_history
		WHERE ? = '' OR job = ?
		ORDER BY id DESC
		LIMIT ?`,
		job, job, n,
	)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e                            Entry
			forced                       int
			runAt, startedAt, finishedAt int64
		)
		if err := rows.Scan(&e.ID, &runAt, &forced, &e.Job, &e.Status, &e.Message, &e.Error,
			&startedAt, &finishedAt, &e.MemoryDelta); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Forced = forced != 0
		e.RunAt = time.Unix(0, runAt)
		e.StartedAt = time.Unix(0, startedAt)
		e.FinishedAt = time.Unix(0, finishedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return out, nil
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_history WHERE started_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if !s.closer {
		return nil
	}
	return s.db.Close()
}
