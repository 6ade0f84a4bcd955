package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Migration struct {
	Version int
	UpSQL   string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	cascade_name TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('succeeded','failed','timed_out','canceled')),
	tier TEXT NOT NULL DEFAULT '',
	value_json TEXT,
	error TEXT NOT NULL DEFAULT '',
	history_json TEXT NOT NULL,
	context_json TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_created_at ON runs(created_at DESC);

CREATE TABLE IF NOT EXISTS events (
	event_id INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT NOT NULL,
	span_id TEXT NOT NULL,
	who TEXT NOT NULL,
	what TEXT NOT NULL,
	at TEXT NOT NULL,
	where_name TEXT NOT NULL,
	why TEXT NOT NULL DEFAULT '',
	how_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS events_correlation ON events(correlation_id, event_id);
`,
	},
	{
		Version: 2,
		UpSQL:   `CREATE INDEX IF NOT EXISTS runs_cascade ON runs(cascade_name, created_at DESC);`,
	},
}

// ApplyMigrations brings the schema up to date. Applied versions are skipped.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a fresh database.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}
