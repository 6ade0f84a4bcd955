package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/trace"
)

// Fixed width so that text order is time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating when missing) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Create(ctx context.Context, run Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	value, err := nullableJSON(run.Value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	history, err := json.Marshal(nonNilHistory(run.History))
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	var sc any
	if run.Context != nil {
		b, err := json.Marshal(run.Context)
		if err != nil {
			return fmt.Errorf("encode context: %w", err)
		}
		sc = string(b)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs(run_id, cascade_name, correlation_id, status, tier, value_json, error, history_json, context_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.ID, run.Cascade, run.CorrelationID, string(run.Status), run.Tier, value, run.Error, string(history), sc, ts(run.CreatedAt))
	if isUniqueErr(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `run_id, cascade_name, correlation_id, status, tier, value_json, error, history_json, context_json, created_at`

func (s *SQLite) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *SQLite) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) AppendEvent(ctx context.Context, ev audit.Event) error {
	how, err := json.Marshal(ev.How)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO events(correlation_id, span_id, who, what, at, where_name, why, how_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, ev.CorrelationID, ev.SpanID, ev.Who, ev.What, ts(ev.When), ev.Where, ev.Why, string(how))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLite) Events(ctx context.Context, correlationID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT correlation_id, span_id, who, what, at, where_name, why, how_json
FROM events WHERE correlation_id = ? ORDER BY event_id
`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := []audit.Event{}
	for rows.Next() {
		var (
			ev      audit.Event
			at, how string
		)
		if err := rows.Scan(&ev.CorrelationID, &ev.SpanID, &ev.Who, &ev.What, &at, &ev.Where, &ev.Why, &how); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.When, err = parseTS(at); err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		if err := json.Unmarshal([]byte(how), &ev.How); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run                 Run
		status, history, at string
		value, sc           sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Cascade, &run.CorrelationID, &status, &run.Tier, &value, &run.Error, &history, &sc, &at); err != nil {
		return Run{}, err
	}
	run.Status = Status(status)

	var err error
	if run.CreatedAt, err = parseTS(at); err != nil {
		return Run{}, fmt.Errorf("parse created_at: %w", err)
	}
	if value.Valid {
		if err := json.Unmarshal([]byte(value.String), &run.Value); err != nil {
			return Run{}, fmt.Errorf("decode value: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(history), &run.History); err != nil {
		return Run{}, fmt.Errorf("decode history: %w", err)
	}
	if sc.Valid {
		run.Context = &trace.Serialized{}
		if err := json.Unmarshal([]byte(sc.String), run.Context); err != nil {
			return Run{}, fmt.Errorf("decode context: %w", err)
		}
	}
	return run, nil
}

func nullableJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nonNilHistory(h []cascade.TierRecord) []cascade.TierRecord {
	if h == nil {
		return []cascade.TierRecord{}
	}
	return h
}

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
