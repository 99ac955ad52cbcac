package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists run entries in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the runs table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.createTable(); err != nil {
		return nil, fmt.Errorf("create audit table: %w", err)
	}
	return s, nil
}

// NewSQLiteSink wraps a SQLite store in a batching sink.
func NewSQLiteSink(db *sql.DB, cfg BufferConfig, logger zerolog.Logger) (*Buffered, *SQLiteStore, error) {
	store, err := NewSQLiteStore(db)
	if err != nil {
		return nil, nil, err
	}
	return NewBuffered(store, cfg, logger), store, nil
}

func (s *SQLiteStore) createTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS action_runs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			module TEXT,
			trace_id TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT,
			output TEXT,
			error TEXT,
			duration_ms INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			attempt INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_action_runs_started ON action_runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_action_runs_action ON action_runs(action);
		CREATE INDEX IF NOT EXISTS idx_action_runs_trace ON action_runs(trace_id);
	`)
	return err
}

// Write inserts entries in one transaction.
func (s *SQLiteStore) Write(ctx context.Context, entries []RunEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO action_runs (
			id, action, module, trace_id, trigger_type, status,
			input, output, error, duration_ms, started_at, attempt
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.StartedAt.IsZero() {
			e.StartedAt = time.Now()
		}
		_, err := stmt.ExecContext(ctx,
			e.ID, e.ActionName, e.ModuleName, e.TraceID, e.TriggerType, string(e.Status),
			encode(e.Input), encode(e.Output), e.Error,
			e.DurationMs, e.StartedAt.UTC().Format(timeLayout), e.Attempt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func encode(v any) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{String: fmt.Sprintf("%q", fmt.Sprint(v)), Valid: true}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func decode(ns sql.NullString) any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return ns.String
	}
	return v
}

// QueryOptions filters stored runs.
type QueryOptions struct {
	Action  string
	Module  string
	TraceID string
	Status  Status
	Since   time.Time
	Limit   int
	Offset  int
}

// Query returns matching runs, newest first, and the total match count.
func (s *SQLiteStore) Query(ctx context.Context, opts QueryOptions) ([]RunEntry, int64, error) {
	var conditions []string
	var args []any

	if opts.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, opts.Action)
	}
	if opts.Module != "" {
		conditions = append(conditions, "module = ?")
		args = append(args, opts.Module)
	}
	if opts.TraceID != "" {
		conditions = append(conditions, "trace_id = ?")
		args = append(args, opts.TraceID)
	}
	if opts.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(opts.Status))
	}
	if !opts.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, opts.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM action_runs "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := 100
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	query := fmt.Sprintf(`
		SELECT id, action, module, trace_id, trigger_type, status,
			input, output, error, duration_ms, started_at, attempt
		FROM action_runs %s
		ORDER BY started_at DESC, attempt DESC
		LIMIT ? OFFSET ?
	`, where)
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var e RunEntry
		var module, input, output, errMsg sql.NullString
		var status, started string
		if err := rows.Scan(
			&e.ID, &e.ActionName, &module, &e.TraceID, &e.TriggerType, &status,
			&input, &output, &errMsg, &e.DurationMs, &started, &e.Attempt,
		); err != nil {
			return nil, 0, err
		}
		e.ModuleName = module.String
		e.Status = Status(status)
		e.Input = decode(input)
		e.Output = decode(output)
		e.Error = errMsg.String
		e.StartedAt, _ = time.Parse(timeLayout, started)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// Recent returns the newest runs.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]RunEntry, error) {
	out, _, err := s.Query(ctx, QueryOptions{Limit: limit})
	return out, err
}

// Summary aggregates runs of one action.
type Summary struct {
	Action        string  `json:"action"`
	Total         int64   `json:"total"`
	Succeeded     int64   `json:"succeeded"`
	Failed        int64   `json:"failed"`
	Retries       int64   `json:"retries"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs int64   `json:"max_duration_ms"`
}

// Summarize groups runs since the given time by action.
func (s *SQLiteStore) Summarize(ctx context.Context, since time.Time) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action,
			COUNT(*),
			SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END),
			SUM(CASE WHEN attempt > 1 THEN 1 ELSE 0 END),
			COALESCE(AVG(duration_ms), 0),
			COALESCE(MAX(duration_ms), 0)
		FROM action_runs
		WHERE started_at >= ?
		GROUP BY action
		ORDER BY action
	`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.Action, &sum.Total, &sum.Succeeded, &sum.Failed,
			&sum.Retries, &sum.AvgDurationMs, &sum.MaxDurationMs); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes runs that started before the given time.
func (s *SQLiteStore) Delete(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM action_runs WHERE started_at < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
