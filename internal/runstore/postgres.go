// Package runstore provides persistence for the collection-run ledger.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/badgerdata/marketpipe/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// PostgresConfig controls the Postgres connection pool for the ledger.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres implements pipeline.RunStore on a pgx pool.
type Postgres struct {
	pool  pool
	table string
}

var _ pipeline.RunStore = (*Postgres)(nil)

// NewPostgres connects a pool using the provided config.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "collection_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: p, table: table}, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPostgresWithPool(p pool, table string) (*Postgres, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "collection_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{pool: p, table: table}, nil
}

// EnsureSchema creates the ledger table if it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	table_name TEXT NOT NULL,
	trigger TEXT NOT NULL,
	status TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error_text TEXT NOT NULL DEFAULT '',
	rows_fetched INTEGER NOT NULL DEFAULT 0,
	rows_deduped INTEGER NOT NULL DEFAULT 0,
	rows_loaded INTEGER NOT NULL DEFAULT 0,
	rows_sampled INTEGER NOT NULL DEFAULT 0
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *Postgres) CreateRun(ctx context.Context, run pipeline.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, source, table_name, trigger, status, submitted_at, error_text,
	rows_fetched, rows_deduped, rows_loaded, rows_sampled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, s.table)
	_, err := s.pool.Exec(ctx, query,
		run.ID, run.Source, run.Table, string(run.Trigger), string(run.Status),
		run.Submitted, run.ErrorText,
		run.Counters.RowsFetched, run.Counters.RowsDeduped,
		run.Counters.RowsLoaded, run.Counters.RowsSampled,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// MarkRunStarted transitions a run to running.
func (s *Postgres) MarkRunStarted(ctx context.Context, runID string, started time.Time) error {
	query := fmt.Sprintf(
		`UPDATE %s SET status = $2, started_at = $3 WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, runID, string(pipeline.RunStatusRunning), started)
	if err != nil {
		return fmt.Errorf("mark run %s started: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark run %s started: %w", runID, ErrRunNotFound)
	}
	return nil
}

// UpdateRunStatus records the final (or intermediate) state and counters.
// Terminal statuses also stamp finished_at.
func (s *Postgres) UpdateRunStatus(ctx context.Context, runID string, status pipeline.RunStatus, errText string, counters pipeline.RunCounters) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	rows_fetched = $4,
	rows_deduped = $5,
	rows_loaded = $6,
	rows_sampled = $7,
	finished_at = CASE WHEN $2 IN ('succeeded', 'partial', 'failed') THEN NOW() ELSE finished_at END
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, runID, string(status), errText,
		counters.RowsFetched, counters.RowsDeduped, counters.RowsLoaded, counters.RowsSampled)
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `id, source, table_name, trigger, status, submitted_at, started_at, finished_at,
	error_text, rows_fetched, rows_deduped, rows_loaded, rows_sampled`

// GetRun fetches one run by id.
func (s *Postgres) GetRun(ctx context.Context, runID string) (pipeline.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, s.table)
	row := s.pool.QueryRow(ctx, query, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Run{}, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return pipeline.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns recent runs, optionally filtered by source.
func (s *Postgres) ListRuns(ctx context.Context, source string, limit int) ([]pipeline.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if source != "" {
		query := fmt.Sprintf(
			`SELECT %s FROM %s WHERE source = $1 ORDER BY submitted_at DESC LIMIT $2`,
			runColumns, s.table)
		rows, err = s.pool.Query(ctx, query, source, limit)
	} else {
		query := fmt.Sprintf(
			`SELECT %s FROM %s ORDER BY submitted_at DESC LIMIT $1`,
			runColumns, s.table)
		rows, err = s.pool.Query(ctx, query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []pipeline.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (pipeline.Run, error) {
	var (
		run      pipeline.Run
		trigger  string
		status   string
		started  *time.Time
		finished *time.Time
	)
	err := row.Scan(
		&run.ID, &run.Source, &run.Table, &trigger, &status,
		&run.Submitted, &started, &finished, &run.ErrorText,
		&run.Counters.RowsFetched, &run.Counters.RowsDeduped,
		&run.Counters.RowsLoaded, &run.Counters.RowsSampled,
	)
	if err != nil {
		return pipeline.Run{}, err
	}
	run.Trigger = pipeline.Trigger(trigger)
	run.Status = pipeline.RunStatus(status)
	run.Started = started
	run.Finished = finished
	return run, nil
}
