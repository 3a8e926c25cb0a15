// Package postgres provides the Postgres-backed journal implementation.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crawlops/crawlpilot/internal/journal"
)

// querier is the subset of pgxpool.Pool the store relies on. Tests swap in
// a pgxmock pool through NewWithPool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements journal.Store on a job_runs table.
type Store struct {
	pool querier
}

// New opens a connection pool for the given DSN.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool-compatible connection.
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// StartJobRun inserts the run in status running. Re-recording a job id
// refreshes its start data.
func (s *Store) StartJobRun(ctx context.Context, run journal.JobRun) error {
	query := `
		INSERT INTO job_runs (job_id, crawl_id, conf_id, stage, round, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO UPDATE
		SET crawl_id = EXCLUDED.crawl_id,
			conf_id = EXCLUDED.conf_id,
			stage = EXCLUDED.stage,
			round = EXCLUDED.round,
			started_at = EXCLUDED.started_at,
			status = EXCLUDED.status;
	`
	_, err := s.pool.Exec(ctx, query,
		run.JobID, run.CrawlID, run.ConfID, run.Stage, run.Round, run.StartedAt, journal.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to start job run: %w", err)
	}
	return nil
}

// FinishJobRun marks the run terminal. An unknown job id gets a bare
// terminal row so late events are never lost.
func (s *Store) FinishJobRun(
	ctx context.Context,
	jobID string,
	finishedAt time.Time,
	status journal.RunStatus,
	note *string,
) error {
	query := `
		UPDATE job_runs
		SET finished_at = $1, status = $2, note = $3
		WHERE job_id = $4;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, status, note, jobID)
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}
	if res.RowsAffected() == 0 {
		insert := `
			INSERT INTO job_runs (job_id, started_at, finished_at, status, note)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (job_id) DO NOTHING;
		`
		if _, err := s.pool.Exec(ctx, insert, jobID, finishedAt, finishedAt, status, note); err != nil {
			return fmt.Errorf("failed to insert finished job run: %w", err)
		}
	}
	return nil
}

// GetJobRun retrieves a single run by job id.
func (s *Store) GetJobRun(ctx context.Context, jobID string) (journal.JobRun, error) {
	query := `
		SELECT job_id, crawl_id, conf_id, stage, round, started_at, finished_at, status, note
		FROM job_runs
		WHERE job_id = $1;
	`
	var run journal.JobRun
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&run.JobID,
		&run.CrawlID,
		&run.ConfID,
		&run.Stage,
		&run.Round,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Note,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return journal.JobRun{}, journal.ErrNotFound
		}
		return journal.JobRun{}, fmt.Errorf("failed to get job run: %w", err)
	}
	return run, nil
}

// ListJobRuns retrieves runs oldest first, optionally scoped to one crawl.
func (s *Store) ListJobRuns(ctx context.Context, crawlID string, limit int) ([]journal.JobRun, error) {
	query := `
		SELECT job_id, crawl_id, conf_id, stage, round, started_at, finished_at, status, note
		FROM job_runs
		WHERE ($1 = '' OR crawl_id = $1)
		ORDER BY started_at ASC
		LIMIT NULLIF($2, 0);
	`
	if limit < 0 {
		limit = 0
	}
	rows, err := s.pool.Query(ctx, query, crawlID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []journal.JobRun
	for rows.Next() {
		var run journal.JobRun
		err := rows.Scan(
			&run.JobID,
			&run.CrawlID,
			&run.ConfID,
			&run.Stage,
			&run.Round,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.Note,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job run rows: %w", err)
	}
	return runs, nil
}
