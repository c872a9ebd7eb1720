package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theSchein/pamela-sub002/internal/domain"
)

// SyncRunStore implements domain.SyncRunStore using PostgreSQL.
type SyncRunStore struct {
	pool *pgxpool.Pool
}

// NewSyncRunStore creates a new SyncRunStore backed by the given pool.
func NewSyncRunStore(pool *pgxpool.Pool) *SyncRunStore {
	return &SyncRunStore{pool: pool}
}

// Create inserts the row for a pass that is about to run.
func (s *SyncRunStore) Create(ctx context.Context, run domain.SyncRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_runs (id, kind, status, query, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, string(run.Kind), string(run.Status), run.Query, run.StartedAt)
	if err != nil {
		return fmt.Errorf("postgres: create sync run %s: %w", run.ID, err)
	}
	return nil
}

// Finish records the terminal state and counters of a completed pass.
func (s *SyncRunStore) Finish(ctx context.Context, run domain.SyncRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_runs SET
			status        = $2,
			finished_at   = $3,
			fetched       = $4,
			accepted      = $5,
			written       = $6,
			failed        = $7,
			deactivated   = $8,
			purged        = $9,
			error_message = $10
		WHERE id = $1`,
		run.ID, string(run.Status), run.FinishedAt,
		run.Fetched, run.Accepted, run.Written, run.Failed,
		run.Deactivated, run.Purged, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("postgres: finish sync run %s: %w", run.ID, err)
	}
	return nil
}

const syncRunCols = `id, kind, status, query, started_at, finished_at,
	fetched, accepted, written, failed, deactivated, purged, error_message`

func scanSyncRun(row pgx.Row) (domain.SyncRun, error) {
	var run domain.SyncRun
	var kind, status string
	err := row.Scan(
		&run.ID, &kind, &status, &run.Query, &run.StartedAt, &run.FinishedAt,
		&run.Fetched, &run.Accepted, &run.Written, &run.Failed,
		&run.Deactivated, &run.Purged, &run.ErrorMessage,
	)
	if err != nil {
		return domain.SyncRun{}, err
	}
	run.Kind = domain.SyncKind(kind)
	run.Status = domain.SyncStatus(status)
	return run, nil
}

// LastSuccess returns the most recent pass that finished with status success.
func (s *SyncRunStore) LastSuccess(ctx context.Context) (domain.SyncRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+syncRunCols+`
		FROM sync_runs
		WHERE status = 'success'
		ORDER BY started_at DESC
		LIMIT 1`)
	run, err := scanSyncRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SyncRun{}, domain.ErrNotFound
		}
		return domain.SyncRun{}, fmt.Errorf("postgres: last successful sync run: %w", err)
	}
	return run, nil
}

// Latest returns the most recently started pass regardless of outcome.
func (s *SyncRunStore) Latest(ctx context.Context) (domain.SyncRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+syncRunCols+`
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT 1`)
	run, err := scanSyncRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SyncRun{}, domain.ErrNotFound
		}
		return domain.SyncRun{}, fmt.Errorf("postgres: latest sync run: %w", err)
	}
	return run, nil
}

// Count returns the number of recorded passes.
func (s *SyncRunStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sync_runs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count sync runs: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.SyncRunStore = (*SyncRunStore)(nil)
