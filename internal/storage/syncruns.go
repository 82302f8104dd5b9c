package storage

import (
	"context"
	"time"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// SyncRunRepo writes the audit trail for sync iterations. Every attempt is
// recorded, including skipped runs where the advisory lock was held elsewhere.
type SyncRunRepo struct {
	pool *Pool
}

// NewSyncRunRepo creates the repository.
func NewSyncRunRepo(pool *Pool) *SyncRunRepo {
	return &SyncRunRepo{pool: pool}
}

// Start inserts a running row.
func (r *SyncRunRepo) Start(ctx context.Context, run types.SyncRun) error {
	_, err := r.pool.Execute(ctx, `
		INSERT INTO sync_runs (id, kind, status, started_at)
		VALUES ($1, $2, 'running', $3)`,
		run.ID, run.Kind, run.StartedAt.UTC())
	return err
}

// Finish records the terminal status and counters for a run.
func (r *SyncRunRepo) Finish(ctx context.Context, id, status string, markets, trades int, runErr string) error {
	_, err := r.pool.Execute(ctx, `
		UPDATE sync_runs
		SET status = $2,
		    finished_at = now(),
		    duration_ms = (EXTRACT(EPOCH FROM (now() - started_at)) * 1000)::bigint,
		    markets = $3,
		    trades = $4,
		    error = $5
		WHERE id = $1`,
		id, status, markets, trades, runErr)
	return err
}

// RecordSkipped writes a single already-terminal row for a run that never
// started because another runner held the lock.
func (r *SyncRunRepo) RecordSkipped(ctx context.Context, id, kind string) error {
	_, err := r.pool.Execute(ctx, `
		INSERT INTO sync_runs (id, kind, status, started_at, finished_at)
		VALUES ($1, $2, 'skipped', now(), now())`,
		id, kind)
	return err
}

// Recent lists the most recent runs of a kind, newest first.
func (r *SyncRunRepo) Recent(ctx context.Context, kind string, limit int) ([]types.SyncRun, error) {
	rows, err := r.pool.Fetch(ctx, `
		SELECT id, kind, status, started_at, finished_at, duration_ms, markets, trades, error
		FROM sync_runs
		WHERE kind = $1
		ORDER BY started_at DESC
		LIMIT $2`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SyncRun
	for rows.Next() {
		var run types.SyncRun
		var finished *time.Time
		if err := rows.Scan(&run.ID, &run.Kind, &run.Status, &run.StartedAt, &finished,
			&run.DurationMS, &run.Markets, &run.Trades, &run.Error); err != nil {
			return nil, err
		}
		run.StartedAt = run.StartedAt.UTC()
		run.FinishedAt = utcPtr(finished)
		out = append(out, run)
	}
	return out, rows.Err()
}
