package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Watermark streams. Trade watermarks are keyed by condition_id; trigger and
// candidate watermarks by threshold.
const (
	StreamTrades     = "trades"
	StreamTriggers   = "triggers"
	StreamCandidates = "candidates"
)

// WatermarkRepo persists per-stream monotonic markers used for idempotent
// incremental processing.
type WatermarkRepo struct {
	pool *Pool
}

// NewWatermarkRepo creates the repository.
func NewWatermarkRepo(pool *Pool) *WatermarkRepo {
	return &WatermarkRepo{pool: pool}
}

// Update persists max(existing, value). Updates never move a watermark
// backward; GREATEST on the conflict path enforces that in a single
// statement, so concurrent writers cannot race past each other.
func (r *WatermarkRepo) Update(ctx context.Context, stream, key string, value int64) error {
	_, err := r.pool.Execute(ctx, `
		INSERT INTO watermarks (stream, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (stream, key) DO UPDATE
		SET value = GREATEST(watermarks.value, EXCLUDED.value),
		    updated_at = now()`,
		stream, key, value)
	return err
}

// Get returns the stored watermark, or 0 when the stream/key is new.
func (r *WatermarkRepo) Get(ctx context.Context, stream, key string) (int64, error) {
	var value int64
	err := r.pool.FetchValue(ctx, &value,
		`SELECT value FROM watermarks WHERE stream = $1 AND key = $2`, stream, key)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return value, err
}
