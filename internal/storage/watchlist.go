package storage

import (
	"context"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// WatchlistRepo persists tokens under periodic re-scoring.
type WatchlistRepo struct {
	pool *Pool
}

// NewWatchlistRepo creates the repository.
func NewWatchlistRepo(pool *Pool) *WatchlistRepo {
	return &WatchlistRepo{pool: pool}
}

// Upsert adds or refreshes a watch entry, resetting it to watching.
func (r *WatchlistRepo) Upsert(ctx context.Context, e types.WatchEntry) error {
	_, err := r.pool.Execute(ctx, `
		INSERT INTO watchlist (token_id, condition_id, question, trigger_price,
		                       initial_score, current_score, time_to_end_hours, status)
		VALUES ($1, $2, $3, $4, $5, $5, $6, 'watching')
		ON CONFLICT (token_id) DO UPDATE SET
			current_score = EXCLUDED.current_score,
			time_to_end_hours = EXCLUDED.time_to_end_hours,
			status = 'watching',
			updated_at = now()`,
		e.TokenID, e.ConditionID, e.Question, e.TriggerPrice, e.InitialScore, e.TimeToEndHours)
	return err
}

// Active lists entries still in the watching state.
func (r *WatchlistRepo) Active(ctx context.Context) ([]types.WatchEntry, error) {
	rows, err := r.pool.Fetch(ctx, `
		SELECT token_id, condition_id, question, trigger_price, initial_score,
		       current_score, time_to_end_hours, status, added_at, updated_at
		FROM watchlist
		WHERE status = 'watching'
		ORDER BY added_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.WatchEntry
	for rows.Next() {
		var e types.WatchEntry
		var status string
		if err := rows.Scan(&e.TokenID, &e.ConditionID, &e.Question, &e.TriggerPrice, &e.InitialScore,
			&e.CurrentScore, &e.TimeToEndHours, &status, &e.AddedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Status = types.WatchStatus(status)
		e.AddedAt = e.AddedAt.UTC()
		e.UpdatedAt = e.UpdatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateScore records a rescore result and appends it to the score history.
func (r *WatchlistRepo) UpdateScore(ctx context.Context, tokenID string, score, timeToEndHours float64) error {
	_, err := r.pool.Execute(ctx, `
		UPDATE watchlist
		SET current_score = $2,
		    time_to_end_hours = $3,
		    score_history = array_append(score_history, $2),
		    updated_at = now()
		WHERE token_id = $1`,
		tokenID, score, timeToEndHours)
	return err
}

// SetStatus moves an entry to promoted or expired.
func (r *WatchlistRepo) SetStatus(ctx context.Context, tokenID string, status types.WatchStatus) error {
	_, err := r.pool.Execute(ctx,
		`UPDATE watchlist SET status = $2, updated_at = now() WHERE token_id = $1`,
		tokenID, string(status))
	return err
}

// ExpireEndingSoon marks expired every watching entry whose market closes
// within minHours. Uses a parameterized interval.
func (r *WatchlistRepo) ExpireEndingSoon(ctx context.Context, minHours float64) (int64, error) {
	return r.pool.Execute(ctx, `
		UPDATE watchlist
		SET status = 'expired', updated_at = now()
		WHERE status = 'watching' AND time_to_end_hours < $1`,
		minHours)
}
