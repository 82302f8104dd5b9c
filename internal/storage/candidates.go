package storage

import (
	"context"
	"time"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// CandidateRepo tracks triggers through strategy evaluation:
// pending → approved|rejected → executed.
type CandidateRepo struct {
	pool *Pool
}

// NewCandidateRepo creates the repository.
func NewCandidateRepo(pool *Pool) *CandidateRepo {
	return &CandidateRepo{pool: pool}
}

// Enqueue inserts a pending candidate, keeping the existing row on replay.
func (r *CandidateRepo) Enqueue(ctx context.Context, c types.Candidate) error {
	_, err := r.pool.Execute(ctx, `
		INSERT INTO candidates (token_id, condition_id, threshold, price, score, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (token_id, condition_id, threshold) DO NOTHING`,
		c.TokenID, c.ConditionID, c.Threshold, c.Price, c.Score)
	return err
}

// Pending lists candidates awaiting a strategy decision.
func (r *CandidateRepo) Pending(ctx context.Context, limit int) ([]types.Candidate, error) {
	rows, err := r.pool.Fetch(ctx, `
		SELECT token_id, condition_id, threshold, price, score, status, created_at, decided_at
		FROM candidates
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Candidate
	for rows.Next() {
		var c types.Candidate
		var status string
		var decidedAt *time.Time
		if err := rows.Scan(&c.TokenID, &c.ConditionID, &c.Threshold, &c.Price, &c.Score, &status, &c.CreatedAt, &decidedAt); err != nil {
			return nil, err
		}
		c.Status = types.CandidateStatus(status)
		c.CreatedAt = c.CreatedAt.UTC()
		if decidedAt != nil {
			utc := decidedAt.UTC()
			c.DecidedAt = &utc
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetStatus moves a candidate to a new status and stamps the decision time.
func (r *CandidateRepo) SetStatus(ctx context.Context, tokenID, conditionID string, threshold float64, status types.CandidateStatus) error {
	_, err := r.pool.Execute(ctx, `
		UPDATE candidates
		SET status = $4, decided_at = now()
		WHERE token_id = $1 AND condition_id = $2 AND threshold = $3`,
		tokenID, conditionID, threshold, string(status))
	return err
}
