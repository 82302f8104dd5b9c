package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// ApprovalRepo stores human-in-the-loop buy authorizations. When the
// approvals gate is enabled, execution requires an unexpired approved row
// whose max_price covers the trigger price.
type ApprovalRepo struct {
	pool *Pool
}

// NewApprovalRepo creates the repository.
func NewApprovalRepo(pool *Pool) *ApprovalRepo {
	return &ApprovalRepo{pool: pool}
}

// Upsert writes or refreshes an approval.
func (r *ApprovalRepo) Upsert(ctx context.Context, a types.Approval) error {
	_, err := r.pool.Execute(ctx, `
		INSERT INTO approvals (token_id, max_price, expires_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_id) DO UPDATE SET
			max_price = EXCLUDED.max_price,
			expires_at = EXCLUDED.expires_at,
			status = EXCLUDED.status`,
		a.TokenID, a.MaxPrice, a.ExpiresAt.UTC(), string(a.Status))
	return err
}

// Get returns the approval for a token, or false when absent.
func (r *ApprovalRepo) Get(ctx context.Context, tokenID string) (types.Approval, bool, error) {
	var a types.Approval
	var status string
	err := r.pool.FetchOne(ctx, []any{&a.TokenID, &a.MaxPrice, &a.ExpiresAt, &status},
		`SELECT token_id, max_price, expires_at, status FROM approvals WHERE token_id = $1`,
		tokenID)
	if err != nil {
		if isNoRows(err) {
			return types.Approval{}, false, nil
		}
		return types.Approval{}, false, err
	}
	a.Status = types.ApprovalStatus(status)
	a.ExpiresAt = a.ExpiresAt.UTC()
	return a, true, nil
}

// IsApproved reports whether an unexpired approved row covers the given
// price. Evaluated in SQL so the expiry check uses the database clock.
func (r *ApprovalRepo) IsApproved(ctx context.Context, tokenID string, price decimal.Decimal) (bool, error) {
	var ok bool
	err := r.pool.FetchValue(ctx, &ok, `
		SELECT EXISTS (
			SELECT 1 FROM approvals
			WHERE token_id = $1
			  AND status = 'approved'
			  AND expires_at > now()
			  AND max_price >= $2
		)`, tokenID, price)
	return ok, err
}

// PurgeExpired deletes approvals past their expiry.
func (r *ApprovalRepo) PurgeExpired(ctx context.Context) (int64, error) {
	return r.pool.Execute(ctx, `DELETE FROM approvals WHERE expires_at <= now()`)
}
