package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// TriggerRepo records first threshold crossings. TryRecordAtomic is the
// single place where dual-key uniqueness is enforced: at most one trigger
// per (condition_id, threshold) regardless of which token crossed first.
type TriggerRepo struct {
	pool *Pool
}

// NewTriggerRepo creates the repository.
func NewTriggerRepo(pool *Pool) *TriggerRepo {
	return &TriggerRepo{pool: pool}
}

// TryRecordAtomic attempts to record the first trigger for
// (token, condition, threshold). It returns true iff this call inserted the
// row. Concurrent callers contending on the same (condition, threshold) —
// with any token IDs — are serialized by a transaction-scoped advisory
// lock, so exactly one of them wins.
//
// Decisions that gate order submission must use this and only this; the
// read helpers below are racy by construction.
func (r *TriggerRepo) TryRecordAtomic(ctx context.Context, t types.Trigger) (bool, error) {
	var inserted bool
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if err := xactLock(ctx, tx, TriggerLockKey(t.ConditionID, t.Threshold)); err != nil {
			return err
		}

		// Token-level and condition-level existence in one probe: any row
		// for this (condition, threshold) means some token already won.
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM triggers
				WHERE condition_id = $1 AND threshold = $2
			)`, t.ConditionID, t.Threshold).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO triggers (token_id, condition_id, threshold, price, size, score, outcome, triggered_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT DO NOTHING`,
			t.TokenID, t.ConditionID, t.Threshold, t.Price, t.Size, t.Score, t.Outcome, t.TriggeredAt.UTC())
		if err != nil {
			return err
		}
		inserted = tag.RowsAffected() > 0
		return nil
	})
	return inserted, err
}

// IsFirstTrigger reports whether no trigger exists yet for
// (token, condition, threshold). Read-only and racy: never use it to gate
// order submission.
func (r *TriggerRepo) IsFirstTrigger(ctx context.Context, tokenID, conditionID string, threshold float64) (bool, error) {
	var exists bool
	err := r.pool.FetchValue(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM triggers
			WHERE token_id = $1 AND condition_id = $2 AND threshold = $3
		)`, tokenID, conditionID, threshold)
	return !exists, err
}

// HasConditionTriggered reports whether any token of the condition has
// triggered at this threshold. Read-only and racy, like IsFirstTrigger.
func (r *TriggerRepo) HasConditionTriggered(ctx context.Context, conditionID string, threshold float64) (bool, error) {
	var exists bool
	err := r.pool.FetchValue(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM triggers
			WHERE condition_id = $1 AND threshold = $2
		)`, conditionID, threshold)
	return exists, err
}

// Get returns a trigger row, or false when absent.
func (r *TriggerRepo) Get(ctx context.Context, conditionID string, threshold float64) (types.Trigger, bool, error) {
	var t types.Trigger
	err := r.pool.FetchOne(ctx, []any{
		&t.TokenID, &t.ConditionID, &t.Threshold, &t.Price, &t.Size, &t.Score, &t.Outcome, &t.TriggeredAt,
	}, `
		SELECT token_id, condition_id, threshold, price, size, score, outcome, triggered_at
		FROM triggers
		WHERE condition_id = $1 AND threshold = $2`,
		conditionID, threshold)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Trigger{}, false, nil
	}
	if err != nil {
		return types.Trigger{}, false, err
	}
	t.TriggeredAt = t.TriggeredAt.UTC()
	return t, true, nil
}
