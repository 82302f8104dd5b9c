package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// TradeRepo persists ingested venue trades. Rows are immutable; replays are
// absorbed by the (condition_id, trade_id) conflict target.
type TradeRepo struct {
	pool *Pool
}

// NewTradeRepo creates the repository.
func NewTradeRepo(pool *Pool) *TradeRepo {
	return &TradeRepo{pool: pool}
}

// tradeSortFields is the closed allow-list for caller-supplied sort columns.
var tradeSortFields = map[string]bool{
	"ts":    true,
	"price": true,
	"size":  true,
}

// Upsert inserts a trade, ignoring duplicates. Returns true when a new row
// was written, false when the trade was already present (not an error —
// ingest replays the same pages routinely).
func (r *TradeRepo) Upsert(ctx context.Context, t types.Trade) (bool, error) {
	affected, err := r.pool.Execute(ctx, `
		INSERT INTO trades (condition_id, trade_id, token_id, price, size, side, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (condition_id, trade_id) DO NOTHING`,
		t.ConditionID, t.TradeID, t.TokenID, t.Price, t.Size, string(t.Side), t.Timestamp.UTC())
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Recent returns trades for a condition newer than the cutoff, ordered by
// the given sort field descending. The sort field is validated against a
// closed allow-list; the cutoff uses a parameterized interval.
func (r *TradeRepo) Recent(ctx context.Context, conditionID string, maxAge time.Duration, sortBy string, limit int) ([]types.Trade, error) {
	field, err := validateSortField(sortBy, tradeSortFields)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Fetch(ctx, fmt.Sprintf(`
		SELECT condition_id, trade_id, token_id, price, size, side, ts
		FROM trades
		WHERE condition_id = $1 AND ts > now() - $2::interval
		ORDER BY %s DESC
		LIMIT $3`, field),
		conditionID, maxAge, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var side string
		if err := rows.Scan(&t.ConditionID, &t.TradeID, &t.TokenID, &t.Price, &t.Size, &side, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Side = types.Side(side)
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Count returns the number of stored trades for a condition.
func (r *TradeRepo) Count(ctx context.Context, conditionID string) (int64, error) {
	var n int64
	err := r.pool.FetchValue(ctx, &n,
		`SELECT count(*) FROM trades WHERE condition_id = $1`, conditionID)
	return n, err
}
