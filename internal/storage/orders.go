package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// OrderRepo persists order rows. One table serves both paper and live
// orders, discriminated by the mode column. Only the order manager mutates
// rows here.
type OrderRepo struct {
	pool *Pool
}

// NewOrderRepo creates the repository.
func NewOrderRepo(pool *Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

var orderSortFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"price":      true,
	"size":       true,
}

// Insert writes a new order row (normally status PENDING, pre-venue).
func (r *OrderRepo) Insert(ctx context.Context, o types.Order) error {
	_, err := r.pool.Execute(ctx, `
		INSERT INTO orders (order_id, token_id, condition_id, side, price, size,
		                    filled_size, avg_fill_price, status, mode, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())`,
		o.OrderID, o.TokenID, o.ConditionID, string(o.Side), o.Price, o.Size,
		o.FilledSize, o.AvgFillPrice, string(o.Status), string(o.Mode), o.Reason)
	return err
}

// UpdateStatus records a reconciliation result: status, cumulative filled
// size, and the venue-reported average fill price.
func (r *OrderRepo) UpdateStatus(ctx context.Context, orderID string, status types.OrderStatus, filledSize, avgFillPrice decimal.Decimal, reason string) error {
	_, err := r.pool.Execute(ctx, `
		UPDATE orders
		SET status = $2, filled_size = $3, avg_fill_price = $4, reason = $5, updated_at = now()
		WHERE order_id = $1`,
		orderID, string(status), filledSize, avgFillPrice, reason)
	return err
}

// ReplaceID rewrites a locally-generated pending ID with the venue-assigned
// one once the submission is acknowledged.
func (r *OrderRepo) ReplaceID(ctx context.Context, oldID, newID string) error {
	_, err := r.pool.Execute(ctx,
		`UPDATE orders SET order_id = $2, updated_at = now() WHERE order_id = $1`,
		oldID, newID)
	return err
}

// Delete removes an order row. Used to roll back PENDING rows whose venue
// submission failed outright (no acknowledgment, nothing to reconcile).
func (r *OrderRepo) Delete(ctx context.Context, orderID string) error {
	_, err := r.pool.Execute(ctx, `DELETE FROM orders WHERE order_id = $1`, orderID)
	return err
}

// Get returns an order, or false when absent.
func (r *OrderRepo) Get(ctx context.Context, orderID string) (types.Order, bool, error) {
	o, err := r.scanOne(ctx, `WHERE order_id = $1`, orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Order{}, false, nil
	}
	if err != nil {
		return types.Order{}, false, err
	}
	return o, true, nil
}

// NonTerminal lists every order still in flight (PENDING, LIVE, PARTIAL),
// used to re-hydrate the order manager on startup.
func (r *OrderRepo) NonTerminal(ctx context.Context) ([]types.Order, error) {
	return r.list(ctx, `
		SELECT order_id, token_id, condition_id, side, price, size,
		       filled_size, avg_fill_price, status, mode, reason, created_at, updated_at
		FROM orders
		WHERE status IN ('PENDING', 'LIVE', 'PARTIAL')
		ORDER BY created_at`)
}

// ByCondition lists orders for one condition ordered by a validated sort
// field, newest first.
func (r *OrderRepo) ByCondition(ctx context.Context, conditionID, sortBy string, limit int) ([]types.Order, error) {
	field, err := validateSortField(sortBy, orderSortFields)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, fmt.Sprintf(`
		SELECT order_id, token_id, condition_id, side, price, size,
		       filled_size, avg_fill_price, status, mode, reason, created_at, updated_at
		FROM orders
		WHERE condition_id = $1
		ORDER BY %s DESC
		LIMIT $2`, field), conditionID, limit)
}

// HasOpenOrder reports whether a condition has any non-terminal order.
// The tier manager uses this to protect active markets from demotion.
func (r *OrderRepo) HasOpenOrder(ctx context.Context, conditionID string) (bool, error) {
	var exists bool
	err := r.pool.FetchValue(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE condition_id = $1 AND status IN ('PENDING', 'LIVE', 'PARTIAL')
		)`, conditionID)
	return exists, err
}

func (r *OrderRepo) scanOne(ctx context.Context, where string, args ...any) (types.Order, error) {
	var o types.Order
	var side, status, mode string
	err := r.pool.FetchOne(ctx, []any{
		&o.OrderID, &o.TokenID, &o.ConditionID, &side, &o.Price, &o.Size,
		&o.FilledSize, &o.AvgFillPrice, &status, &mode, &o.Reason, &o.CreatedAt, &o.UpdatedAt,
	}, `
		SELECT order_id, token_id, condition_id, side, price, size,
		       filled_size, avg_fill_price, status, mode, reason, created_at, updated_at
		FROM orders `+where, args...)
	if err != nil {
		return types.Order{}, err
	}
	o.Side = types.Side(side)
	o.Status = types.OrderStatus(status)
	o.Mode = types.OrderMode(mode)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func (r *OrderRepo) list(ctx context.Context, sql string, args ...any) ([]types.Order, error) {
	rows, err := r.pool.Fetch(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		var o types.Order
		var side, status, mode string
		if err := rows.Scan(&o.OrderID, &o.TokenID, &o.ConditionID, &side, &o.Price, &o.Size,
			&o.FilledSize, &o.AvgFillPrice, &status, &mode, &o.Reason, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Side = types.Side(side)
		o.Status = types.OrderStatus(status)
		o.Mode = types.OrderMode(mode)
		o.CreatedAt = o.CreatedAt.UTC()
		o.UpdatedAt = o.UpdatedAt.UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}
