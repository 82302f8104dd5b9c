package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// PositionRepo persists positions and their exit audit records.
// Naive timestamps from older rows are normalized to UTC on read.
type PositionRepo struct {
	pool *Pool
}

// NewPositionRepo creates the repository.
func NewPositionRepo(pool *Pool) *PositionRepo {
	return &PositionRepo{pool: pool}
}

// Save upserts the full position row.
func (r *PositionRepo) Save(ctx context.Context, p types.Position) error {
	_, err := r.pool.Execute(ctx, `
		INSERT INTO positions (position_id, token_id, condition_id, size, entry_price, entry_cost,
		                       entry_time, hold_start_at, realized_pnl, current_price, unrealized_pnl,
		                       status, imported, exit_order_id, exit_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (position_id) DO UPDATE SET
			size = EXCLUDED.size,
			entry_price = EXCLUDED.entry_price,
			entry_cost = EXCLUDED.entry_cost,
			hold_start_at = EXCLUDED.hold_start_at,
			realized_pnl = EXCLUDED.realized_pnl,
			current_price = EXCLUDED.current_price,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			status = EXCLUDED.status,
			exit_order_id = EXCLUDED.exit_order_id,
			exit_timestamp = EXCLUDED.exit_timestamp`,
		p.PositionID, p.TokenID, p.ConditionID, p.Size, p.EntryPrice, p.EntryCost,
		p.EntryTime.UTC(), p.HoldStartAt.UTC(), p.RealizedPnL, p.CurrentPrice, p.UnrealizedPnL,
		string(p.Status), p.Imported, p.ExitOrderID, utcPtr(p.ExitTimestamp))
	return err
}

// Open lists all open positions.
func (r *PositionRepo) Open(ctx context.Context) ([]types.Position, error) {
	return r.list(ctx, `WHERE status = 'open'`)
}

// OpenByToken returns the open position for a token, or false.
func (r *PositionRepo) OpenByToken(ctx context.Context, tokenID string) (types.Position, bool, error) {
	var p types.Position
	var status string
	var exitTS *time.Time
	err := r.pool.FetchOne(ctx, []any{
		&p.PositionID, &p.TokenID, &p.ConditionID, &p.Size, &p.EntryPrice, &p.EntryCost,
		&p.EntryTime, &p.HoldStartAt, &p.RealizedPnL, &p.CurrentPrice, &p.UnrealizedPnL,
		&status, &p.Imported, &p.ExitOrderID, &exitTS,
	}, `
		SELECT position_id, token_id, condition_id, size, entry_price, entry_cost,
		       entry_time, hold_start_at, realized_pnl, current_price, unrealized_pnl,
		       status, imported, exit_order_id, exit_timestamp
		FROM positions
		WHERE token_id = $1 AND status = 'open'`, tokenID)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Position{}, false, nil
	}
	if err != nil {
		return types.Position{}, false, err
	}
	p.Status = types.PositionStatus(status)
	normalizePosition(&p, exitTS)
	return p, true, nil
}

// HasOpenPosition reports whether a condition has any open position.
func (r *PositionRepo) HasOpenPosition(ctx context.Context, conditionID string) (bool, error) {
	var exists bool
	err := r.pool.FetchValue(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM positions WHERE condition_id = $1 AND status = 'open'
		)`, conditionID)
	return exists, err
}

// RecordExit writes the exit audit row.
func (r *PositionRepo) RecordExit(ctx context.Context, e types.ExitEvent) error {
	_, err := r.pool.Execute(ctx, `
		INSERT INTO exit_events (id, position_id, exit_type, entry_price, exit_price,
		                         size, gross_pnl, net_pnl, hours_held, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.PositionID, string(e.ExitType), e.EntryPrice, e.ExitPrice,
		e.Size, e.GrossPnL, e.NetPnL, e.HoursHeld, e.Status)
	return err
}

// ExitsForPosition returns the exit audit rows for one position.
func (r *PositionRepo) ExitsForPosition(ctx context.Context, positionID string) ([]types.ExitEvent, error) {
	rows, err := r.pool.Fetch(ctx, `
		SELECT id, position_id, exit_type, entry_price, exit_price,
		       size, gross_pnl, net_pnl, hours_held, status, created_at
		FROM exit_events
		WHERE position_id = $1
		ORDER BY created_at`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ExitEvent
	for rows.Next() {
		var e types.ExitEvent
		var exitType string
		if err := rows.Scan(&e.ID, &e.PositionID, &exitType, &e.EntryPrice, &e.ExitPrice,
			&e.Size, &e.GrossPnL, &e.NetPnL, &e.HoursHeld, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ExitType = types.ExitType(exitType)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PositionRepo) list(ctx context.Context, where string, args ...any) ([]types.Position, error) {
	rows, err := r.pool.Fetch(ctx, `
		SELECT position_id, token_id, condition_id, size, entry_price, entry_cost,
		       entry_time, hold_start_at, realized_pnl, current_price, unrealized_pnl,
		       status, imported, exit_order_id, exit_timestamp
		FROM positions `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var p types.Position
		var status string
		var exitTS *time.Time
		if err := rows.Scan(&p.PositionID, &p.TokenID, &p.ConditionID, &p.Size, &p.EntryPrice, &p.EntryCost,
			&p.EntryTime, &p.HoldStartAt, &p.RealizedPnL, &p.CurrentPrice, &p.UnrealizedPnL,
			&status, &p.Imported, &p.ExitOrderID, &exitTS); err != nil {
			return nil, err
		}
		p.Status = types.PositionStatus(status)
		normalizePosition(&p, exitTS)
		out = append(out, p)
	}
	return out, rows.Err()
}

// normalizePosition forces all timestamps to UTC at the read boundary, so
// rows written before the bot normalized on write are interpreted
// consistently without a migration.
func normalizePosition(p *types.Position, exitTS *time.Time) {
	p.EntryTime = p.EntryTime.UTC()
	p.HoldStartAt = p.HoldStartAt.UTC()
	if exitTS != nil {
		utc := exitTS.UTC()
		p.ExitTimestamp = &utc
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
