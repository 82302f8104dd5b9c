package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// PositionStore is the slice of the position repository the tracker needs.
type PositionStore interface {
	Save(ctx context.Context, p types.Position) error
	RecordExit(ctx context.Context, e types.ExitEvent) error
	Open(ctx context.Context) ([]types.Position, error)
}

// PositionTracker aggregates fills into positions and computes P&L. The
// in-memory map is owned by the tracker and re-hydrated from storage on
// startup; on mismatch, storage wins.
type PositionTracker struct {
	mu        sync.Mutex
	repo      PositionStore
	positions map[string]*types.Position // keyed by token_id, open only
	logger    *slog.Logger
}

// NewPositionTracker creates the tracker.
func NewPositionTracker(repo PositionStore, logger *slog.Logger) *PositionTracker {
	return &PositionTracker{
		repo:      repo,
		positions: make(map[string]*types.Position),
		logger:    logger.With("component", "positions"),
	}
}

// Load re-hydrates open positions from storage.
func (t *PositionTracker) Load(ctx context.Context) error {
	open, err := t.repo.Open(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = make(map[string]*types.Position, len(open))
	for i := range open {
		p := open[i]
		t.positions[p.TokenID] = &p
	}
	t.logger.Info("positions loaded", "open", len(open))
	return nil
}

// ImportVenue adopts positions reported by the venue that the tracker does
// not already know about. Adopted positions are flagged imported, which puts
// them under the default hold window instead of the immediate-exit policy
// for positions opened here. Returns the number of positions adopted.
func (t *PositionTracker) ImportVenue(ctx context.Context, rows []types.VenuePosition) (int, error) {
	now := time.Now().UTC()
	adopted := 0

	for _, row := range rows {
		size, err := decimal.NewFromString(row.Size)
		if err != nil || size.LessThanOrEqual(decimal.Zero) {
			continue
		}
		avgPrice, err := decimal.NewFromString(row.AvgPrice)
		if err != nil {
			avgPrice = decimal.Zero
		}

		t.mu.Lock()
		if _, exists := t.positions[row.AssetID]; exists {
			t.mu.Unlock()
			continue
		}
		p := &types.Position{
			PositionID:  uuid.NewString(),
			TokenID:     row.AssetID,
			ConditionID: row.ConditionID,
			Size:        size,
			EntryPrice:  avgPrice,
			EntryCost:   size.Mul(avgPrice),
			EntryTime:   now,
			HoldStartAt: now,
			Status:      types.PositionOpen,
			Imported:    true,
		}
		t.positions[row.AssetID] = p
		t.mu.Unlock()

		if err := t.repo.Save(ctx, *p); err != nil {
			return adopted, err
		}
		adopted++
		t.logger.Info("position imported from venue",
			"position_id", p.PositionID, "token", row.AssetID,
			"size", size, "avg_price", avgPrice)
	}
	return adopted, nil
}

// ApplyFill folds one fill into the token's position. BUY fills open or
// grow the position with a size-weighted entry price; SELL fills shrink it
// and realize P&L. A position whose size reaches exactly zero transitions
// to closed. Zero-size fills are ignored.
func (t *PositionTracker) ApplyFill(ctx context.Context, f types.Fill) error {
	if f.Size.IsZero() {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, exists := t.positions[f.TokenID]

	switch f.Side {
	case types.BUY:
		if !exists {
			now := f.Timestamp
			if now.IsZero() {
				now = time.Now().UTC()
			}
			p = &types.Position{
				PositionID:  uuid.NewString(),
				TokenID:     f.TokenID,
				ConditionID: f.ConditionID,
				Size:        f.Size,
				EntryPrice:  f.Price,
				EntryCost:   f.Size.Mul(f.Price),
				EntryTime:   now.UTC(),
				HoldStartAt: now.UTC(),
				Status:      types.PositionOpen,
			}
			t.positions[f.TokenID] = p
			t.logger.Info("position opened",
				"position_id", p.PositionID, "token", f.TokenID,
				"size", f.Size, "entry_price", f.Price)
		} else {
			// entry_price becomes the size-weighted mean.
			oldValue := p.Size.Mul(p.EntryPrice)
			addValue := f.Size.Mul(f.Price)
			newSize := p.Size.Add(f.Size)
			p.EntryPrice = oldValue.Add(addValue).Div(newSize)
			p.Size = newSize
			p.EntryCost = p.EntryCost.Add(addValue)
		}

	case types.SELL:
		if !exists {
			t.logger.Warn("sell fill with no open position, ignoring", "token", f.TokenID)
			return nil
		}
		// An overshoot fill can only realize P&L on the size we tracked;
		// the excess belongs to no position.
		sold := f.Size
		if sold.GreaterThan(p.Size) {
			t.logger.Warn("sell fill exceeds tracked size, clamping",
				"token", f.TokenID, "fill_size", f.Size, "tracked_size", p.Size)
			sold = p.Size
		}
		p.Size = p.Size.Sub(sold)
		p.RealizedPnL = p.RealizedPnL.Add(sold.Mul(f.Price.Sub(p.EntryPrice)))
		if !p.Size.IsPositive() {
			p.Size = decimal.Zero
			p.Status = types.PositionClosed
			now := time.Now().UTC()
			p.ExitTimestamp = &now
			delete(t.positions, f.TokenID)
			t.logger.Info("position closed by fills",
				"position_id", p.PositionID, "realized_pnl", p.RealizedPnL)
		}

	default:
		t.logger.Warn("fill with unknown side, ignoring", "side", f.Side)
		return nil
	}

	return t.repo.Save(ctx, *p)
}

// PnL returns the unrealized P&L of the token's open position at the
// given price: size × (current − entry). Zero when no position is open.
func (t *PositionTracker) PnL(tokenID string, currentPrice decimal.Decimal) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.positions[tokenID]
	if !ok {
		return decimal.Zero
	}
	return p.Size.Mul(currentPrice.Sub(p.EntryPrice))
}

// TotalPnL sums unrealized P&L across open positions at the given prices.
// Positions with no price in the map contribute zero.
func (t *PositionTracker) TotalPnL(prices map[string]decimal.Decimal) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := decimal.Zero
	for tokenID, p := range t.positions {
		price, ok := prices[tokenID]
		if !ok {
			continue
		}
		total = total.Add(p.Size.Mul(price.Sub(p.EntryPrice)))
	}
	return total
}

// Open returns a snapshot of all open positions.
func (t *PositionTracker) Open() []types.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	return out
}

// OpenByToken returns the open position for a token, if any.
func (t *PositionTracker) OpenByToken(tokenID string) (types.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.positions[tokenID]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// ClosePosition records an exit: writes the ExitEvent audit row, marks the
// position closed, and stamps the exit order and UTC timestamp. Closing an
// already-closed position is a no-op.
func (t *PositionTracker) ClosePosition(ctx context.Context, positionID string, exitPrice decimal.Decimal, exitType types.ExitType, exitOrderID string) error {
	t.mu.Lock()
	var p *types.Position
	for _, cand := range t.positions {
		if cand.PositionID == positionID {
			p = cand
			break
		}
	}
	if p == nil {
		t.mu.Unlock()
		t.logger.Debug("close on unknown or already-closed position, ignoring", "position_id", positionID)
		return nil
	}

	now := time.Now().UTC()
	netPnL := p.Size.Mul(exitPrice.Sub(p.EntryPrice))
	hoursHeld := now.Sub(p.HoldStartAt).Hours()

	status := "pending"
	if exitOrderID != "" {
		status = "executed"
	}
	event := types.ExitEvent{
		ID:         uuid.NewString(),
		PositionID: p.PositionID,
		ExitType:   exitType,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       p.Size,
		GrossPnL:   netPnL,
		NetPnL:     netPnL,
		HoursHeld:  hoursHeld,
		Status:     status,
	}

	p.Status = types.PositionClosed
	if exitType == types.ExitResolution {
		p.Status = types.PositionResolved
	}
	p.RealizedPnL = p.RealizedPnL.Add(netPnL)
	p.ExitOrderID = exitOrderID
	p.ExitTimestamp = &now
	closed := *p
	delete(t.positions, p.TokenID)
	t.mu.Unlock()

	if err := t.repo.Save(ctx, closed); err != nil {
		return err
	}
	if err := t.repo.RecordExit(ctx, event); err != nil {
		return err
	}

	t.logger.Info("position closed",
		"position_id", positionID, "exit_type", exitType,
		"exit_price", exitPrice, "net_pnl", netPnL, "hours_held", hoursHeld)
	return nil
}
