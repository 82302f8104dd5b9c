package execution

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// CandidateStatuser records the outcome of a candidate decision.
type CandidateStatuser interface {
	SetStatus(ctx context.Context, tokenID, conditionID string, threshold float64, status types.CandidateStatus) error
}

// PriceSource returns the most recent observed price for a token.
type PriceSource interface {
	LatestPrice(ctx context.Context, tokenID string) (decimal.Decimal, bool, error)
}

// Trader turns pipeline decisions into orders: candidates from the trigger
// processor and promotions from the watchlist both land here. It sizes every
// entry at a fixed USD notional and never doubles up on a token that already
// carries a position.
type Trader struct {
	orders     *OrderManager
	positions  *PositionTracker
	candidates CandidateStatuser
	prices     PriceSource

	orderSizeUSD decimal.Decimal
	logger       *slog.Logger
}

// NewTrader wires the trader.
func NewTrader(cfg *config.Config, orders *OrderManager, positions *PositionTracker, candidates CandidateStatuser, prices PriceSource, logger *slog.Logger) *Trader {
	return &Trader{
		orders:       orders,
		positions:    positions,
		candidates:   candidates,
		prices:       prices,
		orderSizeUSD: decimal.NewFromFloat(cfg.Execution.OrderSizeUSD),
		logger:       logger.With("component", "trader"),
	}
}

// OnCandidate handles a first-trigger that scored at or above the execution
// threshold. Implements the pipeline's candidate sink.
func (t *Trader) OnCandidate(ctx context.Context, c types.Candidate, sc types.StrategyContext) {
	status := t.enter(ctx, c.TokenID, c.ConditionID, c.Price)
	if t.candidates == nil {
		return
	}
	if err := t.candidates.SetStatus(ctx, c.TokenID, c.ConditionID, c.Threshold, status); err != nil {
		t.logger.Error("candidate status update failed", "token", c.TokenID, "error", err)
	}
}

// OnPromotion handles a watchlist entry that crossed the execution threshold
// on a rescore. Implements the pipeline's promotion sink. The entry price is
// the latest snapshot, not the stale trigger price.
func (t *Trader) OnPromotion(ctx context.Context, p types.Promotion) {
	price, found, err := t.prices.LatestPrice(ctx, p.TokenID)
	if err != nil {
		t.logger.Error("promotion price lookup failed", "token", p.TokenID, "error", err)
		return
	}
	if !found {
		t.logger.Warn("promotion without a price snapshot, skipping", "token", p.TokenID)
		return
	}
	t.enter(ctx, p.TokenID, p.ConditionID, price)
}

// enter submits one sized BUY. The returned status reflects the decision:
// executed on success, rejected on permanent refusal, pending when the
// failure may clear (insufficient balance, transient venue errors).
func (t *Trader) enter(ctx context.Context, tokenID, conditionID string, price decimal.Decimal) types.CandidateStatus {
	if _, open := t.positions.OpenByToken(tokenID); open {
		t.logger.Info("position already open, not adding", "token", tokenID)
		return types.CandidateRejected
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return types.CandidateRejected
	}

	size := t.orderSizeUSD.Div(price).RoundDown(2)
	if size.LessThanOrEqual(decimal.Zero) {
		return types.CandidateRejected
	}

	order, err := t.orders.Submit(ctx, types.OrderRequest{
		TokenID:     tokenID,
		ConditionID: conditionID,
		Side:        types.BUY,
		Price:       price,
		Size:        size,
	})
	if err != nil {
		var insufficient *InsufficientBalanceError
		switch {
		case errors.As(err, &insufficient):
			t.logger.Warn("entry deferred, insufficient balance",
				"token", tokenID, "required", insufficient.Required, "available", insufficient.Available)
			return types.CandidatePending
		case errors.Is(err, ErrInvalid):
			t.logger.Info("entry rejected", "token", tokenID, "error", err)
			return types.CandidateRejected
		default:
			var rejected *VenueRejectedError
			if errors.As(err, &rejected) {
				t.logger.Warn("venue refused entry", "token", tokenID, "reason", rejected.Reason)
				return types.CandidateRejected
			}
			t.logger.Error("entry failed", "token", tokenID, "error", err)
			return types.CandidatePending
		}
	}

	t.logger.Info("entered position",
		"token", tokenID, "order_id", order.OrderID, "price", price, "size", size)
	return types.CandidateExecuted
}
