package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// OrderVenue is the slice of the venue client the order manager needs.
type OrderVenue interface {
	SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (types.VenueOrder, error)
	CancelAll(ctx context.Context) error
}

// OrderStore is the slice of the order repository the manager needs.
type OrderStore interface {
	Insert(ctx context.Context, o types.Order) error
	UpdateStatus(ctx context.Context, orderID string, status types.OrderStatus, filledSize, avgFillPrice decimal.Decimal, reason string) error
	ReplaceID(ctx context.Context, oldID, newID string) error
	Delete(ctx context.Context, orderID string) error
	NonTerminal(ctx context.Context) ([]types.Order, error)
}

// ApprovalGate looks up human-in-the-loop buy authorizations. Nil disables
// the gate.
type ApprovalGate interface {
	Get(ctx context.Context, tokenID string) (types.Approval, bool, error)
}

// OrderManager submits, caches, reconciles, and cancels orders. It owns the
// in-memory order map; every mutation is persisted through the order repo.
type OrderManager struct {
	mu        sync.Mutex
	venue     OrderVenue
	repo      OrderStore
	approvals ApprovalGate
	balance   *BalanceManager
	positions *PositionTracker

	maxBuyPrice    decimal.Decimal
	mode           types.OrderMode
	reconcileEvery time.Duration

	orders map[string]*types.Order
	logger *slog.Logger
}

// NewOrderManager wires the manager.
func NewOrderManager(cfg *config.Config, venueAPI OrderVenue, repo OrderStore, approvals ApprovalGate, balance *BalanceManager, positions *PositionTracker, logger *slog.Logger) *OrderManager {
	mode := types.ModePaper
	if cfg.Mode == "live" {
		mode = types.ModeLive
	}
	reconcile := cfg.Execution.ReconcileEvery
	if reconcile <= 0 {
		reconcile = 10 * time.Second
	}

	return &OrderManager{
		venue:          venueAPI,
		repo:           repo,
		approvals:      approvals,
		balance:        balance,
		positions:      positions,
		maxBuyPrice:    decimal.NewFromFloat(cfg.Execution.MaxBuyPrice),
		mode:           mode,
		reconcileEvery: reconcile,
		orders:         make(map[string]*types.Order),
		logger:         logger.With("component", "orders"),
	}
}

// Submit places an order. BUYs above the price cap are rejected before any
// venue call, persisted row, or reservation. The reservation (price × size,
// BUY only) is taken atomically with submission and released on any
// submission failure, including a venue ack that carries an empty order ID.
func (m *OrderManager) Submit(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	if req.Size.LessThanOrEqual(decimal.Zero) {
		return types.Order{}, fmt.Errorf("%w: size must be positive", ErrInvalid)
	}
	if req.Side == types.BUY && req.Price.GreaterThan(m.maxBuyPrice) {
		return types.Order{}, &PriceCapError{Price: req.Price, Max: m.maxBuyPrice}
	}
	if err := m.checkApproval(ctx, req); err != nil {
		return types.Order{}, err
	}

	localID := "pending-" + uuid.NewString()

	if req.Side == types.BUY {
		cost := req.Price.Mul(req.Size)
		if err := m.balance.Reserve(ctx, localID, cost); err != nil {
			return types.Order{}, err
		}
	}

	order := types.Order{
		OrderID:     localID,
		TokenID:     req.TokenID,
		ConditionID: req.ConditionID,
		Side:        req.Side,
		Price:       req.Price,
		Size:        req.Size,
		Status:      types.OrderPending,
		Mode:        m.mode,
	}
	if err := m.repo.Insert(ctx, order); err != nil {
		m.balance.Release(localID)
		return types.Order{}, err
	}

	ack, err := m.venue.SubmitOrder(ctx, req)
	if err != nil || !ack.Success || ack.OrderID == "" {
		// Roll back: the PENDING row has nothing at the venue to reconcile,
		// and an empty venue ID would corrupt the order map.
		m.balance.Release(localID)
		if delErr := m.repo.Delete(ctx, localID); delErr != nil {
			m.logger.Error("pending order rollback failed", "order_id", localID, "error", delErr)
		}
		if err != nil {
			return types.Order{}, fmt.Errorf("submit order: %w", err)
		}
		reason := ack.ErrorMsg
		if reason == "" {
			reason = "venue returned empty order id"
		}
		return types.Order{}, &VenueRejectedError{Reason: reason}
	}

	if err := m.repo.ReplaceID(ctx, localID, ack.OrderID); err != nil {
		m.logger.Error("order id replacement failed", "local", localID, "venue", ack.OrderID, "error", err)
	}
	order.OrderID = ack.OrderID
	order.Status = types.OrderLive
	if err := m.repo.UpdateStatus(ctx, order.OrderID, types.OrderLive, decimal.Zero, decimal.Zero, ""); err != nil {
		m.logger.Error("order status update failed", "order_id", order.OrderID, "error", err)
	}

	// Move the reservation to the venue-assigned key.
	if req.Side == types.BUY {
		cost := req.Price.Mul(req.Size)
		m.balance.Release(localID)
		if err := m.balance.Reserve(ctx, ack.OrderID, cost); err != nil {
			m.logger.Warn("re-keying reservation failed", "order_id", ack.OrderID, "error", err)
		}
	}

	m.mu.Lock()
	m.orders[order.OrderID] = &order
	m.mu.Unlock()

	m.logger.Info("order live",
		"order_id", order.OrderID, "token", order.TokenID,
		"side", order.Side, "price", order.Price, "size", order.Size, "mode", order.Mode)
	return order, nil
}

// checkApproval consults the human-in-the-loop gate. A token with no
// approval row passes; an approval that is expired or whose max_price is
// below the requested price rejects the order.
func (m *OrderManager) checkApproval(ctx context.Context, req types.OrderRequest) error {
	if m.approvals == nil || req.Side != types.BUY {
		return nil
	}
	a, found, err := m.approvals.Get(ctx, req.TokenID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if time.Now().UTC().After(a.ExpiresAt) {
		return fmt.Errorf("%w: approval for %s expired at %s", ErrInvalid, req.TokenID, a.ExpiresAt)
	}
	if req.Price.GreaterThan(a.MaxPrice) {
		return fmt.Errorf("%w: price %s above approved max %s", ErrInvalid, req.Price, a.MaxPrice)
	}
	return nil
}

// Cancel cancels an order. Idempotent: cancelling a terminal or unknown
// order, or one the venue already cancelled, succeeds.
func (m *OrderManager) Cancel(ctx context.Context, orderID string) error {
	m.mu.Lock()
	order, tracked := m.orders[orderID]
	if tracked && order.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.venue.CancelOrder(ctx, orderID); err != nil {
		return err
	}
	return m.applyStatus(ctx, orderID, types.OrderCancelled, decimal.Decimal{}, decimal.Decimal{}, "cancelled by bot")
}

// Reconcile polls the venue for one order and applies the resulting state
// transition. Fill sizes are cumulative from the venue, so out-of-order
// notifications cannot double-count.
func (m *OrderManager) Reconcile(ctx context.Context, orderID string) error {
	vo, err := m.venue.OrderStatus(ctx, orderID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	order, tracked := m.orders[orderID]
	var size decimal.Decimal
	if tracked {
		size = order.Size
	}
	m.mu.Unlock()
	if !tracked {
		return fmt.Errorf("order %s not tracked", orderID)
	}

	filled := decimal.Zero
	if vo.SizeMatched != "" {
		if f, err := decimal.NewFromString(vo.SizeMatched); err == nil {
			filled = f
		}
	} else if strings.EqualFold(vo.Status, "MATCHED") {
		// A matched order with no size_matched field is fully matched; the
		// dry-run status stub reports exactly this shape.
		filled = size
	}
	avgPrice := decimal.Zero
	if vo.AvgFillPrice != "" {
		if p, err := decimal.NewFromString(vo.AvgFillPrice); err == nil {
			avgPrice = p
		}
	}

	status := mapVenueStatus(vo.Status, filled, size)
	return m.applyStatus(ctx, orderID, status, filled, avgPrice, "")
}

// ReconcileLoop reconciles all non-terminal orders on a timer.
func (m *OrderManager) ReconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.reconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, id := range m.nonTerminalIDs() {
				if err := m.Reconcile(ctx, id); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					m.logger.Warn("reconcile failed", "order_id", id, "error", err)
				}
			}
		}
	}
}

// LoadOrders re-hydrates non-terminal orders from storage on startup and
// re-reserves the unfilled remainder of each BUY. Orders whose reservations
// no longer fit the available balance are still tracked but not re-reserved
// — crash recovery must not invent money.
func (m *OrderManager) LoadOrders(ctx context.Context) error {
	rows, err := m.repo.NonTerminal(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.orders = make(map[string]*types.Order, len(rows))
	for i := range rows {
		o := rows[i]
		m.orders[o.OrderID] = &o
	}
	m.mu.Unlock()

	for _, o := range rows {
		if o.Side != types.BUY {
			continue
		}
		remainder := o.RemainingSize().Mul(o.Price)
		if remainder.LessThanOrEqual(decimal.Zero) {
			continue
		}
		if err := m.balance.Reserve(ctx, o.OrderID, remainder); err != nil {
			var insufficient *InsufficientBalanceError
			if errors.As(err, &insufficient) {
				m.logger.Warn("over-committed from prior run, tracking without reservation",
					"order_id", o.OrderID, "required", insufficient.Required, "available", insufficient.Available)
				continue
			}
			return err
		}
	}

	m.logger.Info("orders loaded", "non_terminal", len(rows))
	return nil
}

// CancelAllOpen cancels every tracked non-terminal order at the venue.
// Shutdown safety net.
func (m *OrderManager) CancelAllOpen(ctx context.Context) error {
	ids := m.nonTerminalIDs()
	if len(ids) == 0 {
		return nil
	}

	if err := m.venue.CancelAll(ctx); err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.applyStatus(ctx, id, types.OrderCancelled, decimal.Decimal{}, decimal.Decimal{}, "cancelled on shutdown"); err != nil {
			m.logger.Error("shutdown cancel bookkeeping failed", "order_id", id, "error", err)
		}
	}
	return nil
}

// Get returns a tracked order.
func (m *OrderManager) Get(orderID string) (types.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return types.Order{}, false
	}
	return *o, true
}

// applyStatus applies one reconciliation result: status transition,
// incremental fill emission, reservation adjustment, and a balance refresh
// on partial or terminal transitions.
func (m *OrderManager) applyStatus(ctx context.Context, orderID string, status types.OrderStatus, filled, avgPrice decimal.Decimal, reason string) error {
	m.mu.Lock()
	order, tracked := m.orders[orderID]
	if !tracked {
		m.mu.Unlock()
		return nil
	}
	if order.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}

	increment := filled.Sub(order.FilledSize)
	prevStatus := order.Status
	prevFilled := order.FilledSize
	prevAvgPrice := order.AvgFillPrice
	order.Status = status
	if filled.GreaterThan(order.FilledSize) {
		order.FilledSize = filled
	}
	if avgPrice.GreaterThan(decimal.Zero) {
		order.AvgFillPrice = avgPrice
	}
	if reason != "" {
		order.Reason = reason
	}
	snapshot := *order
	m.mu.Unlock()

	if err := m.repo.UpdateStatus(ctx, orderID, status, snapshot.FilledSize, snapshot.AvgFillPrice, snapshot.Reason); err != nil {
		return err
	}

	if increment.GreaterThan(decimal.Zero) && m.positions != nil {
		fillPrice := snapshot.AvgFillPrice
		if fillPrice.IsZero() {
			fillPrice = snapshot.Price
		}
		fill := types.Fill{
			OrderID:     orderID,
			TokenID:     snapshot.TokenID,
			ConditionID: snapshot.ConditionID,
			Side:        snapshot.Side,
			Price:       fillPrice,
			Size:        increment,
			Timestamp:   time.Now().UTC(),
		}
		if err := m.positions.ApplyFill(ctx, fill); err != nil {
			m.logger.Error("fill application failed", "order_id", orderID, "error", err)
		}
	}

	switch {
	case status == types.OrderPartial:
		if snapshot.Side == types.BUY {
			// Release what the fills actually cost: the delta of the
			// cumulative notional, not increment × current average. The
			// average moves between polls and the increment alone would
			// drift the reservation.
			released := fillNotional(snapshot.FilledSize, snapshot.AvgFillPrice, snapshot.Price).
				Sub(fillNotional(prevFilled, prevAvgPrice, snapshot.Price))
			if released.GreaterThan(decimal.Zero) {
				m.balance.AdjustForPartialFill(orderID, released)
			}
		}
		if err := m.balance.Refresh(ctx); err != nil {
			m.logger.Warn("balance refresh after partial fill failed", "error", err)
		}

	case status.Terminal():
		m.balance.Release(orderID)
		if err := m.balance.Refresh(ctx); err != nil {
			m.logger.Warn("balance refresh after terminal order failed", "error", err)
		}
	}

	if status != prevStatus {
		m.logger.Info("order transition",
			"order_id", orderID, "from", prevStatus, "to", status, "filled", snapshot.FilledSize)
	}
	return nil
}

func (m *OrderManager) nonTerminalIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.orders))
	for id, o := range m.orders {
		if !o.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// fillNotional is the cumulative USD the venue reports as spent: filled size
// times the average fill price, falling back to the limit price until an
// average is reported.
func fillNotional(filled, avgPrice, limitPrice decimal.Decimal) decimal.Decimal {
	price := avgPrice
	if price.LessThanOrEqual(decimal.Zero) {
		price = limitPrice
	}
	return filled.Mul(price)
}

// mapVenueStatus translates a venue-reported status into the order state
// machine, using the cumulative fill to distinguish LIVE / PARTIAL / FILLED.
// Both "CANCELED" and "CANCELLED" spellings are accepted; "MATCHED" is the
// venue's terminal fully-matched state.
func mapVenueStatus(venueStatus string, filled, size decimal.Decimal) types.OrderStatus {
	switch strings.ToUpper(venueStatus) {
	case "CANCELED", "CANCELLED":
		return types.OrderCancelled
	case "REJECTED":
		return types.OrderRejected
	case "MATCHED":
		return types.OrderFilled
	}

	switch {
	case filled.GreaterThanOrEqual(size) && size.GreaterThan(decimal.Zero):
		return types.OrderFilled
	case filled.GreaterThan(decimal.Zero):
		return types.OrderPartial
	default:
		return types.OrderLive
	}
}
