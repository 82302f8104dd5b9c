package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSource reports the venue-held collateral balance. The live client
// implements it; paper mode uses a fixed PaperBalance.
type BalanceSource interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// PaperBalance is a fixed balance source for paper trading.
type PaperBalance decimal.Decimal

// Balance returns the fixed paper balance.
func (p PaperBalance) Balance(context.Context) (decimal.Decimal, error) {
	return decimal.Decimal(p), nil
}

type reservation struct {
	amount    decimal.Decimal
	createdAt time.Time
}

// BalanceManager tracks available capital: the venue-reported balance minus
// in-flight per-order reservations and a configured minimum reserve. The
// reservation map is owned by this manager; all mutation goes through its
// methods. Invariant on accept: venue_balance ≥ Σ reservations + min_reserve.
type BalanceManager struct {
	mu           sync.Mutex
	source       BalanceSource
	venueBalance decimal.Decimal
	fetchedAt    time.Time
	staleness    time.Duration
	minReserve   decimal.Decimal
	reservations map[string]reservation
	logger       *slog.Logger
}

// NewBalanceManager creates the manager. The balance is fetched lazily on
// first use and refreshed when stale or on order settlement.
func NewBalanceManager(source BalanceSource, minReserve decimal.Decimal, staleness time.Duration, logger *slog.Logger) *BalanceManager {
	if staleness <= 0 {
		staleness = 30 * time.Second
	}
	return &BalanceManager{
		source:       source,
		staleness:    staleness,
		minReserve:   minReserve,
		reservations: make(map[string]reservation),
		logger:       logger.With("component", "balance"),
	}
}

// Available returns venue balance minus all reservations.
func (b *BalanceManager) Available() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableLocked()
}

// Tradeable returns Available minus the minimum reserve.
func (b *BalanceManager) Tradeable() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableLocked().Sub(b.minReserve)
}

// Reserve earmarks amount for orderID. Idempotent per orderID: re-reserving
// an existing key succeeds without double-counting. Fails with
// InsufficientBalanceError when amount exceeds the available balance; a
// reservation of exactly the available balance succeeds.
func (b *BalanceManager) Reserve(ctx context.Context, orderID string, amount decimal.Decimal) error {
	if err := b.ensureFresh(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.reservations[orderID]; exists {
		return nil
	}

	available := b.availableLocked()
	if amount.GreaterThan(available) {
		return &InsufficientBalanceError{Required: amount, Available: available}
	}

	b.reservations[orderID] = reservation{amount: amount, createdAt: time.Now().UTC()}
	b.logger.Debug("reserved", "order_id", orderID, "amount", amount, "available", available.Sub(amount))
	return nil
}

// Release drops the reservation for orderID. No-op when absent.
func (b *BalanceManager) Release(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.reservations, orderID)
}

// AdjustForPartialFill shrinks a reservation by the filled USD amount. When
// the fill consumes the whole reservation, it is released entirely.
func (b *BalanceManager) AdjustForPartialFill(orderID string, filledAmount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, ok := b.reservations[orderID]
	if !ok {
		return
	}
	if filledAmount.GreaterThanOrEqual(res.amount) {
		delete(b.reservations, orderID)
		return
	}
	res.amount = res.amount.Sub(filledAmount)
	b.reservations[orderID] = res
}

// Refresh re-reads the venue balance unconditionally.
func (b *BalanceManager) Refresh(ctx context.Context) error {
	bal, err := b.source.Balance(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.venueBalance = bal
	b.fetchedAt = time.Now().UTC()
	b.mu.Unlock()

	b.logger.Debug("balance refreshed", "venue_balance", bal)
	return nil
}

// ClearStaleReservations drops reservations older than maxAge. Guards
// against leaks from orders that never settled.
func (b *BalanceManager) ClearStaleReservations(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	b.mu.Lock()
	defer b.mu.Unlock()

	cleared := 0
	for id, res := range b.reservations {
		if res.createdAt.Before(cutoff) {
			delete(b.reservations, id)
			cleared++
		}
	}
	if cleared > 0 {
		b.logger.Warn("cleared stale reservations", "count", cleared)
	}
	return cleared
}

// ReservedTotal returns the sum of all outstanding reservations.
func (b *BalanceManager) ReservedTotal() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reservedLocked()
}

func (b *BalanceManager) availableLocked() decimal.Decimal {
	return b.venueBalance.Sub(b.reservedLocked())
}

func (b *BalanceManager) reservedLocked() decimal.Decimal {
	total := decimal.Zero
	for _, res := range b.reservations {
		total = total.Add(res.amount)
	}
	return total
}

func (b *BalanceManager) ensureFresh(ctx context.Context) error {
	b.mu.Lock()
	fresh := time.Since(b.fetchedAt) < b.staleness
	b.mu.Unlock()

	if fresh {
		return nil
	}
	return b.Refresh(ctx)
}
