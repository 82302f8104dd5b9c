package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBalance(t *testing.T, venueBalance, minReserve float64) *BalanceManager {
	t.Helper()
	return NewBalanceManager(
		PaperBalance(decimal.NewFromFloat(venueBalance)),
		decimal.NewFromFloat(minReserve),
		time.Minute,
		testLogger(),
	)
}

func TestReserveExactlyAvailableSucceeds(t *testing.T) {
	t.Parallel()
	b := newTestBalance(t, 100, 0)
	ctx := context.Background()

	if err := b.Reserve(ctx, "o1", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("reserving exactly the available balance: %v", err)
	}
	if !b.Available().IsZero() {
		t.Fatalf("available = %s, want 0", b.Available())
	}
}

func TestReserveOverAvailableFails(t *testing.T) {
	t.Parallel()
	b := newTestBalance(t, 100, 0)
	ctx := context.Background()

	err := b.Reserve(ctx, "o1", decimal.NewFromFloat(100.01))
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientBalanceError", err)
	}
	if !insufficient.Available.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Available = %s, want 100", insufficient.Available)
	}
	if b.ReservedTotal().Sign() != 0 {
		t.Errorf("failed reserve must not leave a reservation, got %s", b.ReservedTotal())
	}
}

func TestReserveIdempotentPerOrder(t *testing.T) {
	t.Parallel()
	b := newTestBalance(t, 100, 0)
	ctx := context.Background()

	if err := b.Reserve(ctx, "o1", decimal.NewFromInt(60)); err != nil {
		t.Fatal(err)
	}
	// Same order ID again: no double-count, no failure.
	if err := b.Reserve(ctx, "o1", decimal.NewFromInt(60)); err != nil {
		t.Fatalf("re-reserve same order: %v", err)
	}
	if got := b.ReservedTotal(); !got.Equal(decimal.NewFromInt(60)) {
		t.Errorf("reserved total = %s, want 60", got)
	}
}

func TestPartialFillShrinksReservation(t *testing.T) {
	t.Parallel()
	b := newTestBalance(t, 500, 0)
	ctx := context.Background()

	if err := b.Reserve(ctx, "o1", decimal.NewFromInt(100)); err != nil {
		t.Fatal(err)
	}

	b.AdjustForPartialFill("o1", decimal.NewFromInt(40))
	if got := b.ReservedTotal(); !got.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("after $40 fill, reserved = %s, want 60", got)
	}

	// Consuming the remainder releases the reservation entirely.
	b.AdjustForPartialFill("o1", decimal.NewFromInt(60))
	if got := b.ReservedTotal(); got.Sign() != 0 {
		t.Fatalf("after full consumption, reserved = %s, want 0", got)
	}
}

func TestTradeableSubtractsMinReserve(t *testing.T) {
	t.Parallel()
	b := newTestBalance(t, 100, 10)
	ctx := context.Background()

	if err := b.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Reserve(ctx, "o1", decimal.NewFromInt(30)); err != nil {
		t.Fatal(err)
	}
	if got := b.Tradeable(); !got.Equal(decimal.NewFromInt(60)) {
		t.Errorf("tradeable = %s, want 60 (100 - 30 reserved - 10 floor)", got)
	}
}

func TestClearStaleReservations(t *testing.T) {
	t.Parallel()
	b := newTestBalance(t, 100, 0)
	ctx := context.Background()

	if err := b.Reserve(ctx, "o1", decimal.NewFromInt(10)); err != nil {
		t.Fatal(err)
	}
	if cleared := b.ClearStaleReservations(time.Hour); cleared != 0 {
		t.Fatalf("fresh reservation cleared, count = %d", cleared)
	}
	if cleared := b.ClearStaleReservations(-time.Second); cleared != 1 {
		t.Fatalf("stale reservation not cleared, count = %d", cleared)
	}
	if b.ReservedTotal().Sign() != 0 {
		t.Errorf("reserved total = %s after clear, want 0", b.ReservedTotal())
	}
}

func TestReleaseUnknownIsNoop(t *testing.T) {
	t.Parallel()
	b := newTestBalance(t, 100, 0)
	b.Release("never-reserved")
	if b.ReservedTotal().Sign() != 0 {
		t.Errorf("reserved total = %s, want 0", b.ReservedTotal())
	}
}
