package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// memPositionStore is an in-memory PositionStore for tests.
type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]types.Position
	exits     []types.ExitEvent
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]types.Position)}
}

func (s *memPositionStore) Save(_ context.Context, p types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.PositionID] = p
	return nil
}

func (s *memPositionStore) RecordExit(_ context.Context, e types.ExitEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exits = append(s.exits, e)
	return nil
}

func (s *memPositionStore) Open(_ context.Context) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Position
	for _, p := range s.positions {
		if p.Status == types.PositionOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func buyFill(token string, size, price float64) types.Fill {
	return types.Fill{
		OrderID:     "o-" + token,
		TokenID:     token,
		ConditionID: "0xcond",
		Side:        types.BUY,
		Price:       decimal.NewFromFloat(price),
		Size:        decimal.NewFromFloat(size),
		Timestamp:   time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
}

func TestApplyFillWeightedEntry(t *testing.T) {
	t.Parallel()
	tr := NewPositionTracker(newMemPositionStore(), testLogger())
	ctx := context.Background()

	if err := tr.ApplyFill(ctx, buyFill("tok", 100, 0.50)); err != nil {
		t.Fatal(err)
	}
	if err := tr.ApplyFill(ctx, buyFill("tok", 100, 0.60)); err != nil {
		t.Fatal(err)
	}

	p, ok := tr.OpenByToken("tok")
	if !ok {
		t.Fatal("position not open")
	}
	if !p.Size.Equal(decimal.NewFromInt(200)) {
		t.Errorf("size = %s, want 200", p.Size)
	}
	if !p.EntryPrice.Equal(decimal.NewFromFloat(0.55)) {
		t.Errorf("entry price = %s, want 0.55 (size-weighted)", p.EntryPrice)
	}
	if !p.EntryCost.Equal(decimal.NewFromInt(110)) {
		t.Errorf("entry cost = %s, want 110", p.EntryCost)
	}
}

func TestSellRealizesPnLAndCloses(t *testing.T) {
	t.Parallel()
	store := newMemPositionStore()
	tr := NewPositionTracker(store, testLogger())
	ctx := context.Background()

	if err := tr.ApplyFill(ctx, buyFill("tok", 100, 0.95)); err != nil {
		t.Fatal(err)
	}

	sell := buyFill("tok", 100, 0.99)
	sell.Side = types.SELL
	if err := tr.ApplyFill(ctx, sell); err != nil {
		t.Fatal(err)
	}

	if _, ok := tr.OpenByToken("tok"); ok {
		t.Fatal("position should be closed after selling full size")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.positions) != 1 {
		t.Fatalf("stored positions = %d, want 1", len(store.positions))
	}
	for _, p := range store.positions {
		if p.Status != types.PositionClosed {
			t.Errorf("status = %s, want closed", p.Status)
		}
		// 100 × (0.99 − 0.95) = 4
		if !p.RealizedPnL.Equal(decimal.NewFromInt(4)) {
			t.Errorf("realized pnl = %s, want 4", p.RealizedPnL)
		}
	}
}

func TestZeroSizeFillIgnored(t *testing.T) {
	t.Parallel()
	tr := NewPositionTracker(newMemPositionStore(), testLogger())

	f := buyFill("tok", 0, 0.50)
	if err := tr.ApplyFill(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.OpenByToken("tok"); ok {
		t.Fatal("zero-size fill must not open a position")
	}
}

func TestOversizedSellClampsAndCloses(t *testing.T) {
	t.Parallel()
	store := newMemPositionStore()
	tr := NewPositionTracker(store, testLogger())
	ctx := context.Background()

	if err := tr.ApplyFill(ctx, buyFill("tok", 100, 0.95)); err != nil {
		t.Fatal(err)
	}

	// 120 sold against 100 tracked: the position closes at zero, never
	// negative, and P&L is realized only on the tracked 100.
	sell := buyFill("tok", 120, 0.99)
	sell.Side = types.SELL
	if err := tr.ApplyFill(ctx, sell); err != nil {
		t.Fatal(err)
	}

	if _, ok := tr.OpenByToken("tok"); ok {
		t.Fatal("overshoot sell must close the position")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, p := range store.positions {
		if p.Status != types.PositionClosed {
			t.Errorf("status = %s, want closed", p.Status)
		}
		if p.Size.Sign() != 0 {
			t.Errorf("size = %s, want 0 (clamped)", p.Size)
		}
		// 100 × (0.99 − 0.95) = 4
		if !p.RealizedPnL.Equal(decimal.NewFromInt(4)) {
			t.Errorf("realized pnl = %s, want 4", p.RealizedPnL)
		}
	}
}

func TestSellWithoutPositionIgnored(t *testing.T) {
	t.Parallel()
	tr := NewPositionTracker(newMemPositionStore(), testLogger())

	sell := buyFill("tok", 50, 0.80)
	sell.Side = types.SELL
	if err := tr.ApplyFill(context.Background(), sell); err != nil {
		t.Fatal(err)
	}
	if len(tr.Open()) != 0 {
		t.Fatal("sell with no open position must be a no-op")
	}
}

func TestUnrealizedPnL(t *testing.T) {
	t.Parallel()
	tr := NewPositionTracker(newMemPositionStore(), testLogger())
	ctx := context.Background()

	if err := tr.ApplyFill(ctx, buyFill("tok", 100, 0.95)); err != nil {
		t.Fatal(err)
	}

	// 100 × (0.97 − 0.95) = 2
	if got := tr.PnL("tok", decimal.NewFromFloat(0.97)); !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("pnl = %s, want 2", got)
	}
	if got := tr.PnL("unknown", decimal.NewFromFloat(0.97)); got.Sign() != 0 {
		t.Errorf("pnl for unknown token = %s, want 0", got)
	}

	total := tr.TotalPnL(map[string]decimal.Decimal{"tok": decimal.NewFromFloat(0.97)})
	if !total.Equal(decimal.NewFromInt(2)) {
		t.Errorf("total pnl = %s, want 2", total)
	}
}

func TestClosePositionWritesExitEvent(t *testing.T) {
	t.Parallel()
	store := newMemPositionStore()
	tr := NewPositionTracker(store, testLogger())
	ctx := context.Background()

	if err := tr.ApplyFill(ctx, buyFill("tok", 100, 0.95)); err != nil {
		t.Fatal(err)
	}
	p, _ := tr.OpenByToken("tok")

	if err := tr.ClosePosition(ctx, p.PositionID, decimal.NewFromFloat(0.99), types.ExitProfitTarget, "exit-order-1"); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	exits := append([]types.ExitEvent(nil), store.exits...)
	closed := store.positions[p.PositionID]
	store.mu.Unlock()

	if len(exits) != 1 {
		t.Fatalf("exit events = %d, want 1", len(exits))
	}
	e := exits[0]
	if e.ExitType != types.ExitProfitTarget {
		t.Errorf("exit type = %s, want profit_target", e.ExitType)
	}
	if e.Status != "executed" {
		t.Errorf("exit status = %q, want executed (order ID attached)", e.Status)
	}
	if !e.NetPnL.Equal(decimal.NewFromInt(4)) {
		t.Errorf("net pnl = %s, want 4", e.NetPnL)
	}
	if closed.Status != types.PositionClosed {
		t.Errorf("position status = %s, want closed", closed.Status)
	}
	if closed.ExitOrderID != "exit-order-1" {
		t.Errorf("exit order = %q, want exit-order-1", closed.ExitOrderID)
	}
}

func TestClosePositionIdempotent(t *testing.T) {
	t.Parallel()
	store := newMemPositionStore()
	tr := NewPositionTracker(store, testLogger())
	ctx := context.Background()

	if err := tr.ApplyFill(ctx, buyFill("tok", 100, 0.95)); err != nil {
		t.Fatal(err)
	}
	p, _ := tr.OpenByToken("tok")

	price := decimal.NewFromFloat(0.99)
	if err := tr.ClosePosition(ctx, p.PositionID, price, types.ExitProfitTarget, "exit-1"); err != nil {
		t.Fatal(err)
	}
	// Second close of the same position must not write a second exit event.
	if err := tr.ClosePosition(ctx, p.PositionID, price, types.ExitProfitTarget, "exit-2"); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.exits) != 1 {
		t.Fatalf("exit events = %d, want 1", len(store.exits))
	}
	if store.positions[p.PositionID].ExitOrderID != "exit-1" {
		t.Errorf("exit order = %q, want exit-1 (first close wins)", store.positions[p.PositionID].ExitOrderID)
	}
}

func TestCloseWithoutOrderIsPending(t *testing.T) {
	t.Parallel()
	store := newMemPositionStore()
	tr := NewPositionTracker(store, testLogger())
	ctx := context.Background()

	if err := tr.ApplyFill(ctx, buyFill("tok", 100, 0.95)); err != nil {
		t.Fatal(err)
	}
	p, _ := tr.OpenByToken("tok")

	if err := tr.ClosePosition(ctx, p.PositionID, decimal.NewFromInt(1), types.ExitResolution, ""); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.exits[0].Status != "pending" {
		t.Errorf("exit status = %q, want pending (no exit order)", store.exits[0].Status)
	}
	if store.positions[p.PositionID].Status != types.PositionResolved {
		t.Errorf("position status = %s, want resolved", store.positions[p.PositionID].Status)
	}
}

func TestImportVenueAdoptsUnknownPositions(t *testing.T) {
	t.Parallel()
	store := newMemPositionStore()
	tr := NewPositionTracker(store, testLogger())
	ctx := context.Background()

	// Already tracked locally; the venue row for it must be skipped.
	if err := tr.ApplyFill(ctx, buyFill("tracked", 100, 0.95)); err != nil {
		t.Fatal(err)
	}

	adopted, err := tr.ImportVenue(ctx, []types.VenuePosition{
		{ConditionID: "0xcond", AssetID: "tracked", Size: "100", AvgPrice: "0.95"},
		{ConditionID: "0xother", AssetID: "new-tok", Size: "40", AvgPrice: "0.80"},
		{ConditionID: "0xflat", AssetID: "flat-tok", Size: "0", AvgPrice: "0.50"},
		{ConditionID: "0xbad", AssetID: "bad-tok", Size: "garbage", AvgPrice: "0.50"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if adopted != 1 {
		t.Fatalf("adopted = %d, want 1", adopted)
	}

	p, ok := tr.OpenByToken("new-tok")
	if !ok {
		t.Fatal("venue position not adopted")
	}
	if !p.Imported {
		t.Error("adopted position must be flagged imported")
	}
	if !p.Size.Equal(decimal.NewFromInt(40)) {
		t.Errorf("size = %s, want 40", p.Size)
	}
	if !p.EntryPrice.Equal(decimal.NewFromFloat(0.80)) {
		t.Errorf("entry price = %s, want 0.80", p.EntryPrice)
	}

	tracked, _ := tr.OpenByToken("tracked")
	if tracked.Imported {
		t.Error("locally opened position must not be re-flagged by import")
	}
	if _, ok := tr.OpenByToken("flat-tok"); ok {
		t.Error("zero-size venue row must not open a position")
	}
}

func TestLoadRehydratesOpenPositions(t *testing.T) {
	t.Parallel()
	store := newMemPositionStore()
	store.positions["p1"] = types.Position{
		PositionID: "p1", TokenID: "tok", ConditionID: "0xcond",
		Size: decimal.NewFromInt(100), EntryPrice: decimal.NewFromFloat(0.95),
		Status: types.PositionOpen,
	}
	store.positions["p2"] = types.Position{
		PositionID: "p2", TokenID: "tok2",
		Status: types.PositionClosed,
	}

	tr := NewPositionTracker(store, testLogger())
	if err := tr.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(tr.Open()) != 1 {
		t.Fatalf("open positions = %d, want 1 (closed rows excluded)", len(tr.Open()))
	}
	if _, ok := tr.OpenByToken("tok"); !ok {
		t.Error("p1 not rehydrated")
	}
}
