package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// fakeMarkets scripts universe lookups for exit evaluation.
type fakeMarkets struct {
	price     decimal.Decimal
	havePrice bool
	market    types.MarketUniverse
	haveMkt   bool
	resolved  bool
}

func (f *fakeMarkets) LatestPrice(context.Context, string) (decimal.Decimal, bool, error) {
	return f.price, f.havePrice, nil
}

func (f *fakeMarkets) GetMarket(context.Context, string) (types.MarketUniverse, bool, error) {
	return f.market, f.haveMkt, nil
}

func (f *fakeMarkets) IsResolved(context.Context, string) (bool, error) {
	return f.resolved, nil
}

func testExitConfig() *config.Config {
	cfg := testExecConfig()
	cfg.Exit = config.ExitConfig{
		ProfitTarget:     0.99,
		StopLoss:         0.90,
		TimeExitHours:    2,
		HoldHoursDefault: 24,
		EvaluateEvery:    time.Second,
	}
	return cfg
}

// openPosition builds an imported position, so the default hold window
// applies to profit and stop exits.
func openPosition(heldHours float64, now time.Time) types.Position {
	return types.Position{
		PositionID:  "p1",
		TokenID:     "tok",
		ConditionID: "0xcond",
		Size:        decimal.NewFromInt(100),
		EntryPrice:  decimal.NewFromFloat(0.95),
		HoldStartAt: now.Add(-time.Duration(heldHours * float64(time.Hour))),
		Status:      types.PositionOpen,
		Imported:    true,
	}
}

func newExitManager(markets MarketLookup) *ExitManager {
	cfg := testExitConfig()
	fx := newOrderFixtureForExit(cfg)
	return NewExitManager(cfg, fx, NewPositionTracker(newMemPositionStore(), testLogger()), markets, testLogger())
}

func newOrderFixtureForExit(cfg *config.Config) *OrderManager {
	balance := NewBalanceManager(PaperBalance(decimal.NewFromInt(1000)), decimal.Zero, time.Minute, testLogger())
	positions := NewPositionTracker(newMemPositionStore(), testLogger())
	return NewOrderManager(cfg, newFakeVenue(), newMemOrderStore(), nil, balance, positions, testLogger())
}

func TestEvaluateExitRules(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	endSoon := now.Add(time.Hour)
	endLater := now.Add(100 * time.Hour)

	tests := []struct {
		name      string
		markets   *fakeMarkets
		heldHours float64
		wantFire  bool
		wantType  types.ExitType
	}{
		{
			name: "profit target after hold window",
			markets: &fakeMarkets{
				price: decimal.NewFromFloat(0.99), havePrice: true,
				market: types.MarketUniverse{EndDate: &endLater}, haveMkt: true,
			},
			heldHours: 48,
			wantFire:  true,
			wantType:  types.ExitProfitTarget,
		},
		{
			name: "profit target blocked by hold window",
			markets: &fakeMarkets{
				price: decimal.NewFromFloat(0.99), havePrice: true,
				market: types.MarketUniverse{EndDate: &endLater}, haveMkt: true,
			},
			heldHours: 1,
			wantFire:  false,
		},
		{
			name: "stop loss after hold window",
			markets: &fakeMarkets{
				price: decimal.NewFromFloat(0.85), havePrice: true,
				market: types.MarketUniverse{EndDate: &endLater}, haveMkt: true,
			},
			heldHours: 48,
			wantFire:  true,
			wantType:  types.ExitStopLoss,
		},
		{
			name: "profit target beats stop loss precedence",
			// Degenerate thresholds can make both fire; profit wins.
			markets: &fakeMarkets{
				price: decimal.NewFromFloat(0.99), havePrice: true,
				market: types.MarketUniverse{EndDate: &endLater}, haveMkt: true,
			},
			heldHours: 48,
			wantFire:  true,
			wantType:  types.ExitProfitTarget,
		},
		{
			name: "time exit near end date regardless of hold",
			markets: &fakeMarkets{
				price: decimal.NewFromFloat(0.96), havePrice: true,
				market: types.MarketUniverse{EndDate: &endSoon}, haveMkt: true,
			},
			heldHours: 1,
			wantFire:  true,
			wantType:  types.ExitTime,
		},
		{
			name: "resolution ignores hold window",
			markets: &fakeMarkets{
				price: decimal.NewFromFloat(0.97), havePrice: true,
				market: types.MarketUniverse{EndDate: &endLater}, haveMkt: true,
				resolved: true,
			},
			heldHours: 1,
			wantFire:  true,
			wantType:  types.ExitResolution,
		},
		{
			name: "no price snapshot skips price rules",
			markets: &fakeMarkets{
				havePrice: false,
				market:    types.MarketUniverse{EndDate: &endLater}, haveMkt: true,
			},
			heldHours: 48,
			wantFire:  false,
		},
		{
			name: "healthy position holds",
			markets: &fakeMarkets{
				price: decimal.NewFromFloat(0.96), havePrice: true,
				market: types.MarketUniverse{EndDate: &endLater}, haveMkt: true,
			},
			heldHours: 48,
			wantFire:  false,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := newExitManager(tc.markets)
			sig, fire, err := m.Evaluate(context.Background(), openPosition(tc.heldHours, now), now)
			if err != nil {
				t.Fatal(err)
			}
			if fire != tc.wantFire {
				t.Fatalf("fire = %v, want %v", fire, tc.wantFire)
			}
			if fire && sig.ExitType != tc.wantType {
				t.Errorf("exit type = %s, want %s", sig.ExitType, tc.wantType)
			}
		})
	}
}

func TestBotOpenedPositionSkipsHoldWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	endLater := now.Add(100 * time.Hour)

	markets := &fakeMarkets{
		price: decimal.NewFromFloat(0.99), havePrice: true,
		market: types.MarketUniverse{EndDate: &endLater}, haveMkt: true,
	}
	m := newExitManager(markets)

	p := openPosition(0.5, now)
	p.Imported = false
	sig, fire, err := m.Evaluate(context.Background(), p, now)
	if err != nil {
		t.Fatal(err)
	}
	if !fire {
		t.Fatal("position opened by the bot must be exit-eligible immediately")
	}
	if sig.ExitType != types.ExitProfitTarget {
		t.Errorf("exit type = %s, want profit_target", sig.ExitType)
	}
}

func TestResolutionPriceRounding(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		price     decimal.Decimal
		havePrice bool
		want      decimal.Decimal
	}{
		{"winner rounds to 1", decimal.NewFromFloat(0.97), true, decimal.NewFromInt(1)},
		{"loser rounds to 0", decimal.NewFromFloat(0.03), true, decimal.Zero},
		{"exactly half rounds up", decimal.NewFromFloat(0.5), true, decimal.NewFromInt(1)},
		{"no price assumes loss", decimal.Zero, false, decimal.Zero},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := resolutionPrice(tc.price, tc.havePrice); !got.Equal(tc.want) {
				t.Errorf("resolutionPrice(%s) = %s, want %s", tc.price, got, tc.want)
			}
		})
	}
}

func TestEvaluateAllClosesFiredPositions(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	endLater := now.Add(100 * time.Hour)

	markets := &fakeMarkets{
		price: decimal.NewFromFloat(0.99), havePrice: true,
		market: types.MarketUniverse{EndDate: &endLater}, haveMkt: true,
	}

	cfg := testExitConfig()
	store := newMemPositionStore()
	positions := NewPositionTracker(store, testLogger())
	balance := NewBalanceManager(PaperBalance(decimal.NewFromInt(1000)), decimal.Zero, time.Minute, testLogger())
	orders := NewOrderManager(cfg, newFakeVenue(), newMemOrderStore(), nil, balance, positions, testLogger())
	m := NewExitManager(cfg, orders, positions, markets, testLogger())

	fill := buyFill("tok", 100, 0.95)
	fill.Timestamp = now.Add(-48 * time.Hour)
	if err := positions.ApplyFill(context.Background(), fill); err != nil {
		t.Fatal(err)
	}

	m.EvaluateAll(context.Background(), now)

	if len(positions.Open()) != 0 {
		t.Fatal("fired position must be closed")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.exits) != 1 {
		t.Fatalf("exit events = %d, want 1", len(store.exits))
	}
	if store.exits[0].ExitType != types.ExitProfitTarget {
		t.Errorf("exit type = %s, want profit_target", store.exits[0].ExitType)
	}
	if store.exits[0].Status != "executed" {
		t.Errorf("exit status = %q, want executed (sell order attached)", store.exits[0].Status)
	}
}
