package pipeline

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

func TestShouldProcess(t *testing.T) {
	t.Parallel()

	accepted := []string{"price_change", "trade", "price_update", "book", "last_trade_price"}
	for _, et := range accepted {
		if !ShouldProcess(et) {
			t.Errorf("ShouldProcess(%q) = false, want true", et)
		}
	}

	ignored := []string{"heartbeat", "tick_size_change", "new_market", "", "unknown"}
	for _, et := range ignored {
		if ShouldProcess(et) {
			t.Errorf("ShouldProcess(%q) = true, want false", et)
		}
	}
}

func TestExtractTrigger(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	ts := "1787572800" // 2026-08-24T12:00:00Z

	t.Run("price field preferred", func(t *testing.T) {
		t.Parallel()
		tc, ok := ExtractTrigger(types.WSEvent{
			AssetID: "tok1", Market: "0xc1",
			Price: "0.96", LastTradePrice: "0.90",
			Timestamp: ts,
		}, now)
		if !ok {
			t.Fatal("expected ok")
		}
		if tc.Price.String() != "0.96" {
			t.Errorf("Price = %s, want 0.96", tc.Price)
		}
	})

	t.Run("falls back to last trade price", func(t *testing.T) {
		t.Parallel()
		tc, ok := ExtractTrigger(types.WSEvent{
			AssetID: "tok1", LastTradePrice: "0.92", Timestamp: ts,
		}, now)
		if !ok {
			t.Fatal("expected ok")
		}
		if tc.Price.String() != "0.92" {
			t.Errorf("Price = %s, want 0.92", tc.Price)
		}
	})

	t.Run("falls back to best bid", func(t *testing.T) {
		t.Parallel()
		tc, ok := ExtractTrigger(types.WSEvent{
			AssetID:   "tok1",
			Buys:      []types.PriceLevel{{Price: "0.94", Size: "10"}},
			Timestamp: ts,
		}, now)
		if !ok {
			t.Fatal("expected ok")
		}
		if tc.Price.String() != "0.94" {
			t.Errorf("Price = %s, want 0.94", tc.Price)
		}
	})

	t.Run("no price skipped silently", func(t *testing.T) {
		t.Parallel()
		if _, ok := ExtractTrigger(types.WSEvent{AssetID: "tok1", Timestamp: ts}, now); ok {
			t.Error("expected skip when no price source yields a value")
		}
	})

	t.Run("market without asset_id is not a token", func(t *testing.T) {
		t.Parallel()
		if _, ok := ExtractTrigger(types.WSEvent{Market: "0xc1", Price: "0.96", Timestamp: ts}, now); ok {
			t.Error("expected skip for condition-only event")
		}
	})

	t.Run("missing timestamp dropped", func(t *testing.T) {
		t.Parallel()
		if _, ok := ExtractTrigger(types.WSEvent{AssetID: "tok1", Price: "0.96"}, now); ok {
			t.Error("expected drop when timestamp is missing")
		}
	})

	t.Run("millisecond timestamp normalized", func(t *testing.T) {
		t.Parallel()
		tc, ok := ExtractTrigger(types.WSEvent{
			AssetID: "tok1", Price: "0.96", Timestamp: "1787572800000",
		}, now)
		if !ok {
			t.Fatal("expected ok")
		}
		if !tc.Timestamp.Equal(now) {
			t.Errorf("Timestamp = %v, want %v", tc.Timestamp, now)
		}
		if tc.TradeAgeSeconds != 0 {
			t.Errorf("TradeAgeSeconds = %v, want 0", tc.TradeAgeSeconds)
		}
	})
}

func TestMeetsThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		price     string
		threshold float64
		want      bool
	}{
		{"0.95", 0.95, true},  // exactly at threshold crosses
		{"0.9501", 0.95, true},
		{"0.9499", 0.95, false}, // strictly below does not
		{"1", 0.95, true},
		{"0", 0.95, false},
	}
	for _, tt := range tests {
		got := MeetsThreshold(decimal.RequireFromString(tt.price), tt.threshold)
		if got != tt.want {
			t.Errorf("MeetsThreshold(%s, %v) = %v, want %v", tt.price, tt.threshold, got, tt.want)
		}
	}
}

func TestApplyFiltersWeather(t *testing.T) {
	t.Parallel()

	p := &Processor{minTimeToEndHours: 6}
	end := time.Now().Add(240 * time.Hour)

	tests := []struct {
		name     string
		question string
		category string
		rejected bool
	}{
		{"rain market", "Will it rain in NYC tomorrow?", "Weather", true},
		{"snow market", "Will snow fall in Denver?", "", true},
		{"storm category", "Market question", "Storm tracking", true},
		{"rainbow six passes", "Will Team A win Rainbow Six Siege tournament?", "Esports", false},
		{"snowboard passes", "Will the snowboarder win gold?", "Sports", false},
		{"storming through passes", "Will the team keep storming through the bracket?", "Sports", false},
		{"temperature market", "Will the temperature exceed 100F?", "", true},
		{"plain market passes", "Will candidate X win the election?", "Politics", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sc := types.StrategyContext{
				Question:       tt.question,
				Category:       tt.category,
				EndDate:        &end,
				TimeToEndHours: 240,
			}
			reason := p.ApplyFilters(sc)
			if (reason != "") != tt.rejected {
				t.Errorf("ApplyFilters rejected=%v (reason %q), want rejected=%v", reason != "", reason, tt.rejected)
			}
		})
	}
}

func TestApplyFiltersExpiry(t *testing.T) {
	t.Parallel()

	p := &Processor{minTimeToEndHours: 6}

	soon := time.Now().Add(3 * time.Hour)
	if reason := p.ApplyFilters(types.StrategyContext{
		Question: "Safe question", EndDate: &soon, TimeToEndHours: 3,
	}); reason == "" {
		t.Error("expected rejection for market ending within 6 hours")
	}

	// Unknown expiry passes: safe defaults must not reject.
	if reason := p.ApplyFilters(types.StrategyContext{
		Question: "Safe question", EndDate: nil, TimeToEndHours: 0,
	}); reason != "" {
		t.Errorf("unknown expiry rejected: %q", reason)
	}
}

func TestWatchScoreMonotoneAndCapped(t *testing.T) {
	t.Parallel()

	// Shrinking time-to-end never lowers the score.
	prev := WatchScore(0.95, 500)
	for _, h := range []float64{200, 100, 48, 24, 6, 1, 0} {
		s := WatchScore(0.95, h)
		if s < prev {
			t.Fatalf("WatchScore(0.95, %v) = %v < previous %v; must be monotone as time shrinks", h, s, prev)
		}
		prev = s
	}

	// Capped at 1.0.
	if s := WatchScore(0.999, 0); s > 1.0 {
		t.Errorf("WatchScore exceeded cap: %v", s)
	}
	if s := WatchScore(1.0, 0); s != 1.0 {
		t.Errorf("WatchScore(1.0, 0) = %v, want exactly 1.0", s)
	}
}
