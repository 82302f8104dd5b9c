package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestGammaMarketDualCase(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
	}{
		{
			name: "camelCase with stringified arrays",
			in: `{"conditionId":"0xC","question":"Will it happen?","endDate":"2026-12-31T00:00:00Z",
			     "volumeNum":1234.5,"outcomes":"[\"Yes\",\"No\"]",
			     "outcomePrices":"[\"0.95\",\"0.05\"]","clobTokenIds":"[\"tok_Y\",\"tok_N\"]"}`,
		},
		{
			name: "snake_case with real arrays",
			in: `{"condition_id":"0xC","question":"Will it happen?","end_date_iso":"2026-12-31T00:00:00Z",
			     "volume":"1234.5","outcomes":["Yes","No"],
			     "outcome_prices":["0.95","0.05"],"clob_token_ids":["tok_Y","tok_N"]}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m GammaMarket
			if err := json.Unmarshal([]byte(tc.in), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if m.ConditionID != "0xC" {
				t.Errorf("ConditionID = %q, want 0xC", m.ConditionID)
			}
			if m.EndDate != "2026-12-31T00:00:00Z" {
				t.Errorf("EndDate = %q", m.EndDate)
			}
			if m.Volume != 1234.5 {
				t.Errorf("Volume = %v, want 1234.5", m.Volume)
			}
			if len(m.Outcomes) != 2 || m.Outcomes[0] != "Yes" {
				t.Errorf("Outcomes = %v", m.Outcomes)
			}
			if len(m.ClobTokenIDs) != 2 || m.ClobTokenIDs[1] != "tok_N" {
				t.Errorf("ClobTokenIDs = %v", m.ClobTokenIDs)
			}
		})
	}
}

func TestParseFlexibleTime(t *testing.T) {
	t.Parallel()

	want := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"epoch seconds", "1787572800", true},
		{"epoch milliseconds", "1787572800000", true},
		{"rfc3339", "2026-08-24T12:00:00Z", true},
		{"empty", "", false},
		{"garbage", "not-a-time", false},
		{"zero", "0", false},
		{"negative", "-5", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseFlexibleTime(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && !got.Equal(want) {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

func TestWSEventBestBid(t *testing.T) {
	t.Parallel()

	evt := WSEvent{Buys: []PriceLevel{{Price: "0.93", Size: "10"}, {Price: "0.91", Size: "5"}}}
	if got := evt.BestBid(); got != "0.93" {
		t.Errorf("BestBid = %q, want 0.93", got)
	}
	if got := (WSEvent{}).BestBid(); got != "" {
		t.Errorf("BestBid on empty book = %q, want empty", got)
	}
}

func TestVenueTradeParsedTimeMissing(t *testing.T) {
	t.Parallel()

	var tr VenueTrade
	if err := json.Unmarshal([]byte(`{"conditionId":"0xC","id":"t1","price":"0.95"}`), &tr); err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.ParsedTime(); ok {
		t.Error("trade without timestamp must not parse to a valid time")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []OrderStatus{OrderFilled, OrderCancelled, OrderRejected} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderPending, OrderLive, OrderPartial} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
