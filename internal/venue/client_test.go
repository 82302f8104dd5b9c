package venue

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Client{
		dryRun: true,
		rl:     NewRateLimiter(),
		logger: logger,
	}
}

func TestDryRunSubmitOrder(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	ack, err := c.SubmitOrder(context.Background(), types.OrderRequest{
		TokenID:     "tok1",
		ConditionID: "0xc1",
		Side:        types.BUY,
		Price:       decimal.RequireFromString("0.95"),
		Size:        decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if !ack.Success {
		t.Error("ack.Success = false, want true")
	}
	if !strings.HasPrefix(ack.OrderID, "dry-run-") {
		t.Errorf("ack.OrderID = %q, want dry-run prefix", ack.OrderID)
	}
	if ack.Status != "live" {
		t.Errorf("ack.Status = %q, want \"live\"", ack.Status)
	}
}

func TestDryRunCancelOrder(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	if err := c.CancelOrder(context.Background(), "order-1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	// Idempotent: a second cancel succeeds too.
	if err := c.CancelOrder(context.Background(), "order-1"); err != nil {
		t.Fatalf("CancelOrder (second): %v", err)
	}
}

func TestDryRunOrderStatus(t *testing.T) {
	t.Parallel()
	// The fixture has no HTTP client wired; a venue request here would panic.
	c := newDryRunClient()

	vo, err := c.OrderStatus(context.Background(), "dry-run-42")
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if vo.OrderID != "dry-run-42" {
		t.Errorf("vo.OrderID = %q, want dry-run-42", vo.OrderID)
	}
	if vo.Status != "MATCHED" {
		t.Errorf("vo.Status = %q, want MATCHED", vo.Status)
	}
}

func TestDryRunCancelAll(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	if err := c.CancelAll(context.Background()); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
}

func TestFilterFresh(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	maxAge := 300 * time.Second

	epoch := func(t time.Time) string {
		return decimal.NewFromInt(t.Unix()).String()
	}

	trades := []types.VenueTrade{
		{TradeID: "fresh", Timestamp: epoch(now.Add(-10 * time.Second))},
		{TradeID: "boundary", Timestamp: epoch(now.Add(-maxAge))}, // exactly max_age is fresh
		{TradeID: "stale", Timestamp: epoch(now.Add(-maxAge - time.Second))},
		{TradeID: "ancient", Timestamp: epoch(now.Add(-60 * 24 * time.Hour))},
		{TradeID: "no_timestamp", Timestamp: ""},
	}

	fresh := FilterFresh(trades, maxAge, now)
	if len(fresh) != 2 {
		t.Fatalf("FilterFresh returned %d trades, want 2", len(fresh))
	}
	if fresh[0].TradeID != "fresh" || fresh[1].TradeID != "boundary" {
		t.Errorf("unexpected survivors: %q, %q", fresh[0].TradeID, fresh[1].TradeID)
	}
}
