// Package ingest pulls market data into storage: executed trades via REST
// polling and the market universe via the metadata API. The WebSocket path
// lives in internal/venue; both feed the same event pipeline.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/storage"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/venue"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// TradeSink receives newly ingested trades. The pipeline's event processor
// implements it.
type TradeSink interface {
	OnTrade(ctx context.Context, t types.Trade)
}

// TradePoller polls the venue trades endpoint, filters for freshness,
// persists new rows, advances the per-condition watermark, and hands fresh
// inserts to the sink. Replayed pages are absorbed by the trade table's
// conflict target, so polling overlap is harmless.
type TradePoller struct {
	client   *venue.Client
	trades   *storage.TradeRepo
	marks    *storage.WatermarkRepo
	sink     TradeSink
	interval time.Duration
	maxAge   time.Duration
	pageSize int
	logger   *slog.Logger
}

// NewTradePoller creates the poller.
func NewTradePoller(cfg *config.Config, client *venue.Client, trades *storage.TradeRepo, marks *storage.WatermarkRepo, sink TradeSink, logger *slog.Logger) *TradePoller {
	interval := cfg.Ingest.TradePollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	maxAge := cfg.Ingest.MaxTradeAge
	if maxAge <= 0 {
		maxAge = 300 * time.Second
	}
	pageSize := cfg.Ingest.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	return &TradePoller{
		client:   client,
		trades:   trades,
		marks:    marks,
		sink:     sink,
		interval: interval,
		maxAge:   maxAge,
		pageSize: pageSize,
		logger:   logger.With("component", "trade_poller"),
	}
}

// Run polls until ctx is cancelled. Poll errors are logged and the loop
// continues; storage holds everything already ingested.
func (p *TradePoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error("trade poll failed", "error", err)
			}
		}
	}
}

func (p *TradePoller) pollOnce(ctx context.Context) error {
	rows, err := p.client.RecentTrades(ctx, "", p.pageSize, p.maxAge)
	if err != nil {
		return err
	}

	var inserted int
	for _, raw := range rows {
		trade, ok := ConvertTrade(raw)
		if !ok {
			p.logger.Debug("skipping malformed trade", "trade_id", raw.TradeID)
			continue
		}

		isNew, err := p.trades.Upsert(ctx, trade)
		if err != nil {
			p.logger.Error("trade upsert failed", "trade_id", trade.TradeID, "error", err)
			continue
		}
		if !isNew {
			continue
		}
		inserted++

		if err := p.marks.Update(ctx, storage.StreamTrades, trade.ConditionID, trade.Timestamp.UnixMilli()); err != nil {
			p.logger.Error("trade watermark update failed", "condition", trade.ConditionID, "error", err)
		}
		if p.sink != nil {
			p.sink.OnTrade(ctx, trade)
		}
	}

	if inserted > 0 {
		p.logger.Debug("trades ingested", "fetched", len(rows), "inserted", inserted)
	}
	return nil
}

// ConvertTrade validates and types a raw venue trade. Returns false when
// the timestamp is missing, the price is outside [0, 1], or the size is
// negative — malformed rows are dropped, never defaulted.
func ConvertTrade(raw types.VenueTrade) (types.Trade, bool) {
	ts, ok := raw.ParsedTime()
	if !ok {
		return types.Trade{}, false
	}
	if raw.ConditionID == "" || raw.TradeID == "" || raw.AssetID == "" {
		return types.Trade{}, false
	}

	price, err := decimal.NewFromString(raw.Price)
	if err != nil || price.IsNegative() || price.GreaterThan(decimal.NewFromInt(1)) {
		return types.Trade{}, false
	}
	size, err := decimal.NewFromString(raw.Size)
	if err != nil || size.IsNegative() {
		return types.Trade{}, false
	}

	return types.Trade{
		ConditionID: raw.ConditionID,
		TradeID:     raw.TradeID,
		TokenID:     raw.AssetID,
		Price:       price,
		Size:        size,
		Side:        types.Side(raw.Side),
		Timestamp:   ts,
	}, true
}
