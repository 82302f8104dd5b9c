package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/storage"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// PromotionSink receives watchlist entries that crossed the execution
// threshold during a rescore.
type PromotionSink interface {
	OnPromotion(ctx context.Context, p types.Promotion)
}

// Watchlist re-scores borderline triggers periodically. Per-entry state
// machine: watching → promoted | expired.
type Watchlist struct {
	repo     *storage.WatchlistRepo
	universe *storage.UniverseRepo
	sink     PromotionSink

	executionThreshold float64
	watchlistMin       float64
	minTimeToEndHours  float64
	interval           time.Duration

	logger *slog.Logger
}

// NewWatchlist creates the service.
func NewWatchlist(cfg *config.Config, repo *storage.WatchlistRepo, universeRepo *storage.UniverseRepo, sink PromotionSink, logger *slog.Logger) *Watchlist {
	interval := cfg.Pipeline.RescoreInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Watchlist{
		repo:               repo,
		universe:           universeRepo,
		sink:               sink,
		executionThreshold: cfg.Pipeline.ExecutionThreshold,
		watchlistMin:       cfg.Pipeline.WatchlistMin,
		minTimeToEndHours:  cfg.Pipeline.MinTimeToEndHours,
		interval:           interval,
		logger:             logger.With("component", "watchlist"),
	}
}

// Add upserts a watch entry in the watching state.
func (w *Watchlist) Add(ctx context.Context, e types.WatchEntry) error {
	return w.repo.Upsert(ctx, e)
}

// Run rescoring on a timer until ctx is cancelled.
func (w *Watchlist) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.RescoreAll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Error("rescore failed", "error", err)
			}
		}
	}
}

// RescoreAll recomputes every watching entry's score, promotes entries at
// or above the execution threshold, and expires entries that fell below the
// minimum or whose market closes inside the minimum trade window.
func (w *Watchlist) RescoreAll(ctx context.Context) error {
	expired, err := w.repo.ExpireEndingSoon(ctx, w.minTimeToEndHours)
	if err != nil {
		return err
	}
	if expired > 0 {
		w.logger.Info("expired ending-soon entries", "count", expired)
	}

	entries, err := w.repo.Active(ctx)
	if err != nil {
		return err
	}

	for _, e := range entries {
		timeToEnd := w.currentTimeToEnd(ctx, e)
		score := WatchScore(priceFloat(e.TriggerPrice), timeToEnd)

		if err := w.repo.UpdateScore(ctx, e.TokenID, score, timeToEnd); err != nil {
			w.logger.Error("score update failed", "token", e.TokenID, "error", err)
			continue
		}

		switch {
		case score >= w.executionThreshold:
			if err := w.repo.SetStatus(ctx, e.TokenID, types.WatchPromoted); err != nil {
				w.logger.Error("promote failed", "token", e.TokenID, "error", err)
				continue
			}
			w.logger.Info("watchlist promotion", "token", e.TokenID, "score", score)
			if w.sink != nil {
				w.sink.OnPromotion(ctx, types.Promotion{
					TokenID:     e.TokenID,
					ConditionID: e.ConditionID,
					Score:       score,
				})
			}

		case score < w.watchlistMin:
			if err := w.repo.SetStatus(ctx, e.TokenID, types.WatchExpired); err != nil {
				w.logger.Error("expire failed", "token", e.TokenID, "error", err)
				continue
			}
			w.logger.Info("watchlist entry expired", "token", e.TokenID, "score", score)
		}
	}
	return nil
}

// currentTimeToEnd recomputes hours to market close from the universe;
// falls back to the stored value when the market is unknown.
func (w *Watchlist) currentTimeToEnd(ctx context.Context, e types.WatchEntry) float64 {
	m, found, err := w.universe.GetMarket(ctx, e.ConditionID)
	if err != nil || !found || m.EndDate == nil {
		return e.TimeToEndHours
	}
	return time.Until(*m.EndDate).Hours()
}
