// Package syncer runs the periodic market-universe synchronization loops.
//
// Two independent loops exist: the full sync walks every market on the
// metadata API, the price-only sync refreshes the top-N markets by volume.
// Each loop holds a Postgres session advisory lock while running so that at
// most one replica syncs at a time; a run that loses the lock race is
// recorded as skipped, not failed.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/ingest"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/storage"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

const (
	KindFull   = "full"
	KindPrices = "prices"
)

// Syncer owns both sync loops.
type Syncer struct {
	pool     *storage.Pool
	runs     *storage.SyncRunRepo
	universe *storage.UniverseRepo
	fetcher  *ingest.UniverseFetcher

	fullInterval  time.Duration
	priceInterval time.Duration
	priceTopN     int

	logger *slog.Logger
}

// New wires the syncer from config.
func New(cfg *config.Config, pool *storage.Pool, runs *storage.SyncRunRepo, universe *storage.UniverseRepo, fetcher *ingest.UniverseFetcher, logger *slog.Logger) *Syncer {
	fullInterval := cfg.Sync.FullInterval
	if fullInterval <= 0 {
		fullInterval = time.Hour
	}
	priceInterval := cfg.Sync.PriceInterval
	if priceInterval <= 0 {
		priceInterval = 5 * time.Minute
	}
	topN := cfg.Sync.PriceTopN
	if topN <= 0 {
		topN = 100
	}
	return &Syncer{
		pool:          pool,
		runs:          runs,
		universe:      universe,
		fetcher:       fetcher,
		fullInterval:  fullInterval,
		priceInterval: priceInterval,
		priceTopN:     topN,
		logger:        logger.With("component", "syncer"),
	}
}

// RunFull executes full syncs on a timer, starting with an immediate run so
// a fresh deployment has a universe to work with.
func (s *Syncer) RunFull(ctx context.Context) error {
	return s.loop(ctx, s.fullInterval, storage.LockFullSync, KindFull, s.fullSync)
}

// RunPrices executes price-only syncs on a timer.
func (s *Syncer) RunPrices(ctx context.Context) error {
	return s.loop(ctx, s.priceInterval, storage.LockPriceSync, KindPrices, s.priceSync)
}

func (s *Syncer) loop(ctx context.Context, interval time.Duration, lockKey int64, kind string, work func(context.Context) (markets, trades int, err error)) error {
	s.runOnce(ctx, lockKey, kind, work)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx, lockKey, kind, work)
		}
	}
}

// runOnce performs a single guarded iteration. The advisory lock lives on a
// pinned connection held for the duration of the run; both the lock and the
// connection are released on every path out.
func (s *Syncer) runOnce(ctx context.Context, lockKey int64, kind string, work func(context.Context) (int, int, error)) {
	runID := uuid.NewString()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		s.logger.Error("sync connection acquire failed", "kind", kind, "error", err)
		return
	}
	defer conn.Release()

	locked, err := storage.TrySessionLock(ctx, conn, lockKey)
	if err != nil {
		s.logger.Error("sync lock attempt failed", "kind", kind, "error", err)
		return
	}
	if !locked {
		if err := s.runs.RecordSkipped(ctx, runID, kind); err != nil {
			s.logger.Warn("recording skipped run failed", "kind", kind, "error", err)
		}
		s.logger.Info("sync skipped, another runner holds the lock", "kind", kind)
		return
	}
	defer func() {
		if err := storage.ReleaseSessionLock(ctx, conn, lockKey); err != nil {
			s.logger.Warn("sync lock release failed", "kind", kind, "error", err)
		}
	}()

	started := time.Now().UTC()
	if err := s.runs.Start(ctx, types.SyncRun{ID: runID, Kind: kind, StartedAt: started}); err != nil {
		s.logger.Error("recording sync start failed", "kind", kind, "error", err)
		return
	}

	markets, trades, workErr := work(ctx)
	status := "success"
	errMsg := ""
	if workErr != nil {
		status = "failed"
		errMsg = workErr.Error()
	}
	if err := s.runs.Finish(ctx, runID, status, markets, trades, errMsg); err != nil {
		s.logger.Error("recording sync finish failed", "kind", kind, "error", err)
	}

	s.logger.Info("sync finished",
		"kind", kind, "status", status, "markets", markets,
		"elapsed", time.Since(started), "error", errMsg)
}

func (s *Syncer) fullSync(ctx context.Context) (int, int, error) {
	markets, err := s.fetcher.SyncAll(ctx)
	return markets, 0, err
}

// priceSync refreshes prices for the highest-volume unresolved markets only.
func (s *Syncer) priceSync(ctx context.Context) (int, int, error) {
	ids, err := s.universe.TopByVolume(ctx, s.priceTopN)
	if err != nil {
		return 0, 0, err
	}
	updated, err := s.fetcher.SnapshotPrices(ctx, ids)
	return updated, 0, err
}
