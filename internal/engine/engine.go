// Package engine assembles and supervises the bot: storage, venue clients,
// the ingest and trigger pipeline, execution, exits, tiers, and the sync
// loops all run under one errgroup with shared cancellation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/execution"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/ingest"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/pipeline"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/storage"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/syncer"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/universe"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/venue"
)

// shutdownTimeout bounds the cancel-all safety net on the way out.
const shutdownTimeout = 10 * time.Second

// subscriptionRefreshEvery controls how often the WebSocket subscription set
// is reconciled against the tier-3 universe.
const subscriptionRefreshEvery = time.Minute

// Engine owns every long-running component.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	pool         *storage.Pool
	universeRepo *storage.UniverseRepo

	client    *venue.Client
	feed      *venue.MarketFeed
	processor *pipeline.Processor
	watchlist *pipeline.Watchlist
	poller    *ingest.TradePoller

	balance   *execution.BalanceManager
	positions *execution.PositionTracker
	orders    *execution.OrderManager
	exits     *execution.ExitManager

	tiers *universe.TierManager
	sync  *syncer.Syncer

	subscribed map[string]bool
}

// New connects storage, ensures the schema, and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	pool, err := storage.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	tradeRepo := storage.NewTradeRepo(pool)
	triggerRepo := storage.NewTriggerRepo(pool)
	candidateRepo := storage.NewCandidateRepo(pool)
	orderRepo := storage.NewOrderRepo(pool)
	positionRepo := storage.NewPositionRepo(pool)
	watchlistRepo := storage.NewWatchlistRepo(pool)
	watermarkRepo := storage.NewWatermarkRepo(pool)
	universeRepo := storage.NewUniverseRepo(pool)
	approvalRepo := storage.NewApprovalRepo(pool)
	syncRunRepo := storage.NewSyncRunRepo(pool)

	auth, err := venue.NewAuth(cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("venue auth: %w", err)
	}
	client := venue.NewClient(cfg, auth, logger)
	gamma := venue.NewGammaClient(cfg, logger)
	feed := venue.NewMarketFeed(cfg, logger)

	var source execution.BalanceSource = client
	if cfg.Mode != "live" {
		source = execution.PaperBalance(decimal.NewFromFloat(cfg.Execution.PaperBalanceUSD))
	}
	balance := execution.NewBalanceManager(source,
		decimal.NewFromFloat(cfg.Execution.MinReserve), cfg.Execution.BalanceStaleness, logger)
	positions := execution.NewPositionTracker(positionRepo, logger)
	orders := execution.NewOrderManager(cfg, client, orderRepo, approvalRepo, balance, positions, logger)
	trader := execution.NewTrader(cfg, orders, positions, candidateRepo, universeRepo, logger)
	exits := execution.NewExitManager(cfg, orders, positions, universeRepo, logger)

	tracker := pipeline.NewTracker(triggerRepo, watermarkRepo, logger)
	watchlist := pipeline.NewWatchlist(cfg, watchlistRepo, universeRepo, trader, logger)
	processor := pipeline.NewProcessor(cfg, universeRepo, tracker, candidateRepo, watermarkRepo, watchlist, trader, logger)
	poller := ingest.NewTradePoller(cfg, client, tradeRepo, watermarkRepo, processor, logger)

	fetcher := ingest.NewUniverseFetcher(gamma, universeRepo, logger)
	sync := syncer.New(cfg, pool, syncRunRepo, universeRepo, fetcher, logger)
	tiers := universe.NewTierManager(cfg, universeRepo, orderRepo, positionRepo, logger)

	return &Engine{
		cfg:          cfg,
		logger:       logger.With("component", "engine"),
		pool:         pool,
		universeRepo: universeRepo,
		client:       client,
		feed:         feed,
		processor:    processor,
		watchlist:    watchlist,
		poller:       poller,
		balance:      balance,
		positions:    positions,
		orders:       orders,
		exits:        exits,
		tiers:        tiers,
		sync:         sync,
		subscribed:   make(map[string]bool),
	}, nil
}

// Run re-hydrates state, starts every loop, and blocks until the context is
// cancelled or a component fails. Open orders are cancelled at the venue on
// the way out.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.balance.Refresh(ctx); err != nil {
		e.logger.Warn("initial balance refresh failed", "error", err)
	}
	if err := e.positions.Load(ctx); err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	if e.cfg.Mode == "live" {
		e.importVenuePositions(ctx)
	}
	if err := e.orders.LoadOrders(ctx); err != nil {
		return fmt.Errorf("load orders: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.feed.Run(gctx) })
	g.Go(func() error { return e.consumeEvents(gctx) })
	g.Go(func() error { return e.poller.Run(gctx) })
	g.Go(func() error { return e.watchlist.Run(gctx) })
	g.Go(func() error { return e.exits.Run(gctx) })
	g.Go(func() error { return e.tiers.Run(gctx) })
	g.Go(func() error { return e.orders.ReconcileLoop(gctx) })
	g.Go(func() error { return e.sync.RunFull(gctx) })
	g.Go(func() error { return e.sync.RunPrices(gctx) })
	g.Go(func() error { return e.sweepReservations(gctx) })
	g.Go(func() error { return e.refreshSubscriptions(gctx) })

	err := g.Wait()

	e.shutdown()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the database pool. Call after Run returns.
func (e *Engine) Close() {
	e.pool.Close()
}

// importVenuePositions adopts positions the venue reports that the local
// store does not know about, typically inventory left by a previous deploy
// or manual trading. Adopted positions carry the default hold window. A
// failed fetch is not fatal; the local view simply starts without them.
func (e *Engine) importVenuePositions(ctx context.Context) {
	rows, err := e.client.Positions(ctx)
	if err != nil {
		e.logger.Warn("venue position fetch failed, skipping import", "error", err)
		return
	}
	adopted, err := e.positions.ImportVenue(ctx, rows)
	if err != nil {
		e.logger.Warn("venue position import failed", "adopted", adopted, "error", err)
		return
	}
	if adopted > 0 {
		e.logger.Info("venue positions imported", "adopted", adopted)
	}
}

func (e *Engine) consumeEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-e.feed.Events():
			if !ok {
				return nil
			}
			e.processor.ProcessEvent(ctx, evt)
		}
	}
}

// sweepReservations drops reservations that outlived their TTL, guarding
// against leaks from orders that never settled.
func (e *Engine) sweepReservations(ctx context.Context) error {
	ttl := e.cfg.Execution.ReservationTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	interval := ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.balance.ClearStaleReservations(ttl)
		}
	}
}

// refreshSubscriptions reconciles the WebSocket subscription set against the
// tier-3 universe: every tier-3 token is subscribed, everything else is
// dropped.
func (e *Engine) refreshSubscriptions(ctx context.Context) error {
	ticker := time.NewTicker(subscriptionRefreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.syncSubscriptions(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Warn("subscription refresh failed", "error", err)
			}
		}
	}
}

func (e *Engine) syncSubscriptions(ctx context.Context) error {
	markets, err := e.universeRepo.ByTier(ctx, 3)
	if err != nil {
		return err
	}

	desired := make(map[string]bool)
	for _, m := range markets {
		tokens, err := e.universeRepo.TokensFor(ctx, m.ConditionID)
		if err != nil {
			return err
		}
		for _, tok := range tokens {
			desired[tok.TokenID] = true
		}
	}

	var add, remove []string
	for id := range desired {
		if !e.subscribed[id] {
			add = append(add, id)
		}
	}
	for id := range e.subscribed {
		if !desired[id] {
			remove = append(remove, id)
		}
	}
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	if len(remove) > 0 {
		e.feed.Unsubscribe(remove)
	}
	if len(add) > 0 {
		if err := e.feed.Subscribe(add); err != nil {
			return err
		}
	}
	e.subscribed = desired

	e.logger.Info("subscriptions reconciled",
		"total", len(desired), "added", len(add), "removed", len(remove))
	return nil
}

// shutdown cancels all open venue orders under a bounded context. Losing
// this race only costs a stale order at the venue; reconciliation on the
// next start picks it up.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.orders.CancelAllOpen(ctx); err != nil {
		e.logger.Error("shutdown cancel-all failed", "error", err)
	}
	if err := e.feed.Close(); err != nil {
		e.logger.Debug("feed close", "error", err)
	}
	e.logger.Info("engine stopped")
}
