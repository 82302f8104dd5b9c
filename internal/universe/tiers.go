// Package universe scores markets and manages the three-tier attention
// model: tier 1 markets get metadata-only syncs, tier 2 gets price
// snapshots, tier 3 gets the full WebSocket feed.
package universe

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// TierStore is the slice of the universe repository the tier manager needs.
type TierStore interface {
	ByTier(ctx context.Context, tier int) ([]types.MarketUniverse, error)
	CountTier(ctx context.Context, tier int) (int, error)
	SetTier(ctx context.Context, conditionID string, tier int) error
	GetMarket(ctx context.Context, conditionID string) (types.MarketUniverse, bool, error)
	MarkBelowThreshold(ctx context.Context, conditionID string) error
	ClearBelowThreshold(ctx context.Context, conditionID string) error
	PendingTierRequests(ctx context.Context) ([]types.TierRequest, error)
	DeleteTierRequest(ctx context.Context, id int64) error
	PurgeExpiredTierRequests(ctx context.Context) (int64, error)
}

// OpenOrderChecker reports whether a condition has a non-terminal order.
type OpenOrderChecker interface {
	HasOpenOrder(ctx context.Context, conditionID string) (bool, error)
}

// OpenPositionChecker reports whether a condition has an open position.
type OpenPositionChecker interface {
	HasOpenPosition(ctx context.Context, conditionID string) (bool, error)
}

// TierManager runs the promotion/demotion cycle. Promotion thresholds sit
// above demotion thresholds so markets near a boundary don't churn between
// tiers every cycle.
type TierManager struct {
	store     TierStore
	orders    OpenOrderChecker
	positions OpenPositionChecker

	cycleInterval   time.Duration
	tier2Max        int
	tier3Max        int
	promote2        float64
	promote3        float64
	demote3         float64
	demote2         float64
	tier3Inactivity time.Duration
	tier2LowScore   time.Duration

	logger *slog.Logger
}

// NewTierManager wires the manager from config.
func NewTierManager(cfg *config.Config, store TierStore, orders OpenOrderChecker, positions OpenPositionChecker, logger *slog.Logger) *TierManager {
	interval := cfg.Tiers.CycleInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &TierManager{
		store:           store,
		orders:          orders,
		positions:       positions,
		cycleInterval:   interval,
		tier2Max:        cfg.Tiers.Tier2Max,
		tier3Max:        cfg.Tiers.Tier3Max,
		promote2:        cfg.Tiers.PromoteToTier2Score,
		promote3:        cfg.Tiers.PromoteToTier3Score,
		demote3:         cfg.Tiers.DemoteFromTier3Score,
		demote2:         cfg.Tiers.DemoteFromTier2Score,
		tier3Inactivity: time.Duration(cfg.Tiers.Tier3InactivityHours * float64(time.Hour)),
		tier2LowScore:   time.Duration(cfg.Tiers.Tier2LowScoreDays * 24 * float64(time.Hour)),
		logger:          logger.With("component", "tiers"),
	}
}

// Run executes the cycle on a timer until the context ends.
func (m *TierManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Cycle(ctx, time.Now().UTC()); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.logger.Error("tier cycle failed", "error", err)
			}
		}
	}
}

// Cycle runs one full pass: strategy requests first (they carry intent the
// score can't see yet), then score-based promotions, then demotions.
func (m *TierManager) Cycle(ctx context.Context, now time.Time) error {
	if _, err := m.store.PurgeExpiredTierRequests(ctx); err != nil {
		return err
	}
	if err := m.applyRequests(ctx); err != nil {
		return err
	}
	if err := m.promoteToTier2(ctx); err != nil {
		return err
	}
	if err := m.promoteToTier3(ctx); err != nil {
		return err
	}
	if err := m.demoteFromTier3(ctx, now); err != nil {
		return err
	}
	return m.demoteFromTier2(ctx, now)
}

// applyRequests honors strategy promotion requests, highest tier first.
// Requests that can't fit stay queued for the next cycle; satisfied or
// redundant requests are removed.
func (m *TierManager) applyRequests(ctx context.Context) error {
	requests, err := m.store.PendingTierRequests(ctx)
	if err != nil {
		return err
	}

	for _, req := range requests {
		market, found, err := m.store.GetMarket(ctx, req.ConditionID)
		if err != nil {
			return err
		}
		if !found || market.Tier >= req.RequestedTier {
			if err := m.store.DeleteTierRequest(ctx, req.ID); err != nil {
				return err
			}
			continue
		}

		count, err := m.store.CountTier(ctx, req.RequestedTier)
		if err != nil {
			return err
		}
		limit := m.capFor(req.RequestedTier)
		if limit > 0 && count >= limit {
			continue // retry next cycle, expires eventually
		}

		if err := m.store.SetTier(ctx, req.ConditionID, req.RequestedTier); err != nil {
			return err
		}
		if err := m.store.DeleteTierRequest(ctx, req.ID); err != nil {
			return err
		}
		m.logger.Info("tier request honored",
			"condition_id", req.ConditionID, "tier", req.RequestedTier, "requested_by", req.RequestedBy)
	}
	return nil
}

func (m *TierManager) promoteToTier2(ctx context.Context) error {
	markets, err := m.store.ByTier(ctx, 1)
	if err != nil {
		return err
	}
	count, err := m.store.CountTier(ctx, 2)
	if err != nil {
		return err
	}

	for _, market := range markets {
		if market.Score < m.promote2 {
			break // sorted by score, nothing below qualifies
		}
		if m.tier2Max > 0 && count >= m.tier2Max {
			break
		}
		if err := m.store.SetTier(ctx, market.ConditionID, 2); err != nil {
			return err
		}
		count++
		m.logger.Info("promoted to tier 2", "condition_id", market.ConditionID, "score", market.Score)
	}
	return nil
}

// promoteToTier3 moves markets with capital at risk unconditionally — the
// bot must see the order book where it has exposure — and high scorers up
// to the tier cap.
func (m *TierManager) promoteToTier3(ctx context.Context) error {
	markets, err := m.store.ByTier(ctx, 2)
	if err != nil {
		return err
	}
	count, err := m.store.CountTier(ctx, 3)
	if err != nil {
		return err
	}

	for _, market := range markets {
		active, err := m.isActive(ctx, market.ConditionID)
		if err != nil {
			return err
		}

		switch {
		case active:
			// Ignores the cap.
		case market.Score >= m.promote3 && (m.tier3Max == 0 || count < m.tier3Max):
		default:
			continue
		}

		if err := m.store.SetTier(ctx, market.ConditionID, 3); err != nil {
			return err
		}
		count++
		m.logger.Info("promoted to tier 3",
			"condition_id", market.ConditionID, "score", market.Score, "active", active)
	}
	return nil
}

func (m *TierManager) demoteFromTier3(ctx context.Context, now time.Time) error {
	markets, err := m.store.ByTier(ctx, 3)
	if err != nil {
		return err
	}

	for _, market := range markets {
		if market.PinnedTier >= 3 {
			continue
		}
		active, err := m.isActive(ctx, market.ConditionID)
		if err != nil {
			return err
		}
		if active || market.Score >= m.demote3 {
			continue
		}
		if market.LastSignalAt != nil && now.Sub(*market.LastSignalAt) < m.tier3Inactivity {
			continue
		}
		if err := m.store.SetTier(ctx, market.ConditionID, 2); err != nil {
			return err
		}
		m.logger.Info("demoted to tier 2", "condition_id", market.ConditionID, "score", market.Score)
	}
	return nil
}

// demoteFromTier2 demotes only after the score has stayed below the
// threshold for the sustained window, tracked via below_threshold_since.
func (m *TierManager) demoteFromTier2(ctx context.Context, now time.Time) error {
	markets, err := m.store.ByTier(ctx, 2)
	if err != nil {
		return err
	}

	for _, market := range markets {
		if market.PinnedTier >= 2 {
			continue
		}

		if market.Score >= m.demote2 {
			if market.BelowThresholdSince != nil {
				if err := m.store.ClearBelowThreshold(ctx, market.ConditionID); err != nil {
					return err
				}
			}
			continue
		}

		if market.BelowThresholdSince == nil {
			if err := m.store.MarkBelowThreshold(ctx, market.ConditionID); err != nil {
				return err
			}
			continue
		}
		if now.Sub(*market.BelowThresholdSince) < m.tier2LowScore {
			continue
		}
		if err := m.store.SetTier(ctx, market.ConditionID, 1); err != nil {
			return err
		}
		m.logger.Info("demoted to tier 1", "condition_id", market.ConditionID, "score", market.Score)
	}
	return nil
}

func (m *TierManager) isActive(ctx context.Context, conditionID string) (bool, error) {
	hasOrder, err := m.orders.HasOpenOrder(ctx, conditionID)
	if err != nil {
		return false, err
	}
	if hasOrder {
		return true, nil
	}
	return m.positions.HasOpenPosition(ctx, conditionID)
}

func (m *TierManager) capFor(tier int) int {
	switch tier {
	case 2:
		return m.tier2Max
	case 3:
		return m.tier3Max
	default:
		return 0
	}
}
