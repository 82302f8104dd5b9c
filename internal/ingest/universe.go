package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/storage"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/universe"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/venue"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// UniverseFetcher pulls the full market universe from the metadata API and
// writes market rows, token metadata, and price snapshots. Pages are paced
// by the Gamma client; parsing is defensive, bad rows are skipped.
type UniverseFetcher struct {
	gamma    *venue.GammaClient
	universe *storage.UniverseRepo
	logger   *slog.Logger
}

// NewUniverseFetcher creates the fetcher.
func NewUniverseFetcher(gamma *venue.GammaClient, repo *storage.UniverseRepo, logger *slog.Logger) *UniverseFetcher {
	return &UniverseFetcher{
		gamma:    gamma,
		universe: repo,
		logger:   logger.With("component", "universe_fetcher"),
	}
}

// SyncAll walks every active market and upserts universe rows. Returns the
// number of markets processed.
func (f *UniverseFetcher) SyncAll(ctx context.Context) (int, error) {
	total := 0
	err := f.gamma.AllMarkets(ctx, func(page []types.GammaMarket) error {
		for _, gm := range page {
			if gm.ConditionID == "" {
				continue
			}
			if err := f.ingestMarket(ctx, gm); err != nil {
				f.logger.Error("market ingest failed", "condition", gm.ConditionID, "error", err)
				continue
			}
			total++
		}
		return nil
	})
	return total, err
}

// SnapshotPrices refreshes prices and 1h/24h change aggregates for the
// given conditions only. Used by the lighter price-only sync.
func (f *UniverseFetcher) SnapshotPrices(ctx context.Context, conditionIDs []string) (int, error) {
	updated := 0
	for _, id := range conditionIDs {
		gm, found, err := f.gamma.Market(ctx, id)
		if err != nil {
			f.logger.Error("price snapshot fetch failed", "condition", id, "error", err)
			continue
		}
		if !found {
			continue
		}
		if err := f.ingestMarket(ctx, gm); err != nil {
			f.logger.Error("price snapshot ingest failed", "condition", id, "error", err)
			continue
		}
		updated++
	}
	return updated, nil
}

func (f *UniverseFetcher) ingestMarket(ctx context.Context, gm types.GammaMarket) error {
	now := time.Now().UTC()

	var endDate *time.Time
	if gm.EndDate != "" {
		if ts, ok := types.ParseFlexibleTime(gm.EndDate); ok {
			endDate = &ts
		}
	}

	tokens := pairTokens(gm)
	if err := f.universe.UpsertTokens(ctx, gm.ConditionID, tokens); err != nil {
		return err
	}

	// Snapshot each token's current price, then derive movement aggregates
	// from the snapshot history.
	for i, tok := range tokens {
		if i >= len(gm.OutcomePrices) {
			break
		}
		price, err := decimal.NewFromString(gm.OutcomePrices[i])
		if err != nil {
			continue
		}
		snap := types.PriceSnapshot{
			ConditionID: gm.ConditionID,
			TokenID:     tok.TokenID,
			Price:       price,
			TakenAt:     now,
		}
		if err := f.universe.AddPriceSnapshot(ctx, snap); err != nil {
			return err
		}
	}

	var change1h, change24h float64
	if len(tokens) > 0 {
		var err error
		change1h, err = f.universe.PriceChangeSince(ctx, tokens[0].TokenID, time.Hour)
		if err != nil {
			f.logger.Debug("1h change lookup failed", "condition", gm.ConditionID, "error", err)
		}
		change24h, err = f.universe.PriceChangeSince(ctx, tokens[0].TokenID, 24*time.Hour)
		if err != nil {
			f.logger.Debug("24h change lookup failed", "condition", gm.ConditionID, "error", err)
		}
	}

	m := types.MarketUniverse{
		ConditionID:    gm.ConditionID,
		Question:       gm.Question,
		Category:       gm.Category,
		EndDate:        endDate,
		Score:          universe.Score(gm.Volume, change1h, change24h),
		PriceChange1h:  change1h,
		PriceChange24h: change24h,
		Volume24h:      gm.Volume,
	}
	if err := f.universe.UpsertMarket(ctx, m); err != nil {
		return err
	}

	if gm.Resolved {
		resolution := ""
		if len(gm.Outcomes) > 0 && len(gm.OutcomePrices) == len(gm.Outcomes) {
			resolution = winningOutcome(gm.Outcomes, gm.OutcomePrices)
		}
		return f.universe.MarkResolved(ctx, gm.ConditionID, resolution)
	}
	return nil
}

// pairTokens zips token IDs with outcome labels. Lengths can disagree on
// malformed rows; extra entries on either side are dropped.
func pairTokens(gm types.GammaMarket) []types.OutcomeToken {
	n := len(gm.ClobTokenIDs)
	tokens := make([]types.OutcomeToken, 0, n)
	for i, id := range gm.ClobTokenIDs {
		if id == "" {
			continue
		}
		outcome := ""
		if i < len(gm.Outcomes) {
			outcome = gm.Outcomes[i]
		}
		tokens = append(tokens, types.OutcomeToken{
			TokenID:      id,
			OutcomeIndex: i,
			Outcome:      outcome,
		})
	}
	return tokens
}

// winningOutcome picks the outcome whose final price is highest.
func winningOutcome(outcomes, prices []string) string {
	best := ""
	bestPrice := decimal.Zero
	for i, o := range outcomes {
		p, err := decimal.NewFromString(prices[i])
		if err != nil {
			continue
		}
		if p.GreaterThan(bestPrice) {
			bestPrice = p
			best = o
		}
	}
	return best
}
