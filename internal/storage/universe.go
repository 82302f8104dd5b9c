package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// UniverseRepo maintains the full set of known markets with their tier,
// interestingness score and price-movement aggregates, plus the token
// metadata and price snapshots that feed scoring.
type UniverseRepo struct {
	pool *Pool
}

// NewUniverseRepo creates the repository.
func NewUniverseRepo(pool *Pool) *UniverseRepo {
	return &UniverseRepo{pool: pool}
}

// UpsertMarket writes market metadata, preserving tier state on conflict.
func (r *UniverseRepo) UpsertMarket(ctx context.Context, m types.MarketUniverse) error {
	_, err := r.pool.Execute(ctx, `
		INSERT INTO market_universe (condition_id, question, category, end_date, score,
		                             price_change_1h, price_change_24h, volume_24h)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (condition_id) DO UPDATE SET
			question = EXCLUDED.question,
			category = EXCLUDED.category,
			end_date = EXCLUDED.end_date,
			score = EXCLUDED.score,
			price_change_1h = EXCLUDED.price_change_1h,
			price_change_24h = EXCLUDED.price_change_24h,
			volume_24h = EXCLUDED.volume_24h,
			updated_at = now()`,
		m.ConditionID, m.Question, m.Category, utcPtr(m.EndDate), m.Score,
		m.PriceChange1h, m.PriceChange24h, m.Volume24h)
	return err
}

// MarkResolved records a market resolution.
func (r *UniverseRepo) MarkResolved(ctx context.Context, conditionID, resolution string) error {
	_, err := r.pool.Execute(ctx, `
		UPDATE market_universe
		SET resolved = TRUE, resolution = $2, updated_at = now()
		WHERE condition_id = $1`,
		conditionID, resolution)
	return err
}

// IsResolved reports whether a market has resolved.
func (r *UniverseRepo) IsResolved(ctx context.Context, conditionID string) (bool, error) {
	var resolved bool
	err := r.pool.FetchValue(ctx, &resolved,
		`SELECT resolved FROM market_universe WHERE condition_id = $1`, conditionID)
	if isNoRows(err) {
		return false, nil
	}
	return resolved, err
}

// GetMarket returns the universe record for one condition.
func (r *UniverseRepo) GetMarket(ctx context.Context, conditionID string) (types.MarketUniverse, bool, error) {
	all, err := r.listMarkets(ctx, `WHERE condition_id = $1`, conditionID)
	if err != nil {
		return types.MarketUniverse{}, false, err
	}
	if len(all) == 0 {
		return types.MarketUniverse{}, false, nil
	}
	return all[0], true, nil
}

// ByTier lists markets at the given tier ordered by descending score.
func (r *UniverseRepo) ByTier(ctx context.Context, tier int) ([]types.MarketUniverse, error) {
	return r.listMarkets(ctx, `WHERE tier = $1 ORDER BY score DESC`, tier)
}

// CountTier returns the number of markets at the given tier.
func (r *UniverseRepo) CountTier(ctx context.Context, tier int) (int, error) {
	var n int
	err := r.pool.FetchValue(ctx, &n, `SELECT count(*) FROM market_universe WHERE tier = $1`, tier)
	return n, err
}

// SetTier moves a market to a tier and resets its below-threshold clock.
func (r *UniverseRepo) SetTier(ctx context.Context, conditionID string, tier int) error {
	_, err := r.pool.Execute(ctx, `
		UPDATE market_universe
		SET tier = $2, below_threshold_since = NULL, updated_at = now()
		WHERE condition_id = $1`,
		conditionID, tier)
	return err
}

// TouchSignal records strategy activity for a market; the tier manager
// keeps active markets in tier 3.
func (r *UniverseRepo) TouchSignal(ctx context.Context, conditionID string) error {
	_, err := r.pool.Execute(ctx, `
		UPDATE market_universe SET last_signal_at = now(), updated_at = now()
		WHERE condition_id = $1`, conditionID)
	return err
}

// MarkBelowThreshold starts the low-score clock if not already running.
func (r *UniverseRepo) MarkBelowThreshold(ctx context.Context, conditionID string) error {
	_, err := r.pool.Execute(ctx, `
		UPDATE market_universe
		SET below_threshold_since = COALESCE(below_threshold_since, now()), updated_at = now()
		WHERE condition_id = $1`, conditionID)
	return err
}

// ClearBelowThreshold stops the low-score clock.
func (r *UniverseRepo) ClearBelowThreshold(ctx context.Context, conditionID string) error {
	_, err := r.pool.Execute(ctx, `
		UPDATE market_universe SET below_threshold_since = NULL, updated_at = now()
		WHERE condition_id = $1`, conditionID)
	return err
}

// TopByVolume returns the condition IDs of the N highest-volume markets,
// used by the price-only sync.
func (r *UniverseRepo) TopByVolume(ctx context.Context, n int) ([]string, error) {
	rows, err := r.pool.Fetch(ctx, `
		SELECT condition_id FROM market_universe
		WHERE NOT resolved
		ORDER BY volume_24h DESC
		LIMIT $1`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertTokens writes outcome-token metadata for a condition.
func (r *UniverseRepo) UpsertTokens(ctx context.Context, conditionID string, tokens []types.OutcomeToken) error {
	for _, t := range tokens {
		_, err := r.pool.Execute(ctx, `
			INSERT INTO token_metadata (token_id, condition_id, outcome_index, outcome)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (token_id) DO UPDATE SET
				outcome_index = EXCLUDED.outcome_index,
				outcome = EXCLUDED.outcome`,
			t.TokenID, conditionID, t.OutcomeIndex, t.Outcome)
		if err != nil {
			return err
		}
	}
	return nil
}

// TokensFor lists the outcome tokens of a condition in outcome order.
func (r *UniverseRepo) TokensFor(ctx context.Context, conditionID string) ([]types.OutcomeToken, error) {
	rows, err := r.pool.Fetch(ctx, `
		SELECT token_id, outcome_index, outcome
		FROM token_metadata
		WHERE condition_id = $1
		ORDER BY outcome_index`, conditionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.OutcomeToken
	for rows.Next() {
		var t types.OutcomeToken
		if err := rows.Scan(&t.TokenID, &t.OutcomeIndex, &t.Outcome); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TokenMeta returns the condition and outcome label for a token.
func (r *UniverseRepo) TokenMeta(ctx context.Context, tokenID string) (conditionID, outcome string, ok bool, err error) {
	err = r.pool.FetchOne(ctx, []any{&conditionID, &outcome},
		`SELECT condition_id, outcome FROM token_metadata WHERE token_id = $1`, tokenID)
	if err != nil {
		if isNoRows(err) {
			return "", "", false, nil
		}
		return "", "", false, err
	}
	return conditionID, outcome, true, nil
}

// AddPriceSnapshot appends one price observation.
func (r *UniverseRepo) AddPriceSnapshot(ctx context.Context, s types.PriceSnapshot) error {
	_, err := r.pool.Execute(ctx, `
		INSERT INTO price_snapshots (condition_id, token_id, price, taken_at)
		VALUES ($1, $2, $3, $4)`,
		s.ConditionID, s.TokenID, s.Price, s.TakenAt.UTC())
	return err
}

// LatestPrice returns the most recent snapshot price for a token, or false
// when no snapshot exists yet.
func (r *UniverseRepo) LatestPrice(ctx context.Context, tokenID string) (decimal.Decimal, bool, error) {
	var price decimal.Decimal
	err := r.pool.FetchValue(ctx, &price, `
		SELECT price FROM price_snapshots
		WHERE token_id = $1
		ORDER BY taken_at DESC
		LIMIT 1`, tokenID)
	if err != nil {
		if isNoRows(err) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	return price, true, nil
}

// PriceChangeSince returns the relative price change for a token over the
// given lookback window, computed from the snapshot closest to the window
// start. Returns 0 when no old snapshot exists. Interval is parameterized.
func (r *UniverseRepo) PriceChangeSince(ctx context.Context, tokenID string, lookback time.Duration) (float64, error) {
	var change float64
	err := r.pool.FetchValue(ctx, &change, `
		WITH oldest AS (
			SELECT price FROM price_snapshots
			WHERE token_id = $1 AND taken_at <= now() - $2::interval
			ORDER BY taken_at DESC LIMIT 1
		), newest AS (
			SELECT price FROM price_snapshots
			WHERE token_id = $1
			ORDER BY taken_at DESC LIMIT 1
		)
		SELECT COALESCE(
			(SELECT (newest.price - oldest.price) / NULLIF(oldest.price, 0)
			 FROM oldest, newest)::double precision, 0)`,
		tokenID, lookback)
	if isNoRows(err) {
		return 0, nil
	}
	return change, err
}

// ——— tier requests ———

// AddTierRequest enqueues a strategy promotion request.
func (r *UniverseRepo) AddTierRequest(ctx context.Context, req types.TierRequest) error {
	_, err := r.pool.Execute(ctx, `
		INSERT INTO tier_requests (condition_id, requested_tier, requested_by, expires_at)
		VALUES ($1, $2, $3, $4)`,
		req.ConditionID, req.RequestedTier, req.RequestedBy, req.ExpiresAt.UTC())
	return err
}

// PendingTierRequests lists unexpired requests, highest tier first.
func (r *UniverseRepo) PendingTierRequests(ctx context.Context) ([]types.TierRequest, error) {
	rows, err := r.pool.Fetch(ctx, `
		SELECT id, condition_id, requested_tier, requested_by, expires_at, created_at
		FROM tier_requests
		WHERE expires_at > now()
		ORDER BY requested_tier DESC, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.TierRequest
	for rows.Next() {
		var t types.TierRequest
		if err := rows.Scan(&t.ID, &t.ConditionID, &t.RequestedTier, &t.RequestedBy, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.ExpiresAt = t.ExpiresAt.UTC()
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTierRequest removes a processed request.
func (r *UniverseRepo) DeleteTierRequest(ctx context.Context, id int64) error {
	_, err := r.pool.Execute(ctx, `DELETE FROM tier_requests WHERE id = $1`, id)
	return err
}

// PurgeExpiredTierRequests removes expired requests.
func (r *UniverseRepo) PurgeExpiredTierRequests(ctx context.Context) (int64, error) {
	return r.pool.Execute(ctx, `DELETE FROM tier_requests WHERE expires_at <= now()`)
}

func (r *UniverseRepo) listMarkets(ctx context.Context, tail string, args ...any) ([]types.MarketUniverse, error) {
	rows, err := r.pool.Fetch(ctx, `
		SELECT condition_id, question, category, end_date, tier, score, pinned_tier,
		       last_signal_at, below_threshold_since, price_change_1h, price_change_24h, volume_24h
		FROM market_universe `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.MarketUniverse
	for rows.Next() {
		var m types.MarketUniverse
		var endDate, lastSignal, belowSince *time.Time
		if err := rows.Scan(&m.ConditionID, &m.Question, &m.Category, &endDate, &m.Tier, &m.Score, &m.PinnedTier,
			&lastSignal, &belowSince, &m.PriceChange1h, &m.PriceChange24h, &m.Volume24h); err != nil {
			return nil, err
		}
		m.EndDate = utcPtr(endDate)
		m.LastSignalAt = utcPtr(lastSignal)
		m.BelowThresholdSince = utcPtr(belowSince)
		out = append(out, m)
	}
	return out, rows.Err()
}
