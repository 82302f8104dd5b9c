// Package pipeline converts raw market events into strategy decisions: it
// normalizes and filters events, enforces at-most-once first-trigger
// semantics per (token, condition, threshold), and runs the watchlist of
// borderline-scoring triggers.
package pipeline

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/storage"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// CandidateSink receives triggers that scored at or above the execution
// threshold. The execution service implements it.
type CandidateSink interface {
	OnCandidate(ctx context.Context, c types.Candidate, sc types.StrategyContext)
}

// TriggerCandidate is the normalized form of one event before threshold
// evaluation.
type TriggerCandidate struct {
	TokenID         string
	ConditionID     string
	Price           decimal.Decimal
	Size            decimal.Decimal
	Timestamp       time.Time
	TradeAgeSeconds float64
}

// processedEventTypes are the WebSocket event types that can carry a price.
var processedEventTypes = map[string]bool{
	"price_change":     true,
	"trade":            true,
	"price_update":     true,
	"book":             true,
	"last_trade_price": true,
}

// weatherPattern matches weather markets on whole words only. Substring
// matching would block "Rainbow Six" or "snowboard".
var weatherPattern = regexp.MustCompile(`(?i)\b(rain|snow|storm|weather|temperature|hurricane|tornado|blizzard|typhoon|flood|heatwave|drought)\b`)

// Processor turns events into recorded triggers and candidate decisions.
type Processor struct {
	thresholds         []float64
	minTimeToEndHours  float64
	executionThreshold float64
	watchlistMin       float64

	universe  *storage.UniverseRepo
	tracker   *Tracker
	candidate *storage.CandidateRepo
	marks     *storage.WatermarkRepo
	watchlist *Watchlist
	sink      CandidateSink
	logger    *slog.Logger
}

// NewProcessor wires the processor.
func NewProcessor(cfg *config.Config, universeRepo *storage.UniverseRepo, tracker *Tracker, candidates *storage.CandidateRepo, marks *storage.WatermarkRepo, watchlist *Watchlist, sink CandidateSink, logger *slog.Logger) *Processor {
	return &Processor{
		thresholds:         cfg.Pipeline.Thresholds,
		minTimeToEndHours:  cfg.Pipeline.MinTimeToEndHours,
		executionThreshold: cfg.Pipeline.ExecutionThreshold,
		watchlistMin:       cfg.Pipeline.WatchlistMin,
		universe:           universeRepo,
		tracker:            tracker,
		candidate:          candidates,
		marks:              marks,
		watchlist:          watchlist,
		sink:               sink,
		logger:             logger.With("component", "processor"),
	}
}

// ShouldProcess reports whether the event type can carry a usable price.
// Heartbeats, acks, and unknown types are ignored.
func ShouldProcess(eventType string) bool {
	return processedEventTypes[eventType]
}

// ExtractTrigger normalizes a WebSocket event into a trigger candidate.
// Returns false when the event has no token identity, no usable price, or
// no valid timestamp. An event with only a market (condition) and no
// asset_id identifies a condition, not a token, and is skipped. Events
// without a valid timestamp are dropped so stale data can never masquerade
// as fresh.
func ExtractTrigger(evt types.WSEvent, now time.Time) (TriggerCandidate, bool) {
	if evt.AssetID == "" {
		return TriggerCandidate{}, false
	}

	priceStr := evt.Price
	if priceStr == "" {
		priceStr = evt.LastTradePrice
	}
	if priceStr == "" {
		priceStr = evt.BestBid()
	}
	if priceStr == "" {
		return TriggerCandidate{}, false
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil || price.IsNegative() || price.GreaterThan(decimal.NewFromInt(1)) {
		return TriggerCandidate{}, false
	}

	ts, ok := types.ParseFlexibleTime(evt.Timestamp)
	if !ok {
		return TriggerCandidate{}, false
	}

	size := decimal.Zero
	if evt.Size != "" {
		if s, err := decimal.NewFromString(evt.Size); err == nil && !s.IsNegative() {
			size = s
		}
	}

	return TriggerCandidate{
		TokenID:         evt.AssetID,
		ConditionID:     evt.Market,
		Price:           price,
		Size:            size,
		Timestamp:       ts,
		TradeAgeSeconds: now.Sub(ts).Seconds(),
	}, true
}

// MeetsThreshold reports whether the price crossed: price ≥ threshold,
// inclusive.
func MeetsThreshold(price decimal.Decimal, threshold float64) bool {
	return price.GreaterThanOrEqual(decimal.NewFromFloat(threshold))
}

// BuildContext enriches a trigger candidate with market metadata. Unknown
// markets yield safe defaults: empty strings and a nil expiry.
func (p *Processor) BuildContext(ctx context.Context, tc TriggerCandidate) types.StrategyContext {
	sc := types.StrategyContext{
		TokenID:         tc.TokenID,
		ConditionID:     tc.ConditionID,
		Price:           tc.Price,
		Size:            tc.Size,
		TradeAgeSeconds: tc.TradeAgeSeconds,
	}

	if sc.ConditionID == "" {
		// Trade polls carry the condition; WS events may not. Token
		// metadata fills the gap.
		conditionID, _, ok, err := p.universe.TokenMeta(ctx, tc.TokenID)
		if err == nil && ok {
			sc.ConditionID = conditionID
		}
	}
	if _, outcome, ok, err := p.universe.TokenMeta(ctx, tc.TokenID); err == nil && ok {
		sc.Outcome = outcome
	}

	if sc.ConditionID != "" {
		m, found, err := p.universe.GetMarket(ctx, sc.ConditionID)
		if err == nil && found {
			sc.Question = m.Question
			sc.Category = m.Category
			sc.EndDate = m.EndDate
			if m.EndDate != nil {
				sc.TimeToEndHours = time.Until(*m.EndDate).Hours()
			}
		}
	}
	return sc
}

// ApplyFilters runs the hard filters. Returns the reason the context was
// rejected, or "" when it passes.
func (p *Processor) ApplyFilters(sc types.StrategyContext) string {
	if weatherPattern.MatchString(sc.Question) || weatherPattern.MatchString(sc.Category) {
		return "weather market"
	}
	// Unknown expiry passes; a known expiry inside the minimum window does
	// not leave enough time to trade out.
	if sc.EndDate != nil && sc.TimeToEndHours < p.minTimeToEndHours {
		return "market ending too soon"
	}
	return ""
}

// ProcessEvent runs the full path for one WebSocket event.
func (p *Processor) ProcessEvent(ctx context.Context, evt types.WSEvent) {
	if !ShouldProcess(evt.EventType) {
		return
	}
	tc, ok := ExtractTrigger(evt, time.Now().UTC())
	if !ok {
		return
	}
	p.process(ctx, tc)
}

// OnTrade runs the path for one freshly ingested REST trade. Implements
// ingest.TradeSink.
func (p *Processor) OnTrade(ctx context.Context, t types.Trade) {
	p.process(ctx, TriggerCandidate{
		TokenID:         t.TokenID,
		ConditionID:     t.ConditionID,
		Price:           t.Price,
		Size:            t.Size,
		Timestamp:       t.Timestamp,
		TradeAgeSeconds: time.Since(t.Timestamp).Seconds(),
	})
}

func (p *Processor) process(ctx context.Context, tc TriggerCandidate) {
	for _, threshold := range p.thresholds {
		if !MeetsThreshold(tc.Price, threshold) {
			continue
		}

		sc := p.BuildContext(ctx, tc)
		if sc.ConditionID == "" {
			p.logger.Debug("no condition for token, skipping", "token", tc.TokenID)
			return
		}
		if reason := p.ApplyFilters(sc); reason != "" {
			p.logger.Debug("filtered", "token", tc.TokenID, "reason", reason)
			return
		}

		score := WatchScore(priceFloat(tc.Price), sc.TimeToEndHours)

		first, err := p.tracker.Record(ctx, types.Trigger{
			TokenID:     tc.TokenID,
			ConditionID: sc.ConditionID,
			Threshold:   threshold,
			Price:       tc.Price,
			Size:        tc.Size,
			Score:       score,
			Outcome:     sc.Outcome,
			TriggeredAt: tc.Timestamp,
		})
		if err != nil {
			p.logger.Error("trigger record failed", "token", tc.TokenID, "threshold", threshold, "error", err)
			continue
		}
		if !first {
			continue
		}

		if err := p.universe.TouchSignal(ctx, sc.ConditionID); err != nil {
			p.logger.Debug("touch signal failed", "condition", sc.ConditionID, "error", err)
		}

		p.route(ctx, tc, sc, threshold, score)
	}
}

// route sends a first-trigger either to the candidate queue (score at or
// above the execution threshold) or to the watchlist for periodic
// re-scoring.
func (p *Processor) route(ctx context.Context, tc TriggerCandidate, sc types.StrategyContext, threshold, score float64) {
	if score >= p.executionThreshold {
		cand := types.Candidate{
			TokenID:     tc.TokenID,
			ConditionID: sc.ConditionID,
			Threshold:   threshold,
			Price:       tc.Price,
			Score:       score,
		}
		if err := p.candidate.Enqueue(ctx, cand); err != nil {
			p.logger.Error("candidate enqueue failed", "token", tc.TokenID, "error", err)
			return
		}
		if err := p.marks.Update(ctx, storage.StreamCandidates, formatThreshold(threshold), tc.Timestamp.UnixMilli()); err != nil {
			p.logger.Debug("candidate watermark update failed", "error", err)
		}
		p.logger.Info("candidate enqueued",
			"token", tc.TokenID, "condition", sc.ConditionID,
			"threshold", threshold, "score", score)
		if p.sink != nil {
			p.sink.OnCandidate(ctx, cand, sc)
		}
		return
	}

	if score >= p.watchlistMin {
		entry := types.WatchEntry{
			TokenID:        tc.TokenID,
			ConditionID:    sc.ConditionID,
			Question:       sc.Question,
			TriggerPrice:   tc.Price,
			InitialScore:   score,
			TimeToEndHours: sc.TimeToEndHours,
		}
		if err := p.watchlist.Add(ctx, entry); err != nil {
			p.logger.Error("watchlist add failed", "token", tc.TokenID, "error", err)
			return
		}
		p.logger.Info("added to watchlist",
			"token", tc.TokenID, "condition", sc.ConditionID, "score", score)
	}
}

// WatchScore scores a triggered token from its price and the hours left
// until market close. Monotone-increasing as time-to-end shrinks, capped at
// 1.0: the closer to expiry a high-probability token gets, the more likely
// the probability is real.
func WatchScore(price, timeToEndHours float64) float64 {
	if timeToEndHours < 0 {
		timeToEndHours = 0
	}
	urgency := 24.0 / (24.0 + timeToEndHours)
	return math.Min(price*(1+0.08*urgency), 1.0)
}

func priceFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func formatThreshold(t float64) string {
	return decimal.NewFromFloat(t).String()
}
