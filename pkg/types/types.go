// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — trades, triggers,
// orders, positions, exit events, market universe records, and the venue
// WebSocket/REST payloads. It has no dependencies on internal packages,
// so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order or trade: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderStatus is the lifecycle state of an order. PENDING rows exist only
// between local persistence and the venue acknowledgment; FILLED, CANCELLED
// and REJECTED are terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderLive      OrderStatus = "LIVE"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// OrderMode discriminates paper rows from live rows in the orders table.
type OrderMode string

const (
	ModePaper OrderMode = "paper"
	ModeLive  OrderMode = "live"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen     PositionStatus = "open"
	PositionClosed   PositionStatus = "closed"
	PositionResolved PositionStatus = "resolved"
)

// ExitType records why a position was closed.
type ExitType string

const (
	ExitProfitTarget ExitType = "profit_target"
	ExitStopLoss     ExitType = "stop_loss"
	ExitTime         ExitType = "time_exit"
	ExitResolution   ExitType = "resolution"
	ExitManual       ExitType = "manual"
)

// CandidateStatus tracks a trigger through strategy evaluation.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateApproved CandidateStatus = "approved"
	CandidateRejected CandidateStatus = "rejected"
	CandidateExecuted CandidateStatus = "executed"
)

// WatchStatus is the watchlist state machine: watching → promoted | expired.
type WatchStatus string

const (
	WatchWatching WatchStatus = "watching"
	WatchPromoted WatchStatus = "promoted"
	WatchExpired  WatchStatus = "expired"
)

// ApprovalStatus is the state of a human-in-the-loop token approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalExecuted ApprovalStatus = "executed"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ————————————————————————————————————————————————————————————————————————
// Markets and trades
// ————————————————————————————————————————————————————————————————————————

// Market is a prediction-market condition: the question being traded.
// One condition has one or more outcome tokens whose prices sum to ~1.
type Market struct {
	ConditionID string
	Question    string
	Category    string
	EndDate     *time.Time // nil when the venue reports no end date
	Resolved    bool
	Resolution  string // winning outcome label, empty until resolved
	Tokens      []OutcomeToken
}

// OutcomeToken is one tradeable side of a condition.
type OutcomeToken struct {
	TokenID      string
	OutcomeIndex int
	Outcome      string // human label, e.g. "Yes"
}

// Trade is an executed venue trade. Identity is (condition_id, trade_id);
// rows are immutable once inserted.
type Trade struct {
	ConditionID string
	TradeID     string
	TokenID     string
	Price       decimal.Decimal // in [0, 1]
	Size        decimal.Decimal
	Side        Side
	Timestamp   time.Time // millisecond precision, UTC
}

// ————————————————————————————————————————————————————————————————————————
// Triggers and candidates
// ————————————————————————————————————————————————————————————————————————

// Trigger records the first time (token, condition, threshold) crossed the
// threshold. At most one row exists per (condition_id, threshold) regardless
// of which token crossed first. Immutable.
type Trigger struct {
	TokenID     string
	ConditionID string
	Threshold   float64
	Price       decimal.Decimal
	Size        decimal.Decimal
	Score       float64
	Outcome     string
	TriggeredAt time.Time
}

// Candidate is a trigger under strategy evaluation.
type Candidate struct {
	TokenID     string
	ConditionID string
	Threshold   float64
	Price       decimal.Decimal
	Score       float64
	Status      CandidateStatus
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

// StrategyContext is the enriched view of a trigger handed to the strategy.
// Metadata fields default to safe zero values when the market is unknown.
type StrategyContext struct {
	TokenID         string
	ConditionID     string
	Price           decimal.Decimal
	Size            decimal.Decimal
	TradeAgeSeconds float64
	Question        string
	Category        string
	Outcome         string
	TimeToEndHours  float64
	EndDate         *time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Orders, fills, positions, exits
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is what the pipeline asks the order manager to submit.
type OrderRequest struct {
	TokenID     string
	ConditionID string
	Side        Side
	Price       decimal.Decimal
	Size        decimal.Decimal
}

// Order is a persisted order row. Mutated only by the order manager,
// through reconciliation or explicit cancel.
type Order struct {
	OrderID      string // venue-assigned
	TokenID      string
	ConditionID  string
	Side         Side
	Price        decimal.Decimal
	Size         decimal.Decimal // intended size
	FilledSize   decimal.Decimal // cumulative, venue-reported
	AvgFillPrice decimal.Decimal
	Status       OrderStatus
	Mode         OrderMode
	Reason       string // venue rejection reason, if any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RemainingSize is the unfilled remainder of the order.
func (o Order) RemainingSize() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// Fill is an incremental execution against one of our orders. Emitted by the
// order manager during reconciliation and consumed by the position tracker.
type Fill struct {
	OrderID     string
	TokenID     string
	ConditionID string
	Side        Side
	Price       decimal.Decimal // venue-reported average fill price
	Size        decimal.Decimal // incremental, not cumulative
	Timestamp   time.Time
}

// Position aggregates fills for one token. Opened by buy fills, closed by
// sell fills or market resolution.
type Position struct {
	PositionID    string // uuid
	TokenID       string
	ConditionID   string
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal // size-weighted average
	EntryCost     decimal.Decimal
	EntryTime     time.Time
	HoldStartAt   time.Time
	RealizedPnL   decimal.Decimal
	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Status        PositionStatus
	Imported      bool // true when adopted from the venue rather than opened here
	ExitOrderID   string
	ExitTimestamp *time.Time
}

// ExitEvent is the audit record of a close.
type ExitEvent struct {
	ID         string // uuid
	PositionID string
	ExitType   ExitType
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Size       decimal.Decimal
	GrossPnL   decimal.Decimal
	NetPnL     decimal.Decimal
	HoursHeld  float64
	Status     string // "pending" until an exit order ID is attached, then "executed"
	CreatedAt  time.Time
}

// ExitSignal tells the execution service to close a position.
type ExitSignal struct {
	Position Position
	ExitType ExitType
	// Price to sell at: best available ask, or the resolution value for
	// resolution exits.
	Price decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Universe, tiers, watchlist, approvals
// ————————————————————————————————————————————————————————————————————————

// MarketUniverse is the per-market scoring record the tier manager maintains.
// Tier 1 = metadata only, 2 = candles, 3 = full order book.
type MarketUniverse struct {
	ConditionID         string
	Question            string
	Category            string
	EndDate             *time.Time
	Tier                int
	Score               float64 // interestingness
	PinnedTier          int     // 0 = not pinned; markets cannot be demoted below this
	LastSignalAt        *time.Time
	BelowThresholdSince *time.Time
	PriceChange1h       float64
	PriceChange24h      float64
	Volume24h           float64
}

// TierRequest is a strategy-issued request to promote a market.
type TierRequest struct {
	ID            int64
	ConditionID   string
	RequestedTier int
	RequestedBy   string
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// WatchEntry is one token on the watchlist, re-scored periodically.
type WatchEntry struct {
	TokenID        string
	ConditionID    string
	Question       string
	TriggerPrice   decimal.Decimal
	InitialScore   float64
	CurrentScore   float64
	TimeToEndHours float64
	Status         WatchStatus
	AddedAt        time.Time
	UpdatedAt      time.Time
}

// Promotion is emitted by the watchlist when an entry crosses the
// execution threshold.
type Promotion struct {
	TokenID     string
	ConditionID string
	Score       float64
}

// Approval is an optional human-in-the-loop authorization for a token.
type Approval struct {
	TokenID   string
	MaxPrice  decimal.Decimal
	ExpiresAt time.Time
	Status    ApprovalStatus
}

// PriceSnapshot is a periodic price observation used for 1h/24h change math.
type PriceSnapshot struct {
	ConditionID string
	TokenID     string
	Price       decimal.Decimal
	TakenAt     time.Time
}

// SyncRun is an audit row for one iteration of the sync service.
type SyncRun struct {
	ID         string // uuid
	Kind       string // "full" or "prices"
	Status     string // running | success | failed | skipped
	StartedAt  time.Time
	FinishedAt *time.Time
	DurationMS int64
	Markets    int
	Trades     int
	Error      string
}
