// wire.go defines the venue JSON payloads: WebSocket events and REST shapes.
//
// The venue is inconsistent about key casing — metadata rows arrive with
// either snake_case or camelCase keys depending on the endpoint and API
// version, and array-valued fields (outcomes, prices, token IDs) are often
// JSON strings rather than JSON arrays. The decoding helpers here absorb
// both shapes so the rest of the bot only ever sees typed fields.
package types

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// WebSocket events
// ————————————————————————————————————————————————————————————————————————

// WSEvent is the raw market-channel event envelope. The venue multiplexes
// several event types over one shape; which fields are populated depends on
// EventType. An event with only Market set and no AssetID identifies a
// condition, not a token, and must not be treated as a token event.
type WSEvent struct {
	EventType      string       `json:"event_type"`
	AssetID        string       `json:"asset_id"` // token ID
	Market         string       `json:"market"`   // condition ID
	Price          string       `json:"price"`
	LastTradePrice string       `json:"last_trade_price"`
	Size           string       `json:"size"`
	Side           string       `json:"side"`
	Timestamp      string       `json:"timestamp"` // seconds or milliseconds since epoch
	Bids           []PriceLevel `json:"bids"`
	Asks           []PriceLevel `json:"asks"`
	Buys           []PriceLevel `json:"buys"`  // book events use buys/sells
	Sells          []PriceLevel `json:"sells"` //
}

// BestBid returns the best (highest) bid price embedded in a book event,
// or "" when the event carries no bid levels. Book events deliver bids
// sorted best-first under either the bids or buys key.
func (e WSEvent) BestBid() string {
	if len(e.Bids) > 0 {
		return e.Bids[0].Price
	}
	if len(e.Buys) > 0 {
		return e.Buys[0].Price
	}
	return ""
}

// PriceLevel is a single bid or ask level. Price and Size are strings
// because the venue returns them as strings to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSSubscribeMsg is sent on connect (and after every reconnect) to
// subscribe the market channel by token IDs.
type WSSubscribeMsg struct {
	AssetIDs []string `json:"assets_ids"`
}

// ————————————————————————————————————————————————————————————————————————
// REST shapes
// ————————————————————————————————————————————————————————————————————————

// GammaMarket is one market row from the metadata API. Decoded through a
// custom UnmarshalJSON because the API emits snake_case on some endpoints
// and camelCase on others, and encodes outcome/price/token arrays as
// JSON strings.
type GammaMarket struct {
	ConditionID   string
	Question      string
	Category      string
	EndDate       string // RFC3339, may be empty
	Resolved      bool
	Volume        float64
	Liquidity     float64
	Outcomes      []string
	OutcomePrices []string
	ClobTokenIDs  []string
}

// UnmarshalJSON accepts both key spellings for every aliased field.
func (m *GammaMarket) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.ConditionID = pickString(raw, "conditionId", "condition_id")
	m.Question = pickString(raw, "question")
	m.Category = pickString(raw, "category")
	m.EndDate = pickString(raw, "endDate", "end_date_iso")
	m.Resolved = pickBool(raw, "closed", "resolved")
	m.Volume = pickFloat(raw, "volumeNum", "volume")
	m.Liquidity = pickFloat(raw, "liquidityNum", "liquidity")
	m.Outcomes = pickStringArray(raw, "outcomes")
	m.OutcomePrices = pickStringArray(raw, "outcomePrices", "outcome_prices")
	m.ClobTokenIDs = pickStringArray(raw, "clobTokenIds", "clob_token_ids")
	return nil
}

// VenueTrade is one executed trade from the trades endpoint. Timestamps
// arrive as epoch seconds, epoch milliseconds, or RFC3339 depending on the
// endpoint; ParsedTime normalizes all three to UTC.
type VenueTrade struct {
	ConditionID string
	TradeID     string
	AssetID     string
	Price       string
	Size        string
	Side        string
	Timestamp   string
}

// UnmarshalJSON accepts both key spellings.
func (t *VenueTrade) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.ConditionID = pickString(raw, "conditionId", "condition_id", "market")
	t.TradeID = pickString(raw, "id", "trade_id", "transactionHash")
	t.AssetID = pickString(raw, "asset_id", "asset", "assetId")
	t.Price = pickString(raw, "price")
	t.Size = pickString(raw, "size")
	t.Side = pickString(raw, "side")
	t.Timestamp = pickString(raw, "timestamp", "match_time")
	return nil
}

// ParsedTime converts the raw timestamp to UTC. The boolean is false when
// the timestamp is missing or unparseable — callers must drop such rows
// rather than defaulting to "now", which would make stale data look fresh.
func (t VenueTrade) ParsedTime() (time.Time, bool) {
	return ParseFlexibleTime(t.Timestamp)
}

// VenueOrder is the venue's view of one of our orders, returned by the
// order-status endpoint. SizeMatched is cumulative.
type VenueOrder struct {
	OrderID      string `json:"id"`
	Status       string `json:"status"`
	SizeMatched  string `json:"size_matched"`
	AvgFillPrice string `json:"price"`
}

// OrderAck is the venue response to an order submission.
type OrderAck struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// VenuePosition is one row from the venue positions endpoint, used by the
// sync service to reconcile local positions.
type VenuePosition struct {
	ConditionID string
	AssetID     string
	Size        string
	AvgPrice    string
}

// UnmarshalJSON accepts both key spellings.
func (p *VenuePosition) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.ConditionID = pickString(raw, "conditionId", "condition_id", "market")
	p.AssetID = pickString(raw, "asset", "asset_id", "assetId")
	p.Size = pickString(raw, "size")
	p.AvgPrice = pickString(raw, "avgPrice", "avg_price")
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Decoding helpers
// ————————————————————————————————————————————————————————————————————————

// ParseFlexibleTime accepts epoch seconds, epoch milliseconds, or RFC3339
// and returns the instant in UTC. Values above ~10^12 are treated as
// milliseconds (epoch seconds stay below that until the year 33658).
func ParseFlexibleTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n <= 0 {
			return time.Time{}, false
		}
		if n > 1e12 {
			n /= 1000 // milliseconds
		}
		sec := int64(n)
		nsec := int64((n - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), true
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}

func pickString(raw map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		// Some endpoints return numbers where others return strings.
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	return ""
}

func pickBool(raw map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			var b bool
			if err := json.Unmarshal(v, &b); err == nil {
				return b
			}
		}
	}
	return false
}

func pickFloat(raw map[string]json.RawMessage, keys ...string) float64 {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			return f
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

// pickStringArray handles both a real JSON array and the venue's
// JSON-string-encoded array, e.g. "[\"Yes\",\"No\"]".
func pickStringArray(raw map[string]json.RawMessage, keys ...string) []string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var arr []string
		if err := json.Unmarshal(v, &arr); err == nil {
			return arr
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			if err := json.Unmarshal([]byte(s), &arr); err == nil {
				return arr
			}
		}
	}
	return nil
}
