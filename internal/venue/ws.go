// ws.go implements the market-data WebSocket feed.
//
// One long-lived connection subscribes by token ID and receives book
// snapshots, price changes, and last-trade-price events. The subscription
// set is retained across reconnects and re-sent on every connect. Incoming
// frames may be a single event object or a JSON array of events; an empty
// array is the venue's subscription acknowledgment.
//
// The feed auto-reconnects with exponential backoff (1s doubling, capped at
// the configured maximum) and counts reconnect attempts. A read deadline of
// the configured heartbeat timeout detects silent server failures.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

const (
	pingInterval = 50 * time.Second
	writeTimeout = 10 * time.Second
)

// MarketFeed manages the market-channel WebSocket connection: lifecycle,
// subscription tracking, frame parsing, and reconnection.
type MarketFeed struct {
	url              string
	heartbeatTimeout time.Duration
	maxReconnectWait time.Duration

	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // token IDs

	events     chan types.WSEvent
	reconnects atomic.Int64
	dropped    atomic.Int64

	logger *slog.Logger
}

// NewMarketFeed creates the feed. Events are delivered on a bounded queue;
// when the consumer falls behind, the oldest queued events are dropped and
// counted (the event stream is advisory — storage is the source of truth).
func NewMarketFeed(cfg *config.Config, logger *slog.Logger) *MarketFeed {
	heartbeat := cfg.API.HeartbeatTimeout
	if heartbeat <= 0 {
		heartbeat = 90 * time.Second
	}
	maxWait := cfg.API.MaxReconnectDelay
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	queueSize := cfg.Ingest.EventQueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	return &MarketFeed{
		url:              cfg.API.WSMarketURL,
		heartbeatTimeout: heartbeat,
		maxReconnectWait: maxWait,
		subscribed:       make(map[string]bool),
		events:           make(chan types.WSEvent, queueSize),
		logger:           logger.With("component", "ws_market"),
	}
}

// Events returns the read-only event stream.
func (f *MarketFeed) Events() <-chan types.WSEvent { return f.events }

// Reconnects returns how many reconnect attempts have been made.
func (f *MarketFeed) Reconnects() int64 { return f.reconnects.Load() }

// Dropped returns how many events were discarded due to back-pressure.
func (f *MarketFeed) Dropped() int64 { return f.dropped.Load() }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *MarketFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.reconnects.Add(1)
		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
			"reconnects", f.reconnects.Load(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > f.maxReconnectWait {
			backoff = f.maxReconnectWait
		}
	}
}

// Subscribe adds token IDs to the subscription set and, when connected,
// sends the subscribe message. The set survives reconnects.
func (f *MarketFeed) Subscribe(tokenIDs []string) error {
	f.subscribedMu.Lock()
	for _, id := range tokenIDs {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	err := f.writeJSON(types.WSSubscribeMsg{AssetIDs: tokenIDs})
	if err != nil && err == errNotConnected {
		// Connection will pick the set up on (re)connect.
		return nil
	}
	return err
}

// Unsubscribe removes token IDs from the subscription set.
func (f *MarketFeed) Unsubscribe(tokenIDs []string) {
	f.subscribedMu.Lock()
	for _, id := range tokenIDs {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()
}

// Close tears down the connection.
func (f *MarketFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *MarketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendSubscriptionSet(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "subscribed", f.subscriptionCount())

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Heartbeat timeout: a silent server trips the deadline and we
		// reconnect.
		conn.SetReadDeadline(time.Now().Add(f.heartbeatTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		events, ack := ParseFrame(msg)
		if ack {
			f.logger.Debug("subscription acknowledged")
			continue
		}
		for _, evt := range events {
			f.deliver(evt)
		}
	}
}

// ParseFrame decodes one WebSocket frame. Frames carry either a single
// event object or a JSON array of events; an empty array is a subscription
// acknowledgment (ack=true, no events). Undecodable frames yield nothing.
func ParseFrame(data []byte) (events []types.WSEvent, ack bool) {
	trimmed := firstNonSpace(data)
	if trimmed == '[' {
		var arr []types.WSEvent
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, false
		}
		if len(arr) == 0 {
			return nil, true
		}
		return arr, false
	}

	var evt types.WSEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, false
	}
	return []types.WSEvent{evt}, false
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

// deliver enqueues an event, evicting the oldest queued event when full.
func (f *MarketFeed) deliver(evt types.WSEvent) {
	for {
		select {
		case f.events <- evt:
			return
		default:
		}
		select {
		case <-f.events:
			f.dropped.Add(1)
		default:
		}
	}
}

func (f *MarketFeed) sendSubscriptionSet() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	return f.writeJSON(types.WSSubscribeMsg{AssetIDs: ids})
}

func (f *MarketFeed) subscriptionCount() int {
	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	return len(f.subscribed)
}

func (f *MarketFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

var errNotConnected = fmt.Errorf("websocket not connected")

func (f *MarketFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return errNotConnected
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *MarketFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return errNotConnected
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
