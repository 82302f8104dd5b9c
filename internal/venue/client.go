// Package venue implements the prediction-market venue clients: the CLOB
// REST API for trading, the Gamma metadata API for market discovery, and
// the market-data WebSocket feed.
//
// Every REST request is rate-limited through per-category token buckets,
// retried on 5xx, and authenticated with L2 HMAC headers where the endpoint
// requires it. HTTP 429 responses honor the venue-advertised Retry-After
// delay and retry once; rate limiting is pacing, not an error.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// Client is the venue CLOB REST API client.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg *config.Config, auth *Auth, logger *slog.Logger) *Client {
	timeout := cfg.API.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "venue"),
	}
}

// orderPayload is the wire shape for order submission.
type orderPayload struct {
	Order     signedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

type signedOrder struct {
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
}

// buildOrderPayload converts an OrderRequest into the wire shape. Maker is
// the funder wallet (proxy), signer is the EOA, taker is the zero address
// (open order, anyone can fill).
func (c *Client) buildOrderPayload(req types.OrderRequest) orderPayload {
	makerAmt, takerAmt := AmountsFor(req.Price, req.Size, req.Side)

	return orderPayload{
		Order: signedOrder{
			Maker:         c.auth.FunderAddress().Hex(),
			Signer:        c.auth.Address().Hex(),
			Taker:         "0x0000000000000000000000000000000000000000",
			TokenID:       req.TokenID,
			MakerAmount:   makerAmt,
			TakerAmount:   takerAmt,
			Side:          string(req.Side),
			Expiration:    "0",
			Nonce:         "0",
			FeeRateBps:    "0",
			SignatureType: c.auth.sigType,
		},
		Owner:     c.auth.creds.ApiKey,
		OrderType: "GTC",
	}
}

// SubmitOrder places one order. In dry-run mode it returns a synthetic
// acknowledgment without touching the venue.
func (c *Client) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit order",
			"token", req.TokenID, "side", req.Side, "price", req.Price, "size", req.Size)
		return types.OrderAck{
			Success: true,
			OrderID: fmt.Sprintf("dry-run-%d", time.Now().UnixNano()),
			Status:  "live",
		}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}

	payload := c.buildOrderPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("l2 headers: %w", err)
	}

	var ack types.OrderAck
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(json.RawMessage(body)).
			SetResult(&ack).
			Post("/order")
	})
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("submit order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderAck{}, fmt.Errorf("submit order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return ack, nil
}

// CancelOrder cancels one order. Idempotent: a venue "not found" or
// "already canceled" response counts as success.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := fmt.Sprintf(`{"orderID":%q}`, orderID)
	headers, err := c.auth.L2Headers("DELETE", "/order", body)
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(json.RawMessage(body)).
			Delete("/order")
	})
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() == http.StatusOK || alreadyCancelled(resp) {
		return nil
	}
	return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
}

// CancelAll cancels every open order. Used as the shutdown safety net.
func (c *Client) CancelAll(ctx context.Context) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(headers).
			Delete("/cancel-all")
	})
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled at venue")
	return nil
}

// OrderStatus fetches the venue's view of one order. SizeMatched in the
// result is cumulative. In dry-run mode the synthetic order never reached
// the venue, so it is reported matched without a request.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (types.VenueOrder, error) {
	if c.dryRun {
		return types.VenueOrder{OrderID: orderID, Status: "MATCHED"}, nil
	}
	if err := c.rl.Read.Wait(ctx); err != nil {
		return types.VenueOrder{}, err
	}

	path := "/data/order/" + orderID
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return types.VenueOrder{}, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.VenueOrder
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetResult(&result).
			Get(path)
	})
	if err != nil {
		return types.VenueOrder{}, fmt.Errorf("order status: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.VenueOrder{}, fmt.Errorf("order status: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// Balance fetches the venue-reported collateral balance in USDC.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	path := "/balance-allowance"
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return decimal.Zero, fmt.Errorf("l2 headers: %w", err)
	}

	var result struct {
		Balance string `json:"balance"`
	}
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetQueryParam("asset_type", "COLLATERAL").
			SetResult(&result).
			Get(path)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("balance: status %d: %s", resp.StatusCode(), resp.String())
	}

	raw, err := decimal.NewFromString(result.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance %q: %w", result.Balance, err)
	}
	// The venue reports 6-decimal fixed point.
	return raw.Div(usdcScale), nil
}

// Positions fetches the venue's view of our holdings.
func (c *Client) Positions(ctx context.Context) ([]types.VenuePosition, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/data/positions"
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result []types.VenuePosition
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetResult(&result).
			Get(path)
	})
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// RecentTrades fetches executed trades, newest first, dropping anything
// older than maxAge. The venue sometimes returns rows months old; stale
// rows never leave this method. A trade exactly maxAge old is fresh.
func (c *Client) RecentTrades(ctx context.Context, conditionID string, limit int, maxAge time.Duration) ([]types.VenueTrade, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit))
	if conditionID != "" {
		req.SetQueryParam("market", conditionID)
	}

	var page []types.VenueTrade
	req.SetResult(&page)

	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return req.Get("/trades")
	})
	if err != nil {
		return nil, fmt.Errorf("trades: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("trades: status %d: %s", resp.StatusCode(), resp.String())
	}

	return FilterFresh(page, maxAge, time.Now().UTC()), nil
}

// FilterFresh drops trades whose timestamp is missing, unparseable, or
// further than maxAge in the past. Equality is fresh.
func FilterFresh(trades []types.VenueTrade, maxAge time.Duration, now time.Time) []types.VenueTrade {
	fresh := make([]types.VenueTrade, 0, len(trades))
	for _, t := range trades {
		ts, ok := t.ParsedTime()
		if !ok {
			continue
		}
		if now.Sub(ts) > maxAge {
			continue
		}
		fresh = append(fresh, t)
	}
	return fresh
}

// do runs a request and, on HTTP 429, sleeps the venue-advertised
// Retry-After then retries once. Rate limiting is never surfaced as an
// error unless the retry also gets limited.
func (c *Client) do(ctx context.Context, fn func() (*resty.Response, error)) (*resty.Response, error) {
	resp, err := fn()
	if err != nil || resp.StatusCode() != http.StatusTooManyRequests {
		return resp, err
	}

	delay := retryAfter(resp)
	c.logger.Warn("venue rate limited, backing off", "retry_after", delay)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}
	return fn()
}

// retryAfter parses the Retry-After header (seconds), defaulting to 1s.
func retryAfter(resp *resty.Response) time.Duration {
	if s := resp.Header().Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}

// alreadyCancelled reports whether a cancel response means the order was
// already gone, which callers treat as success.
func alreadyCancelled(resp *resty.Response) bool {
	if resp.StatusCode() == http.StatusNotFound {
		return true
	}
	body := strings.ToLower(resp.String())
	return strings.Contains(body, "not found") ||
		strings.Contains(body, "already canceled") ||
		strings.Contains(body, "already cancelled")
}
