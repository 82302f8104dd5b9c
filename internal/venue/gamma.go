package venue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// GammaClient paginates market metadata from the Gamma API. Metadata reads
// are unauthenticated but rate-sensitive, so pages are paced by a limiter
// with a minimum inter-page delay.
type GammaClient struct {
	http     *resty.Client
	pageSize int
	pacer    *rate.Limiter
	logger   *slog.Logger
}

// NewGammaClient creates the metadata client.
func NewGammaClient(cfg *config.Config, logger *slog.Logger) *GammaClient {
	timeout := cfg.API.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pageSize := cfg.Ingest.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	pageDelay := cfg.Ingest.PageDelay
	if pageDelay <= 0 {
		pageDelay = 250 * time.Millisecond
	}

	httpClient := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &GammaClient{
		http:     httpClient,
		pageSize: pageSize,
		pacer:    rate.NewLimiter(rate.Every(pageDelay), 1),
		logger:   logger.With("component", "gamma"),
	}
}

// AllMarkets walks every active market page by page, invoking fn per page.
// Iteration stops on the first short page, on fn error, or on context
// cancellation. HTTP 429 honors Retry-After and retries the page once.
func (g *GammaClient) AllMarkets(ctx context.Context, fn func([]types.GammaMarket) error) error {
	offset := 0
	for {
		if err := g.pacer.Wait(ctx); err != nil {
			return err
		}

		page, err := g.fetchPage(ctx, offset)
		if err != nil {
			return fmt.Errorf("markets page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			return nil
		}

		if err := fn(page); err != nil {
			return err
		}
		if len(page) < g.pageSize {
			return nil
		}
		offset += len(page)
	}
}

// Market fetches metadata for a single condition.
func (g *GammaClient) Market(ctx context.Context, conditionID string) (types.GammaMarket, bool, error) {
	if err := g.pacer.Wait(ctx); err != nil {
		return types.GammaMarket{}, false, err
	}

	var page []types.GammaMarket
	resp, err := g.doPage(ctx, func() (*resty.Response, error) {
		return g.http.R().
			SetContext(ctx).
			SetQueryParam("condition_ids", conditionID).
			SetResult(&page).
			Get("/markets")
	})
	if err != nil {
		return types.GammaMarket{}, false, fmt.Errorf("market %s: %w", conditionID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.GammaMarket{}, false, fmt.Errorf("market %s: status %d: %s", conditionID, resp.StatusCode(), resp.String())
	}
	if len(page) == 0 {
		return types.GammaMarket{}, false, nil
	}
	return page[0], true, nil
}

func (g *GammaClient) fetchPage(ctx context.Context, offset int) ([]types.GammaMarket, error) {
	var page []types.GammaMarket
	resp, err := g.doPage(ctx, func() (*resty.Response, error) {
		return g.http.R().
			SetContext(ctx).
			SetQueryParam("limit", strconv.Itoa(g.pageSize)).
			SetQueryParam("offset", strconv.Itoa(offset)).
			SetQueryParam("active", "true").
			SetResult(&page).
			Get("/markets")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return page, nil
}

// doPage retries a page once after the advertised Retry-After on HTTP 429.
func (g *GammaClient) doPage(ctx context.Context, fn func() (*resty.Response, error)) (*resty.Response, error) {
	resp, err := fn()
	if err != nil || resp.StatusCode() != http.StatusTooManyRequests {
		return resp, err
	}

	delay := retryAfter(resp)
	g.logger.Warn("gamma rate limited, backing off", "retry_after", delay)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}
	return fn()
}
