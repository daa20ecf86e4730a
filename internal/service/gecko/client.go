package gecko

import (
	"context"
	"fmt"
	"strings"

	"NarraTrade/internal/domain/models"
	domsvc "NarraTrade/internal/domain/service"
	"NarraTrade/internal/service/resilience"
	pkghttp "NarraTrade/pkg/http"
)

const serviceName = "market-data"

// Client fetches per-asset market microstructure snapshots over HTTP. All
// calls go through the resilience layer; a typed DTO at the boundary means a
// shape mismatch surfaces as a Permanent failure, never a partial parse.
type Client struct {
	baseURL string
	apiKey  string
	http    *pkghttp.Client
	res     *resilience.Client
}

type Option func(*Client)

// WithAPIKey sets the upstream API key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// New creates a market data client.
func New(baseURL string, httpClient *pkghttp.Client, res *resilience.Client, opts ...Option) domsvc.MarketDataSource {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		res:     res,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type marketResponse struct {
	Asset           string  `json:"asset"`
	LiquidityUSD    float64 `json:"liquidity_usd"`
	TradeCountDelta float64 `json:"trade_count_delta"`
	SpreadEstimate  float64 `json:"spread_estimate"`
	PriceUSD        float64 `json:"price_usd"`
	PriceChange24h  float64 `json:"price_change_24h_pct"`
}

// Snapshot returns the current microstructure view for one asset.
func (c *Client) Snapshot(ctx context.Context, asset string) (*models.MarketData, error) {
	if asset == "" {
		return nil, resilience.Permanent(serviceName, "snapshot", fmt.Errorf("empty asset"))
	}

	var resp marketResponse
	err := c.res.Do(ctx, serviceName, "snapshot", func(ctx context.Context) error {
		opts := &pkghttp.RequestOptions{
			Method:  pkghttp.MethodGet,
			URL:     fmt.Sprintf("%s/v1/markets/%s", c.baseURL, asset),
			Headers: c.headers(),
		}
		if err := c.http.SendAndParse(ctx, opts, &resp); err != nil {
			return resilience.Transient(serviceName, "snapshot", err)
		}
		if resp.Asset == "" {
			return resilience.Permanent(serviceName, "snapshot", fmt.Errorf("response missing asset"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &models.MarketData{
		Asset:            resp.Asset,
		LiquidityUSD:     resp.LiquidityUSD,
		TradeCountDelta:  resp.TradeCountDelta,
		SpreadEstimate:   resp.SpreadEstimate,
		PriceUSD:         resp.PriceUSD,
		PriceChange24hPc: resp.PriceChange24h,
	}, nil
}

func (c *Client) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if c.apiKey != "" {
		h["X-Api-Key"] = c.apiKey
	}
	return h
}
