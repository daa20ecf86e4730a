package executor

import (
	"context"
	"fmt"
	"time"

	"NarraTrade/internal/domain/models"
	domsvc "NarraTrade/internal/domain/service"
	"NarraTrade/internal/service/resilience"
	pkghttp "NarraTrade/pkg/http"
)

// SnapshotClient serves the authoritative holdings view from the custody
// endpoint of the execution collaborator.
type SnapshotClient struct {
	baseURL string
	apiKey  string
	http    *pkghttp.Client
	res     *resilience.Client
}

// NewSnapshotClient creates a portfolio snapshot source.
func NewSnapshotClient(baseURL string, httpClient *pkghttp.Client, res *resilience.Client, opts ...Option) domsvc.SnapshotSource {
	inner := &Client{http: httpClient, res: res}
	for _, opt := range opts {
		opt(inner)
	}
	return &SnapshotClient{
		baseURL: baseURL,
		apiKey:  inner.apiKey,
		http:    httpClient,
		res:     res,
	}
}

type positionDTO struct {
	Asset    string  `json:"asset"`
	Balance  float64 `json:"balance"`
	ValueUSD float64 `json:"value_usd"`
}

type snapshotResponse struct {
	Owner         string        `json:"owner"`
	AsOf          int64         `json:"as_of"`
	TotalValueUSD float64       `json:"total_value_usd"`
	Positions     []positionDTO `json:"positions"`
}

// Fetch returns the current snapshot for owner.
func (c *SnapshotClient) Fetch(ctx context.Context, owner string) (*models.PortfolioSnapshot, error) {
	if owner == "" {
		return nil, resilience.Permanent(serviceName, "snapshot", fmt.Errorf("empty owner"))
	}

	var resp snapshotResponse
	err := c.res.Do(ctx, serviceName, "snapshot", func(ctx context.Context) error {
		opts := &pkghttp.RequestOptions{
			Method: pkghttp.MethodGet,
			URL:    fmt.Sprintf("%s/v1/portfolios/%s", c.baseURL, owner),
			Headers: map[string]string{
				"Accept":        "application/json",
				"Authorization": "Bearer " + c.apiKey,
			},
		}
		if err := c.http.SendAndParse(ctx, opts, &resp); err != nil {
			return resilience.Transient(serviceName, "snapshot", err)
		}
		if resp.Owner == "" {
			return resilience.Permanent(serviceName, "snapshot", fmt.Errorf("response missing owner"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	snap := &models.PortfolioSnapshot{
		Owner:         resp.Owner,
		AsOf:          time.Unix(resp.AsOf, 0).UTC(),
		TotalValueUSD: resp.TotalValueUSD,
		Positions:     make(map[string]models.Position, len(resp.Positions)),
	}
	for _, p := range resp.Positions {
		snap.Positions[p.Asset] = models.Position{Asset: p.Asset, Balance: p.Balance, ValueUSD: p.ValueUSD}
	}
	return snap, nil
}
