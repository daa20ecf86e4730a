package executor

import (
	"context"
	"fmt"
	"strings"

	"NarraTrade/internal/domain/models"
	domsvc "NarraTrade/internal/domain/service"
	"NarraTrade/internal/service/resilience"
	pkghttp "NarraTrade/pkg/http"
)

const serviceName = "execution"

// Client submits trade intents to the execution collaborator. The contract
// is a typed JSON exchange: the collaborator either confirms with a tx
// reference or rejects, and a reply that fits neither shape is Permanent.
type Client struct {
	baseURL string
	apiKey  string
	http    *pkghttp.Client
	res     *resilience.Client
}

type Option func(*Client)

// WithAPIKey sets the execution service credential.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// New creates an execution client.
func New(baseURL string, httpClient *pkghttp.Client, res *resilience.Client, opts ...Option) domsvc.TradeExecutor {
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

type executeRequest struct {
	IntentID  string  `json:"intent_id"`
	Owner     string  `json:"owner"`
	Asset     string  `json:"asset"`
	Direction string  `json:"direction"`
	AmountUSD float64 `json:"amount_usd"`
}

type executeResponse struct {
	Status string `json:"status"` // confirmed | rejected
	TxRef  string `json:"tx_ref"`
	Reason string `json:"reason"`
}

// Execute submits one intent and returns the confirmation reference. Every
// submission carries the intent ID so a retry after an ambiguous failure
// (timeout after the broker accepted) is deduplicated, never double-executed.
func (c *Client) Execute(ctx context.Context, intent *models.TradeIntent) (string, error) {
	if intent == nil || intent.ID == "" || intent.Asset == "" || intent.AmountUSD <= 0 {
		return "", resilience.Permanent(serviceName, "execute", fmt.Errorf("invalid intent"))
	}

	var resp executeResponse
	err := c.res.Do(ctx, serviceName, "execute", func(ctx context.Context) error {
		headers := c.headers()
		headers["Idempotency-Key"] = intent.ID
		opts := &pkghttp.RequestOptions{
			Method:  pkghttp.MethodPost,
			URL:     c.baseURL + "/v1/trades",
			Headers: headers,
			Body: executeRequest{
				IntentID:  intent.ID,
				Owner:     intent.Owner,
				Asset:     intent.Asset,
				Direction: string(intent.Direction),
				AmountUSD: intent.AmountUSD,
			},
		}
		if err := c.http.SendAndParse(ctx, opts, &resp); err != nil {
			return resilience.Transient(serviceName, "execute", err)
		}
		switch resp.Status {
		case "confirmed":
			return nil
		case "rejected":
			return resilience.Permanent(serviceName, "execute", fmt.Errorf("rejected: %s", resp.Reason))
		default:
			return resilience.Permanent(serviceName, "execute", fmt.Errorf("unrecognized status %q", resp.Status))
		}
	})
	if err != nil {
		return "", err
	}
	if resp.TxRef == "" {
		return "", resilience.Permanent(serviceName, "execute", fmt.Errorf("confirmation missing tx_ref"))
	}
	return resp.TxRef, nil
}

func (c *Client) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if c.apiKey != "" {
		h["Authorization"] = "Bearer " + c.apiKey
	}
	return h
}
