package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"NarraTrade/internal/domain/models"
	"NarraTrade/internal/service/resilience"
	pkghttp "NarraTrade/pkg/http"
)

func fastResilience() *resilience.Client {
	return resilience.NewClient(resilience.WithPolicy("execution", resilience.Policy{
		Retry:   resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond},
		Breaker: resilience.BreakerConfig{FailureThreshold: 10, OpenTimeout: time.Minute},
		Rate:    resilience.RateConfig{Capacity: 100, RefillPerSec: 100, MaxWait: time.Second},
	}))
}

func intent(id string) *models.TradeIntent {
	return &models.TradeIntent{
		ID:        id,
		Owner:     "desk",
		Asset:     "BTC",
		Direction: models.DirectionBuy,
		AmountUSD: 1000,
	}
}

func TestExecuteConfirms(t *testing.T) {
	var got executeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(executeResponse{Status: "confirmed", TxRef: "tx-1"})
	}))
	defer srv.Close()

	c := New(srv.URL, pkghttp.NewClient(), fastResilience(), WithAPIKey("k"))
	ref, err := c.Execute(context.Background(), intent("in-1"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ref != "tx-1" {
		t.Fatalf("ref = %q, want tx-1", ref)
	}
	if got.IntentID != "in-1" || got.Asset != "BTC" || got.Direction != "buy" {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestExecuteRetryReusesIdempotencyKey(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(executeResponse{Status: "confirmed", TxRef: "tx-9"})
	}))
	defer srv.Close()

	c := New(srv.URL, pkghttp.NewClient(), fastResilience())
	if _, err := c.Execute(context.Background(), intent("in-9")); err != nil {
		t.Fatalf("execute: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(keys))
	}
	for _, k := range keys {
		if k != "in-9" {
			t.Fatalf("retried submission changed its idempotency key: %v", keys)
		}
	}
}

func TestExecuteRejectsIntentWithoutID(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := New(srv.URL, pkghttp.NewClient(), fastResilience())
	_, err := c.Execute(context.Background(), intent(""))
	if !resilience.IsKind(err, resilience.KindPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("unidentified intent must never reach the wire")
	}
}

func TestExecuteRejectionNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(executeResponse{Status: "rejected", Reason: "insufficient funds"})
	}))
	defer srv.Close()

	c := New(srv.URL, pkghttp.NewClient(), fastResilience())
	_, err := c.Execute(context.Background(), intent("in-2"))
	if !resilience.IsKind(err, resilience.KindPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("rejection must not be retried, got %d calls", calls)
	}
}
