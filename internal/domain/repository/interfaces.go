package repository

import (
	"context"
	"time"

	"NarraTrade/internal/domain/models"
)

// BucketStore persists sealed narrative buckets and serves them back for
// audit and training queries.
type BucketStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Store(ctx context.Context, b *models.Bucket) error
	Latest(ctx context.Context, asset string) (*models.Bucket, error)
	Range(ctx context.Context, asset string, from, to time.Time) ([]*models.Bucket, error)
	Health(ctx context.Context) error
	Close() error
}

// IntentStore records trade intents and their terminal outcomes.
type IntentStore interface {
	Store(ctx context.Context, intent *models.TradeIntent) error
	History(ctx context.Context, owner string, limit int) ([]*models.TradeIntent, error)
	Close() error
}

// EventPublisher emits observable pipeline events (cycle results, breaker
// transitions). Advisory only: publish failures never fail the operation
// that produced the event.
type EventPublisher interface {
	PublishCycleResult(ctx context.Context, r *models.RebalanceResult) error
	PublishBreakerTransition(ctx context.Context, service, from, to string) error
	Close() error
}

// SignalStream delivers scored signal items from the upstream classifier.
type SignalStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.SignalItem, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Metrics records pipeline observability counters and gauges.
type Metrics interface {
	RecordSignalIngested(asset string)
	RecordSignalDropped(reason string)
	RecordBucketSealed(asset string)
	RecordPrediction(asset string, probabilityUp float64)
	RecordRetrain(asset, family string)
	RecordCycle(owner, outcome string, seconds float64)
	RecordTrade(owner, outcome string, amountUSD float64)
	RecordBreakerState(service string, state int)
	RecordPortfolioValue(owner string, valueUSD float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
