package repository

import (
	"context"
	"time"

	"NarraTrade/internal/domain/models"
	domrepo "NarraTrade/internal/domain/repository"
	pkgkafka "NarraTrade/pkg/kafka"
)

// KafkaEventPublisher emits pipeline events to Kafka. Publishing is
// advisory: callers log failures and move on.
type KafkaEventPublisher struct {
	producer     *pkgkafka.Producer
	cycleTopic   string
	breakerTopic string
}

// NewKafkaEventPublisher creates the event publisher.
func NewKafkaEventPublisher(producer *pkgkafka.Producer, cycleTopic, breakerTopic string) domrepo.EventPublisher {
	return &KafkaEventPublisher{
		producer:     producer,
		cycleTopic:   cycleTopic,
		breakerTopic: breakerTopic,
	}
}

func (p *KafkaEventPublisher) PublishCycleResult(ctx context.Context, r *models.RebalanceResult) error {
	return p.producer.Publish(ctx, p.cycleTopic, []byte(r.Owner), map[string]interface{}{
		"owner":           r.Owner,
		"started_at":      r.StartedAt.Unix(),
		"duration_ms":     r.Duration.Milliseconds(),
		"trades_executed": r.TradesExecuted,
		"trades_failed":   r.TradesFailed,
		"value_moved_usd": r.ValueMovedUSD,
		"skipped_reason":  r.SkippedReason,
	})
}

func (p *KafkaEventPublisher) PublishBreakerTransition(ctx context.Context, service, from, to string) error {
	return p.producer.Publish(ctx, p.breakerTopic, []byte(service), map[string]interface{}{
		"service": service,
		"from":    from,
		"to":      to,
		"at":      time.Now().Unix(),
	})
}

func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}
