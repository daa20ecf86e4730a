package usecase

import (
	"context"
	"encoding/json"
	"time"

	"NarraTrade/internal/domain/models"
	drepo "NarraTrade/internal/domain/repository"
	mid "NarraTrade/internal/middleware"
	pkgkafka "NarraTrade/pkg/kafka"
)

// KafkaSignalsHandler consumes scored signal items off the classifier topic
// and feeds them through the ingest pipeline.
type KafkaSignalsHandler struct {
	topic   string
	pipe    *mid.IngestPipeline
	agg     *SignalAggregator
	metrics drepo.Metrics
}

func NewKafkaSignalsHandler(topic string, pipe *mid.IngestPipeline, agg *SignalAggregator, metrics drepo.Metrics) *KafkaSignalsHandler {
	return &KafkaSignalsHandler{topic: topic, pipe: pipe, agg: agg, metrics: metrics}
}

func (h *KafkaSignalsHandler) Topic() string { return h.topic }

// incoming message schema matches SignalItemRequest
func (h *KafkaSignalsHandler) Handle(ctx context.Context, b []byte) error {
	var m models.SignalItemRequest
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.Timestamp > 1e11 { // ms
		m.Timestamp = m.Timestamp / 1000
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(time.Unix(m.Timestamp, 0)).Seconds())

	item := m.ToSignalItem()
	if h.pipe != nil {
		return h.pipe.Process(ctx, item)
	}
	h.agg.Ingest(item)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaSignalsHandler)(nil)
