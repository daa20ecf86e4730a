package usecase

import (
	"context"

	"NarraTrade/internal/domain/models"
	drepo "NarraTrade/internal/domain/repository"
	mid "NarraTrade/internal/middleware"
)

// SignalCollector reads scored items off the signal stream and feeds them
// through the ingest pipeline into the aggregator.
type SignalCollector struct {
	stream  drepo.SignalStream
	agg     *SignalAggregator
	metrics drepo.Metrics
	pipe    *mid.IngestPipeline
}

// NewSignalCollector creates a new SignalCollector instance.
func NewSignalCollector(stream drepo.SignalStream, agg *SignalAggregator, metrics drepo.Metrics, pipe *mid.IngestPipeline) *SignalCollector {
	return &SignalCollector{stream: stream, agg: agg, metrics: metrics, pipe: pipe}
}

// IsConnected reports whether the signal stream is connected.
func (c *SignalCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects the stream and begins consuming. The ingest pipeline is a
// shared drain owned by the application; the collector only feeds it.
func (c *SignalCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	itemCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, itemCh, errCh)
	return nil
}

func (c *SignalCollector) consume(ctx context.Context, itemCh <-chan *models.SignalItem, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("stream")
				_ = c.stream.Reconnect(ctx)
			}
		case item := <-itemCh:
			if item == nil {
				continue
			}
			if c.pipe != nil {
				_ = c.pipe.Process(ctx, item)
			} else {
				c.agg.Ingest(item)
			}
		}
	}
}

// Shutdown closes the stream.
func (c *SignalCollector) Shutdown(ctx context.Context) error {
	return c.stream.Close()
}
