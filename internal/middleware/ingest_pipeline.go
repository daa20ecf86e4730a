package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"NarraTrade/internal/domain/models"
	domrepo "NarraTrade/internal/domain/repository"
)

// Sink is the downstream the pipeline feeds, normally the aggregator.
type Sink interface {
	Ingest(item *models.SignalItem)
}

// IngestPipeline sits between the signal feed and the aggregator. It screens
// obviously broken items, throttles per asset, and smooths bursts through a
// bounded buffer so a feed spike never stalls the stream reader.
type IngestPipeline struct {
	sink    Sink
	metrics domrepo.Metrics
	maxRPS  int
	bufSize int
	bufCh   chan *models.SignalItem
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
	last    map[string]time.Time // per-asset last accepted time
}

type PipelineOption func(*IngestPipeline)

// WithMaxRPS sets the max items per second per asset.
func WithMaxRPS(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the burst buffer capacity.
func WithBufferSize(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewIngestPipeline creates a pipeline in front of sink.
func NewIngestPipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		sink:    sink,
		metrics: metrics,
		maxRPS:  50,
		bufSize: 1000,
		last:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.SignalItem, p.bufSize)
	return p
}

// Start launches background draining of the burst buffer. Start after Stop
// resumes draining on the same buffer.
func (p *IngestPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	go func() {
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case item := <-p.bufCh:
				if item != nil {
					p.sink.Ingest(item)
				}
			}
		}
	}()
}

// Stop stops the background drain.
func (p *IngestPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process screens and forwards one item. Throttled items are dropped and
// counted; a full buffer is reported, not blocked on.
func (p *IngestPipeline) Process(ctx context.Context, item *models.SignalItem) error {
	start := time.Now()
	if err := screen(item); err != nil {
		if p.metrics != nil {
			p.metrics.RecordSignalDropped("pipeline_screen")
		}
		return err
	}
	if !p.allow(item.Asset, start) {
		if p.metrics != nil {
			p.metrics.RecordSignalDropped("pipeline_throttle")
		}
		return nil
	}

	select {
	case p.bufCh <- item:
	default:
		if p.metrics != nil {
			p.metrics.RecordSignalDropped("pipeline_buffer_full")
		}
		return fmt.Errorf("ingest buffer full")
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	}
	return nil
}

// screen rejects items the aggregator could never use; deep validation
// happens in the aggregator itself.
func screen(item *models.SignalItem) error {
	if item == nil {
		return fmt.Errorf("signal nil")
	}
	if item.Asset == "" {
		return fmt.Errorf("asset empty")
	}
	if item.Timestamp.IsZero() {
		return fmt.Errorf("timestamp missing")
	}
	return nil
}

func (p *IngestPipeline) allow(asset string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.last[asset]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.last[asset] = now
	return true
}
