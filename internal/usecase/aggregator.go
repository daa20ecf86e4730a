package usecase

import (
	"context"
	"math"
	"sync"
	"time"

	"NarraTrade/internal/domain/models"
	drepo "NarraTrade/internal/domain/repository"
	"NarraTrade/pkg/logger"
)

// open accumulator for one (asset, window) pair
type openWindow struct {
	start time.Time
	end   time.Time
	items []*models.SignalItem
}

// SignalAggregator folds scored signal items into fixed-width narrative
// buckets per asset. Windows are created lazily on first item and sealed
// exactly once; sealing is idempotent and returns the cached bucket on
// repeat calls.
type SignalAggregator struct {
	mu sync.Mutex

	window       time.Duration
	noveltyBonus float64
	maxSealed    int

	open    map[string]map[int64]*openWindow   // asset -> windowStart unix
	sealed  map[string]map[int64]*models.Bucket
	order   map[string][]int64 // seal order per asset, oldest first
	dropped int64

	store   drepo.BucketStore
	metrics drepo.Metrics
	log     *logger.Logger
}

// AggregatorOption configures SignalAggregator.
type AggregatorOption func(*SignalAggregator)

// WithWindow sets the bucket width.
func WithWindow(d time.Duration) AggregatorOption {
	return func(a *SignalAggregator) { a.window = d }
}

// WithNoveltyBonus sets the weight multiplier for novel items.
func WithNoveltyBonus(b float64) AggregatorOption {
	return func(a *SignalAggregator) { a.noveltyBonus = b }
}

// WithMaxSealedPerAsset bounds the in-memory sealed history per asset.
func WithMaxSealedPerAsset(n int) AggregatorOption {
	return func(a *SignalAggregator) { a.maxSealed = n }
}

// NewSignalAggregator creates an aggregator. The store may be nil in tests;
// sealed buckets are then kept in memory only.
func NewSignalAggregator(store drepo.BucketStore, metrics drepo.Metrics, log *logger.Logger, opts ...AggregatorOption) *SignalAggregator {
	a := &SignalAggregator{
		window:       5 * time.Minute,
		noveltyBonus: 1.5,
		maxSealed:    288,
		open:         make(map[string]map[int64]*openWindow),
		sealed:       make(map[string]map[int64]*models.Bucket),
		order:        make(map[string][]int64),
		store:        store,
		metrics:      metrics,
		log:          log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ingest assigns one item to the window containing its timestamp. Malformed
// items are dropped and counted, never returned as errors to the feed.
func (a *SignalAggregator) Ingest(item *models.SignalItem) {
	if reason := validateItem(item); reason != "" {
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.RecordSignalDropped(reason)
		}
		if a.log != nil {
			a.log.Debug("signal dropped", logger.String("reason", reason))
		}
		return
	}

	start := item.Timestamp.Truncate(a.window)

	a.mu.Lock()
	windows, ok := a.open[item.Asset]
	if !ok {
		windows = make(map[int64]*openWindow)
		a.open[item.Asset] = windows
	}
	w, ok := windows[start.Unix()]
	if !ok {
		w = &openWindow{start: start, end: start.Add(a.window)}
		windows[start.Unix()] = w
	}
	w.items = append(w.items, item)
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordSignalIngested(item.Asset)
	}
}

// CloseWindow seals the bucket whose window ends at windowEnd for asset.
// Already-sealed windows return the cached bucket without recomputation.
func (a *SignalAggregator) CloseWindow(ctx context.Context, asset string, windowEnd time.Time) *models.Bucket {
	start := windowEnd.Add(-a.window)

	a.mu.Lock()
	if b, ok := a.sealed[asset][start.Unix()]; ok {
		a.mu.Unlock()
		return b
	}

	var items []*models.SignalItem
	if w, ok := a.open[asset][start.Unix()]; ok {
		items = w.items
		delete(a.open[asset], start.Unix())
	}
	prior := a.lastSealedLocked(asset)
	b := a.fold(asset, start, windowEnd, items, prior)
	a.sealLocked(asset, b)
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordBucketSealed(asset)
	}
	if a.store != nil {
		if err := a.store.Store(ctx, b); err != nil && a.log != nil {
			a.log.Error("bucket store failed", logger.String("asset", asset), logger.Error(err))
		}
	}
	return b
}

// CloseDue seals every open window whose end has passed, across all assets.
func (a *SignalAggregator) CloseDue(ctx context.Context, now time.Time) []*models.Bucket {
	a.mu.Lock()
	type due struct {
		asset string
		end   time.Time
	}
	var pending []due
	for asset, windows := range a.open {
		for _, w := range windows {
			if !w.end.After(now) {
				pending = append(pending, due{asset: asset, end: w.end})
			}
		}
	}
	a.mu.Unlock()

	out := make([]*models.Bucket, 0, len(pending))
	for _, d := range pending {
		out = append(out, a.CloseWindow(ctx, d.asset, d.end))
	}
	return out
}

// Latest returns the most recently sealed bucket for asset, nil if none.
func (a *SignalAggregator) Latest(asset string) *models.Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSealedLocked(asset)
}

// DroppedCount reports malformed items discarded since start.
func (a *SignalAggregator) DroppedCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

func (a *SignalAggregator) fold(asset string, start, end time.Time, items []*models.SignalItem, prior *models.Bucket) *models.Bucket {
	b := &models.Bucket{
		Asset:             asset,
		WindowStart:       start,
		WindowEnd:         end,
		EventDistribution: make(map[models.EventType]float64),
		ItemCount:         len(items),
	}

	var totalWeight, positiveProb, riskProb, trustSum, noveltySum float64
	weightedProbs := make(map[models.EventType]float64)

	for _, it := range items {
		w := it.Weight(a.noveltyBonus)
		totalWeight += w
		b.NarrativeHeat += it.Sentiment * w
		if it.Sentiment > 0 {
			b.PositiveHeat += it.Sentiment * w
		} else if it.Sentiment < 0 {
			b.NegativeHeat += -it.Sentiment * w
		}
		for et, p := range it.EventProbs {
			weightedProbs[et] += w * p
			if models.RiskEvents[et] {
				riskProb += w * p
			}
			if models.PositiveEvents[et] {
				positiveProb += w * p
			}
		}
		trustSum += it.SourceTrust
		if it.Novel {
			noveltySum++
		}
	}

	if len(items) > 0 {
		b.MeanTrust = trustSum / float64(len(items))
		b.MeanNovelty = noveltySum / float64(len(items))
	}

	if totalWeight > 0 {
		var topWeighted float64
		for et, wp := range weightedProbs {
			prob := wp / totalWeight
			b.EventDistribution[et] = prob
			if wp > topWeighted {
				topWeighted = wp
				b.TopEvent = et
			}
		}
		b.Consensus = topWeighted / totalWeight

		meanWeight := totalWeight / float64(len(items))
		polarity := clamp((positiveProb-riskProb)/totalWeight, -1, 1)
		b.RiskPolarity = polarity * math.Min(meanWeight, 1)
	}

	if prior != nil {
		b.HypeVelocity = (b.NarrativeHeat - prior.NarrativeHeat) / math.Max(math.Abs(prior.NarrativeHeat), 1)
	}

	return b
}

func (a *SignalAggregator) lastSealedLocked(asset string) *models.Bucket {
	keys := a.order[asset]
	if len(keys) == 0 {
		return nil
	}
	return a.sealed[asset][keys[len(keys)-1]]
}

func (a *SignalAggregator) sealLocked(asset string, b *models.Bucket) {
	if a.sealed[asset] == nil {
		a.sealed[asset] = make(map[int64]*models.Bucket)
	}
	key := b.WindowStart.Unix()
	a.sealed[asset][key] = b
	a.order[asset] = append(a.order[asset], key)

	if a.maxSealed > 0 && len(a.order[asset]) > a.maxSealed {
		oldest := a.order[asset][0]
		a.order[asset] = a.order[asset][1:]
		delete(a.sealed[asset], oldest)
	}
}

func validateItem(item *models.SignalItem) string {
	switch {
	case item == nil:
		return "nil"
	case item.Asset == "":
		return "empty_asset"
	case item.Timestamp.IsZero():
		return "zero_timestamp"
	case item.Sentiment < -1 || item.Sentiment > 1:
		return "sentiment_out_of_range"
	case item.SourceTrust < 0:
		return "negative_trust"
	case item.RecencyWeight <= 0 || item.RecencyWeight > 1:
		return "recency_out_of_range"
	}
	sum := 0.0
	for _, p := range item.EventProbs {
		if p < 0 || p > 1 {
			return "event_prob_out_of_range"
		}
		sum += p
	}
	if sum > 1+1e-9 {
		return "event_probs_exceed_one"
	}
	return ""
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
