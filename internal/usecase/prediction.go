package usecase

import (
	"context"
	"math"
	"sync"
	"time"

	"NarraTrade/internal/domain/models"
	drepo "NarraTrade/internal/domain/repository"
	"NarraTrade/internal/services/features"
	"NarraTrade/internal/services/ml"
	"NarraTrade/pkg/logger"
)

type assetModel struct {
	learner ml.Learner
	meta    models.Model
}

// PredictionEngine keeps one active model per asset and scores narrative
// buckets into up-probabilities. Retrains fit a fresh learner on a copy of
// the sample buffer and swap it in atomically, so in-flight predictions keep
// using the model they started with.
type PredictionEngine struct {
	mu sync.RWMutex

	models  map[string]*assetModel
	samples map[string][]models.TrainingSample
	pending map[string]int // samples observed since last retrain

	labelThreshold  float64
	minTrainSamples int
	familySwitchAt  int
	maxSamples      int

	agg     *SignalAggregator
	builder *features.Builder
	metrics drepo.Metrics
	log     *logger.Logger
}

// EngineOption configures PredictionEngine.
type EngineOption func(*PredictionEngine)

// WithLabelThreshold sets the realized-return cutoff for an up label.
func WithLabelThreshold(t float64) EngineOption {
	return func(e *PredictionEngine) { e.labelThreshold = t }
}

// WithMinTrainSamples sets the retrain trigger count.
func WithMinTrainSamples(n int) EngineOption {
	return func(e *PredictionEngine) { e.minTrainSamples = n }
}

// WithFamilySwitchAt sets the sample count at which the tree ensemble
// replaces the linear model.
func WithFamilySwitchAt(n int) EngineOption {
	return func(e *PredictionEngine) { e.familySwitchAt = n }
}

// WithMaxSamples bounds the per-asset training buffer.
func WithMaxSamples(n int) EngineOption {
	return func(e *PredictionEngine) { e.maxSamples = n }
}

func NewPredictionEngine(agg *SignalAggregator, builder *features.Builder, metrics drepo.Metrics, log *logger.Logger, opts ...EngineOption) *PredictionEngine {
	e := &PredictionEngine{
		models:          make(map[string]*assetModel),
		samples:         make(map[string][]models.TrainingSample),
		pending:         make(map[string]int),
		labelThreshold:  0.005,
		minTrainSamples: 50,
		familySwitchAt:  200,
		maxSamples:      4000,
		agg:             agg,
		builder:         builder,
		metrics:         metrics,
		log:             log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Predict scores the asset's latest sealed bucket. With no bucket at all it
// returns the neutral prediction; with a bucket but no trained model it falls
// back to a bounded narrative heuristic. Neither case is an error.
func (e *PredictionEngine) Predict(ctx context.Context, asset string, market *models.MarketData) (models.Prediction, error) {
	bucket := e.agg.Latest(asset)
	if bucket == nil {
		return neutralPrediction(asset), nil
	}

	vec, err := e.builder.Build(bucket, market)
	if err != nil {
		return neutralPrediction(asset), err
	}

	e.mu.RLock()
	am := e.models[asset]
	e.mu.RUnlock()

	var p float64
	pred := models.Prediction{Asset: asset, Timestamp: time.Now().UTC()}
	if am == nil {
		p = heuristicProbability(bucket)
	} else {
		p = clamp(am.learner.Predict(vec), 0, 1)
		pred.ModelVersion = am.meta.Version
		pred.ModelFamily = am.meta.Family
	}
	pred.ProbabilityUp = p
	pred.Confidence = confidenceFor(p, bucket)

	if e.metrics != nil {
		e.metrics.RecordPrediction(asset, p)
	}
	return pred, nil
}

// BuildFeatures exposes the vector used for a prediction so callers can hand
// it back through ObserveOutcome once the horizon return is known.
func (e *PredictionEngine) BuildFeatures(asset string, market *models.MarketData) (models.FeatureVector, bool) {
	bucket := e.agg.Latest(asset)
	if bucket == nil {
		return nil, false
	}
	vec, err := e.builder.Build(bucket, market)
	if err != nil {
		return nil, false
	}
	return vec, true
}

// ObserveOutcome records one realized (features, return) pair and retrains
// once enough new outcomes have accumulated.
func (e *PredictionEngine) ObserveOutcome(ctx context.Context, asset string, vec models.FeatureVector, realizedReturn float64) {
	if len(vec) != models.FeatureCount {
		if e.metrics != nil {
			e.metrics.RecordError("bad_feature_vector")
		}
		return
	}
	label := 0
	if realizedReturn > e.labelThreshold {
		label = 1
	}
	sample := models.TrainingSample{
		Asset:      asset,
		Features:   vec,
		Label:      label,
		Return:     realizedReturn,
		ObservedAt: time.Now().UTC(),
	}

	e.mu.Lock()
	buf := append(e.samples[asset], sample)
	if e.maxSamples > 0 && len(buf) > e.maxSamples {
		trimmed := make([]models.TrainingSample, e.maxSamples)
		copy(trimmed, buf[len(buf)-e.maxSamples:])
		buf = trimmed
	}
	e.samples[asset] = buf
	e.pending[asset]++
	due := len(buf) >= e.minTrainSamples && e.pending[asset] >= e.minTrainSamples
	e.mu.Unlock()

	if due {
		e.Retrain(ctx, asset)
	}
}

// Retrain fits a fresh learner for asset and swaps it in. Below the minimum
// sample count it is a no-op returning the current model status.
func (e *PredictionEngine) Retrain(ctx context.Context, asset string) (models.Model, bool) {
	e.mu.Lock()
	buf := e.samples[asset]
	if len(buf) < e.minTrainSamples {
		var meta models.Model
		if am := e.models[asset]; am != nil {
			meta = am.meta
		}
		e.mu.Unlock()
		return meta, false
	}
	training := make([]models.TrainingSample, len(buf))
	copy(training, buf)
	prevVersion := 0
	if am := e.models[asset]; am != nil {
		prevVersion = am.meta.Version
	}
	e.mu.Unlock()

	family := models.FamilyLinear
	if len(training) >= e.familySwitchAt {
		family = models.FamilyTreeEnsemble
	}
	learner := ml.ForFamily(family)
	learner.Fit(training)

	meta := models.Model{
		Asset:            asset,
		Family:           family,
		Version:          prevVersion + 1,
		TrainedSamples:   len(training),
		CreatedAt:        time.Now().UTC(),
		AccuracyEstimate: inSampleAccuracy(learner, training),
	}

	e.mu.Lock()
	e.models[asset] = &assetModel{learner: learner, meta: meta}
	e.pending[asset] = 0
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordRetrain(asset, string(family))
	}
	if e.log != nil {
		e.log.Info("model retrained",
			logger.String("asset", asset),
			logger.String("family", string(family)),
			logger.Int("version", meta.Version),
			logger.Int("samples", meta.TrainedSamples),
			logger.Float64("accuracy", meta.AccuracyEstimate))
	}
	return meta, true
}

// ActiveModel returns the current model metadata for asset.
func (e *PredictionEngine) ActiveModel(asset string) (models.Model, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	am := e.models[asset]
	if am == nil {
		return models.Model{}, false
	}
	return am.meta, true
}

// SampleCount reports the labeled buffer size for asset.
func (e *PredictionEngine) SampleCount(asset string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.samples[asset])
}

func neutralPrediction(asset string) models.Prediction {
	return models.Prediction{
		Asset:         asset,
		Timestamp:     time.Now().UTC(),
		ProbabilityUp: 0.5,
		Confidence:    models.ConfidenceLow,
	}
}

// heuristicProbability is the cold-start fallback: directional tilt from
// narrative state when a bucket exists but no model has trained yet.
func heuristicProbability(b *models.Bucket) float64 {
	p := 0.5
	p += 0.15 * math.Tanh(b.NarrativeHeat)
	p += 0.10 * b.RiskPolarity
	p += 0.05 * math.Tanh(b.HypeVelocity)
	p += 0.05 * (b.Consensus - 0.5)
	return clamp(p, 0.1, 0.9)
}

func confidenceFor(p float64, b *models.Bucket) models.Confidence {
	score := math.Abs(p-0.5) * 2
	if b != nil {
		score += b.Consensus * 0.2
		score += math.Min(math.Abs(b.NarrativeHeat)/5, 0.3)
	}
	switch {
	case score > 0.7:
		return models.ConfidenceHigh
	case score > 0.4:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

func inSampleAccuracy(learner ml.Learner, samples []models.TrainingSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	correct := 0
	for _, s := range samples {
		p := learner.Predict(s.Features)
		if (p > 0.5) == (s.Label == 1) {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}
