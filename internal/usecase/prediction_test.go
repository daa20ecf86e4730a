package usecase

import (
	"context"
	"math"
	"testing"
	"time"

	"NarraTrade/internal/domain/models"
	"NarraTrade/internal/services/features"
)

func newTestEngine(opts ...EngineOption) (*PredictionEngine, *SignalAggregator) {
	agg := NewSignalAggregator(nil, nil, nil, WithWindow(5*time.Minute))
	base := []EngineOption{WithMinTrainSamples(10), WithFamilySwitchAt(40), WithMaxSamples(100)}
	e := NewPredictionEngine(agg, features.NewBuilder(), nil, nil, append(base, opts...)...)
	return e, agg
}

func sampleVec(seed float64) models.FeatureVector {
	vec := make(models.FeatureVector, models.FeatureCount)
	for i := range vec {
		vec[i] = math.Sin(seed + float64(i))
	}
	return vec
}

// feedSamples pushes n labeled outcomes with a learnable pattern: positive
// first feature means an up outcome.
func feedSamples(e *PredictionEngine, asset string, n int) {
	for i := 0; i < n; i++ {
		vec := sampleVec(float64(i))
		ret := -0.01
		if vec[0] > 0 {
			ret = 0.01
		}
		e.ObserveOutcome(context.Background(), asset, vec, ret)
	}
}

func TestPredictNoBucketIsNeutral(t *testing.T) {
	e, _ := newTestEngine()

	pred, err := e.Predict(context.Background(), "BTC", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pred.Neutral() {
		t.Fatalf("expected neutral prediction, got p=%v conf=%v", pred.ProbabilityUp, pred.Confidence)
	}
}

func TestPredictColdStartHeuristic(t *testing.T) {
	e, agg := newTestEngine()

	agg.Ingest(item("BTC", windowBase.Add(time.Minute), 0.9, 1, 1, false, nil))
	agg.CloseWindow(context.Background(), "BTC", windowBase.Add(5*time.Minute))

	pred, err := e.Predict(context.Background(), "BTC", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.ProbabilityUp <= 0.5 {
		t.Fatalf("hot narrative should tilt up, got %v", pred.ProbabilityUp)
	}
	if pred.ProbabilityUp < 0.1 || pred.ProbabilityUp > 0.9 {
		t.Fatalf("heuristic must stay inside [0.1, 0.9], got %v", pred.ProbabilityUp)
	}
	if pred.ModelVersion != 0 {
		t.Fatalf("cold start must not claim a model version")
	}
}

func TestObserveOutcomeLabeling(t *testing.T) {
	e, _ := newTestEngine(WithLabelThreshold(0.005))

	e.ObserveOutcome(context.Background(), "BTC", sampleVec(1), 0.01)
	e.ObserveOutcome(context.Background(), "BTC", sampleVec(2), 0.001) // below threshold
	e.ObserveOutcome(context.Background(), "BTC", sampleVec(3), -0.02)

	if got := e.SampleCount("BTC"); got != 3 {
		t.Fatalf("sample count = %d, want 3", got)
	}
	// malformed vector is counted as an error, not a sample
	e.ObserveOutcome(context.Background(), "BTC", models.FeatureVector{1, 2}, 0.01)
	if got := e.SampleCount("BTC"); got != 3 {
		t.Fatalf("short vector must be rejected, count = %d", got)
	}
}

func TestNoRetrainBelowMinimum(t *testing.T) {
	e, _ := newTestEngine(WithMinTrainSamples(10))

	feedSamples(e, "BTC", 9)
	if _, ok := e.ActiveModel("BTC"); ok {
		t.Fatalf("model must not exist below the sample minimum")
	}
	if _, trained := e.Retrain(context.Background(), "BTC"); trained {
		t.Fatalf("explicit retrain below minimum must refuse")
	}
}

func TestRetrainAtMinimumProducesLinearModel(t *testing.T) {
	e, _ := newTestEngine(WithMinTrainSamples(10), WithFamilySwitchAt(40))

	feedSamples(e, "BTC", 10)
	meta, ok := e.ActiveModel("BTC")
	if !ok {
		t.Fatalf("expected trained model at minimum sample count")
	}
	if meta.Family != models.FamilyLinear {
		t.Fatalf("family = %v, want linear below switch point", meta.Family)
	}
	if meta.Version != 1 {
		t.Fatalf("version = %d, want 1", meta.Version)
	}
	if meta.TrainedSamples != 10 {
		t.Fatalf("trained samples = %d, want 10", meta.TrainedSamples)
	}
}

func TestFamilySwitchesToTreeEnsemble(t *testing.T) {
	e, _ := newTestEngine(WithMinTrainSamples(10), WithFamilySwitchAt(40))

	feedSamples(e, "BTC", 40)
	meta, ok := e.ActiveModel("BTC")
	if !ok {
		t.Fatalf("expected trained model")
	}
	if meta.Family != models.FamilyTreeEnsemble {
		t.Fatalf("family = %v, want tree-ensemble at switch point", meta.Family)
	}
	if meta.Version < 2 {
		t.Fatalf("version = %d, retrains should have stacked", meta.Version)
	}
}

func TestModelSwapKeepsServingDuringRetrain(t *testing.T) {
	e, agg := newTestEngine(WithMinTrainSamples(10))

	agg.Ingest(item("BTC", windowBase.Add(time.Minute), 0.5, 1, 1, false, nil))
	agg.CloseWindow(context.Background(), "BTC", windowBase.Add(5*time.Minute))
	feedSamples(e, "BTC", 10)

	before, _ := e.ActiveModel("BTC")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if _, err := e.Predict(context.Background(), "BTC", nil); err != nil {
				t.Errorf("predict during retrain: %v", err)
				return
			}
		}
	}()
	feedSamples(e, "BTC", 10)
	<-done

	after, _ := e.ActiveModel("BTC")
	if after.Version != before.Version+1 {
		t.Fatalf("expected version bump %d -> %d", before.Version, after.Version)
	}
}

func TestSampleBufferBounded(t *testing.T) {
	e, _ := newTestEngine(WithMinTrainSamples(1000), WithMaxSamples(20))

	feedSamples(e, "BTC", 50)
	if got := e.SampleCount("BTC"); got != 20 {
		t.Fatalf("buffer = %d, want 20", got)
	}
}

func TestPredictionBoundsWithTrainedModel(t *testing.T) {
	e, agg := newTestEngine(WithMinTrainSamples(10))

	agg.Ingest(item("BTC", windowBase.Add(time.Minute), 0.7, 1, 1, false, nil))
	agg.CloseWindow(context.Background(), "BTC", windowBase.Add(5*time.Minute))
	feedSamples(e, "BTC", 20)

	pred, err := e.Predict(context.Background(), "BTC", &models.MarketData{
		Asset:           "BTC",
		LiquidityUSD:    5_000_000,
		TradeCountDelta: 120,
		SpreadEstimate:  0.0004,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.ProbabilityUp < 0 || pred.ProbabilityUp > 1 {
		t.Fatalf("probability out of bounds: %v", pred.ProbabilityUp)
	}
	if pred.ModelVersion == 0 {
		t.Fatalf("trained engine must report its model version")
	}
}

func TestConfidenceTiers(t *testing.T) {
	flat := &models.Bucket{}
	if got := confidenceFor(0.5, flat); got != models.ConfidenceLow {
		t.Fatalf("coin flip on a flat bucket should be LOW, got %v", got)
	}

	hot := &models.Bucket{Consensus: 0.9, NarrativeHeat: 3}
	if got := confidenceFor(0.92, hot); got != models.ConfidenceHigh {
		t.Fatalf("strong signal on a hot bucket should be HIGH, got %v", got)
	}

	if got := confidenceFor(0.72, flat); got != models.ConfidenceMedium {
		t.Fatalf("moderate distance from coin flip should be MEDIUM, got %v", got)
	}
}
