package features

import (
	"math"
	"testing"

	"NarraTrade/internal/domain/models"
)

func testBucket() *models.Bucket {
	return &models.Bucket{
		Asset:         "BTC",
		NarrativeHeat: 1.1,
		PositiveHeat:  1.3,
		NegativeHeat:  0.2,
		HypeVelocity:  0.5,
		Consensus:     0.6,
		RiskPolarity:  0.4,
		EventDistribution: map[models.EventType]float64{
			models.EventListing: 0.6,
			models.EventHack:    0.1,
		},
	}
}

func TestBuildVectorLayout(t *testing.T) {
	b := NewBuilder()

	market := &models.MarketData{LiquidityUSD: 1_000_000, TradeCountDelta: 42, SpreadEstimate: 0.001}
	vec, err := b.Build(testBucket(), market)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != models.FeatureCount {
		t.Fatalf("vector length = %d, want %d", len(vec), models.FeatureCount)
	}
	if vec[0] != 1.1 || vec[1] != 1.3 || vec[2] != 0.2 {
		t.Fatalf("heat block wrong: %v", vec[:3])
	}
	// event block follows the canonical taxonomy order
	if vec[6] != 0.6 {
		t.Fatalf("p_listing = %v, want 0.6", vec[6])
	}
	if vec[8] != 0.1 {
		t.Fatalf("p_hack = %v, want 0.1", vec[8])
	}
	if vec[7] != 0 {
		t.Fatalf("absent event types must be zero, got %v", vec[7])
	}
	if got, want := vec[15], math.Log1p(1_000_000.0); got != want {
		t.Fatalf("liquidity = %v, want %v", got, want)
	}
	if vec[16] != 42 || vec[17] != 0.001 {
		t.Fatalf("market tail wrong: %v", vec[15:])
	}
}

func TestBuildNilMarketZeroFills(t *testing.T) {
	b := NewBuilder()

	vec, err := b.Build(testBucket(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vec[15] != 0 || vec[16] != 0 || vec[17] != 0 {
		t.Fatalf("nil market must zero the tail, got %v", vec[15:])
	}
}

func TestBuildNilBucketFails(t *testing.T) {
	b := NewBuilder()
	if _, err := b.Build(nil, nil); err == nil {
		t.Fatalf("nil bucket must error")
	}
}

func TestBuildDeterministic(t *testing.T) {
	b := NewBuilder()
	bucket := testBucket()

	v1, err := b.Build(bucket, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, _ := b.Build(bucket, nil)
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("vector differs at %d: %v vs %v", i, v1[i], v2[i])
		}
	}
}

func TestFeatureNamesMatchCount(t *testing.T) {
	if len(models.FeatureNames) != models.FeatureCount {
		t.Fatalf("feature names = %d, count = %d", len(models.FeatureNames), models.FeatureCount)
	}
}
