package usecase

import (
	"context"
	"math"
	"testing"
	"time"

	"NarraTrade/internal/domain/models"
)

var windowBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func item(asset string, at time.Time, sentiment, trust, recency float64, novel bool, probs map[models.EventType]float64) *models.SignalItem {
	return &models.SignalItem{
		Asset:         asset,
		Timestamp:     at,
		Sentiment:     sentiment,
		EventProbs:    probs,
		SourceTrust:   trust,
		RecencyWeight: recency,
		Novel:         novel,
	}
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFoldHeatMetrics(t *testing.T) {
	agg := NewSignalAggregator(nil, nil, nil, WithWindow(5*time.Minute))

	// three items, weight 1.0 each (trust 1, recency 1, not novel)
	agg.Ingest(item("BTC", windowBase.Add(time.Minute), 0.5, 1, 1, false, nil))
	agg.Ingest(item("BTC", windowBase.Add(2*time.Minute), -0.2, 1, 1, false, nil))
	agg.Ingest(item("BTC", windowBase.Add(3*time.Minute), 0.8, 1, 1, false, nil))

	b := agg.CloseWindow(context.Background(), "BTC", windowBase.Add(5*time.Minute))
	if b == nil {
		t.Fatalf("expected sealed bucket")
	}
	if !almostEqual(b.NarrativeHeat, 1.1) {
		t.Fatalf("narrative heat = %v, want 1.1", b.NarrativeHeat)
	}
	if !almostEqual(b.PositiveHeat, 1.3) {
		t.Fatalf("positive heat = %v, want 1.3", b.PositiveHeat)
	}
	if !almostEqual(b.NegativeHeat, 0.2) {
		t.Fatalf("negative heat = %v, want 0.2", b.NegativeHeat)
	}
	if b.ItemCount != 3 {
		t.Fatalf("item count = %d, want 3", b.ItemCount)
	}
}

func TestNoveltyBonusAppliedToWeight(t *testing.T) {
	agg := NewSignalAggregator(nil, nil, nil, WithNoveltyBonus(1.5))

	agg.Ingest(item("ETH", windowBase.Add(time.Minute), 1.0, 1, 1, true, nil))
	b := agg.CloseWindow(context.Background(), "ETH", windowBase.Add(5*time.Minute))
	if !almostEqual(b.NarrativeHeat, 1.5) {
		t.Fatalf("novel item heat = %v, want 1.5", b.NarrativeHeat)
	}
}

func TestCloseWindowIdempotent(t *testing.T) {
	agg := NewSignalAggregator(nil, nil, nil)

	agg.Ingest(item("BTC", windowBase.Add(time.Minute), 0.4, 1, 1, false, nil))
	end := windowBase.Add(5 * time.Minute)

	b1 := agg.CloseWindow(context.Background(), "BTC", end)

	// a late item for the sealed window must not change the bucket
	agg.Ingest(item("BTC", windowBase.Add(2*time.Minute), 0.9, 1, 1, false, nil))
	b2 := agg.CloseWindow(context.Background(), "BTC", end)

	if b1 != b2 {
		t.Fatalf("expected cached bucket on repeat seal")
	}
	if !almostEqual(b2.NarrativeHeat, 0.4) {
		t.Fatalf("sealed bucket recomputed: heat = %v", b2.NarrativeHeat)
	}
}

func TestEmptyWindowSealsZeroBucket(t *testing.T) {
	agg := NewSignalAggregator(nil, nil, nil)

	b := agg.CloseWindow(context.Background(), "BTC", windowBase.Add(5*time.Minute))
	if b == nil {
		t.Fatalf("empty window must still seal")
	}
	if b.NarrativeHeat != 0 || b.ItemCount != 0 {
		t.Fatalf("expected zero bucket, got heat=%v count=%d", b.NarrativeHeat, b.ItemCount)
	}
}

func TestHypeVelocityAgainstPriorBucket(t *testing.T) {
	agg := NewSignalAggregator(nil, nil, nil, WithWindow(5*time.Minute))

	agg.Ingest(item("BTC", windowBase.Add(time.Minute), 0.5, 1, 1, false, nil))
	first := agg.CloseWindow(context.Background(), "BTC", windowBase.Add(5*time.Minute))
	if first.HypeVelocity != 0 {
		t.Fatalf("first bucket has no prior, velocity = %v", first.HypeVelocity)
	}

	agg.Ingest(item("BTC", windowBase.Add(6*time.Minute), 1.0, 1, 1, false, nil))
	second := agg.CloseWindow(context.Background(), "BTC", windowBase.Add(10*time.Minute))

	// denominator floors at 1 when |prior heat| < 1
	want := (1.0 - 0.5) / 1.0
	if !almostEqual(second.HypeVelocity, want) {
		t.Fatalf("velocity = %v, want %v", second.HypeVelocity, want)
	}
}

func TestMalformedItemsDroppedNotErrored(t *testing.T) {
	agg := NewSignalAggregator(nil, nil, nil)

	agg.Ingest(nil)
	agg.Ingest(item("", windowBase, 0.1, 1, 1, false, nil))
	agg.Ingest(item("BTC", time.Time{}, 0.1, 1, 1, false, nil))
	agg.Ingest(item("BTC", windowBase, 1.5, 1, 1, false, nil))     // sentiment out of range
	agg.Ingest(item("BTC", windowBase, 0.1, -1, 1, false, nil))    // negative trust
	agg.Ingest(item("BTC", windowBase, 0.1, 1, 0, false, nil))     // recency out of range
	agg.Ingest(item("BTC", windowBase, 0.1, 1, 1, false, map[models.EventType]float64{
		models.EventListing: 0.7,
		models.EventHack:    0.7,
	})) // probs exceed one

	if got := agg.DroppedCount(); got != 7 {
		t.Fatalf("dropped = %d, want 7", got)
	}
	b := agg.CloseWindow(context.Background(), "BTC", windowBase.Add(5*time.Minute))
	if b.ItemCount != 0 {
		t.Fatalf("malformed items must not enter buckets, count = %d", b.ItemCount)
	}
}

func TestEventDistributionAndConsensus(t *testing.T) {
	agg := NewSignalAggregator(nil, nil, nil)

	agg.Ingest(item("SOL", windowBase.Add(time.Minute), 0.6, 1, 1, false, map[models.EventType]float64{
		models.EventListing: 0.8,
	}))
	agg.Ingest(item("SOL", windowBase.Add(2*time.Minute), 0.2, 1, 1, false, map[models.EventType]float64{
		models.EventListing: 0.4,
		models.EventHack:    0.2,
	}))

	b := agg.CloseWindow(context.Background(), "SOL", windowBase.Add(5*time.Minute))
	if b.TopEvent != models.EventListing {
		t.Fatalf("top event = %v, want listing", b.TopEvent)
	}
	if !almostEqual(b.EventDistribution[models.EventListing], 0.6) {
		t.Fatalf("listing prob = %v, want 0.6", b.EventDistribution[models.EventListing])
	}
	if !almostEqual(b.Consensus, 0.6) {
		t.Fatalf("consensus = %v, want 0.6", b.Consensus)
	}
}

func TestRiskPolaritySign(t *testing.T) {
	agg := NewSignalAggregator(nil, nil, nil)

	agg.Ingest(item("XRP", windowBase.Add(time.Minute), -0.5, 1, 1, false, map[models.EventType]float64{
		models.EventHack: 0.9,
	}))
	riskBucket := agg.CloseWindow(context.Background(), "XRP", windowBase.Add(5*time.Minute))
	if riskBucket.RiskPolarity >= 0 {
		t.Fatalf("hack-dominated window should have negative polarity, got %v", riskBucket.RiskPolarity)
	}

	agg.Ingest(item("DOT", windowBase.Add(time.Minute), 0.5, 1, 1, false, map[models.EventType]float64{
		models.EventPartnership: 0.9,
	}))
	posBucket := agg.CloseWindow(context.Background(), "DOT", windowBase.Add(5*time.Minute))
	if posBucket.RiskPolarity <= 0 {
		t.Fatalf("partnership-dominated window should have positive polarity, got %v", posBucket.RiskPolarity)
	}
}

func TestCloseDueSealsElapsedWindowsOnly(t *testing.T) {
	agg := NewSignalAggregator(nil, nil, nil, WithWindow(5*time.Minute))

	agg.Ingest(item("BTC", windowBase.Add(time.Minute), 0.3, 1, 1, false, nil))
	agg.Ingest(item("BTC", windowBase.Add(7*time.Minute), 0.3, 1, 1, false, nil))

	sealed := agg.CloseDue(context.Background(), windowBase.Add(5*time.Minute))
	if len(sealed) != 1 {
		t.Fatalf("sealed %d windows, want 1", len(sealed))
	}
	if latest := agg.Latest("BTC"); latest == nil || !latest.WindowStart.Equal(windowBase) {
		t.Fatalf("unexpected latest bucket")
	}
}

func TestSealedHistoryBounded(t *testing.T) {
	agg := NewSignalAggregator(nil, nil, nil, WithWindow(time.Minute), WithMaxSealedPerAsset(3))

	for i := 0; i < 5; i++ {
		end := windowBase.Add(time.Duration(i+1) * time.Minute)
		agg.Ingest(item("BTC", end.Add(-30*time.Second), 0.1, 1, 1, false, nil))
		agg.CloseWindow(context.Background(), "BTC", end)
	}

	latest := agg.Latest("BTC")
	if latest == nil || !latest.WindowStart.Equal(windowBase.Add(4*time.Minute)) {
		t.Fatalf("latest bucket wrong after trimming")
	}
}
