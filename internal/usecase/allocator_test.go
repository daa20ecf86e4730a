package usecase

import (
	"testing"

	"NarraTrade/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pred(asset string, prob float64) models.Prediction {
	return models.Prediction{Asset: asset, ProbabilityUp: prob}
}

func snapshot(total float64, positions map[string]float64) *models.PortfolioSnapshot {
	s := &models.PortfolioSnapshot{
		Owner:         "desk",
		Positions:     make(map[string]models.Position),
		TotalValueUSD: total,
	}
	for asset, usd := range positions {
		s.Positions[asset] = models.Position{Asset: asset, ValueUSD: usd}
	}
	return s
}

func TestTargetWeightsRenormalize(t *testing.T) {
	alloc := NewPortfolioAllocator(nil, WithMaxWeight(1)) // no cap for this case

	weights := alloc.TargetWeights([]models.Prediction{
		pred("A", 0.8), pred("B", 0.6), pred("C", 0.4),
	})

	require.Len(t, weights, 3)
	assert.InDelta(t, 0.8/1.8, weights["A"], 1e-9)
	assert.InDelta(t, 0.6/1.8, weights["B"], 1e-9)
	assert.InDelta(t, 0.4/1.8, weights["C"], 1e-9)
}

func TestTargetWeightsTopNTruncation(t *testing.T) {
	alloc := NewPortfolioAllocator(nil, WithTopN(2), WithMaxWeight(1))

	weights := alloc.TargetWeights([]models.Prediction{
		pred("A", 0.9), pred("B", 0.7), pred("C", 0.5),
	})

	require.Len(t, weights, 2)
	_, hasC := weights["C"]
	assert.False(t, hasC, "asset outside top-N must not get a weight")
	assert.InDelta(t, 0.9/1.6, weights["A"], 1e-9)
}

func TestTargetWeightsCapRedistribution(t *testing.T) {
	alloc := NewPortfolioAllocator(nil, WithMaxWeight(0.30))

	weights := alloc.TargetWeights([]models.Prediction{
		pred("A", 0.9), pred("B", 0.2), pred("C", 0.2), pred("D", 0.2), pred("E", 0.2),
	})

	sum := 0.0
	for asset, w := range weights {
		assert.LessOrEqual(t, w, 0.30+1e-9, "weight for %s exceeds cap", asset)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9, "weights must still sum to one")
	assert.InDelta(t, 0.30, weights["A"], 1e-9)
}

func TestTargetWeightsAllCapped(t *testing.T) {
	alloc := NewPortfolioAllocator(nil, WithMaxWeight(0.30))

	// two assets cannot absorb each other's excess; both stay at the cap
	weights := alloc.TargetWeights([]models.Prediction{pred("A", 0.5), pred("B", 0.5)})
	assert.InDelta(t, 0.30, weights["A"], 1e-9)
	assert.InDelta(t, 0.30, weights["B"], 1e-9)
}

func TestTargetWeightsZeroTotal(t *testing.T) {
	alloc := NewPortfolioAllocator(nil)
	weights := alloc.TargetWeights([]models.Prediction{pred("A", 0), pred("B", 0)})
	assert.Empty(t, weights)
}

func TestAllocateEmitsDiffTrades(t *testing.T) {
	alloc := NewPortfolioAllocator(nil, WithMaxWeight(1))

	snap := snapshot(10000, map[string]float64{"A": 5000, "B": 5000})
	intents := alloc.Allocate("desk", []models.Prediction{pred("A", 0.6), pred("B", 0.2)}, snap)

	require.Len(t, intents, 2)
	// sells execute before buys
	assert.Equal(t, models.DirectionSell, intents[0].Direction)
	assert.Equal(t, "B", intents[0].Asset)
	assert.Equal(t, models.DirectionBuy, intents[1].Direction)
	assert.Equal(t, "A", intents[1].Asset)
	assert.InDelta(t, 2500, intents[0].AmountUSD, 1e-6)
	assert.Equal(t, models.IntentPending, intents[0].Status)
}

func TestAllocateDropsDustTrades(t *testing.T) {
	alloc := NewPortfolioAllocator(nil, WithMaxWeight(1), WithMinNotional(10), WithTolerance(0.0001))

	// $4 of drift on a $1000 book stays untraded
	snap := snapshot(1000, map[string]float64{"A": 496, "B": 500})
	intents := alloc.Allocate("desk", []models.Prediction{pred("A", 0.5), pred("B", 0.5)}, snap)
	assert.Empty(t, intents, "sub-notional trades must be dropped")
}

func TestAllocateSellsUntargetedHoldingToZero(t *testing.T) {
	alloc := NewPortfolioAllocator(nil, WithMaxWeight(1))

	snap := snapshot(10000, map[string]float64{"OLD": 2000, "A": 8000})
	intents := alloc.Allocate("desk", []models.Prediction{pred("A", 0.7)}, snap)

	var sell *models.TradeIntent
	for _, in := range intents {
		if in.Asset == "OLD" {
			sell = in
		}
	}
	require.NotNil(t, sell, "held asset outside the universe must be sold")
	assert.Equal(t, models.DirectionSell, sell.Direction)
	assert.InDelta(t, 2000, sell.AmountUSD, 1e-6)
	assert.Equal(t, 0.0, sell.TargetWeight)
}

func TestAllocateToleranceBand(t *testing.T) {
	alloc := NewPortfolioAllocator(nil, WithMaxWeight(1), WithTolerance(0.005))

	// 0.4% drift sits inside the band
	snap := snapshot(10000, map[string]float64{"A": 4960, "B": 5040})
	intents := alloc.Allocate("desk", []models.Prediction{pred("A", 0.5), pred("B", 0.5)}, snap)
	assert.Empty(t, intents)
}

func TestAllocateNilSnapshot(t *testing.T) {
	alloc := NewPortfolioAllocator(nil)
	assert.Nil(t, alloc.Allocate("desk", []models.Prediction{pred("A", 0.6)}, nil))
	assert.Nil(t, alloc.Allocate("desk", []models.Prediction{pred("A", 0.6)}, snapshot(0, nil)))
}

func TestAllocateDeterministic(t *testing.T) {
	alloc := NewPortfolioAllocator(nil, WithMaxWeight(1))
	preds := []models.Prediction{pred("A", 0.8), pred("B", 0.4), pred("C", 0.2)}
	snap := snapshot(10000, map[string]float64{"A": 1000, "B": 4000, "C": 5000})

	first := alloc.Allocate("desk", preds, snap)
	second := alloc.Allocate("desk", preds, snap)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Asset, second[i].Asset)
		assert.Equal(t, first[i].Direction, second[i].Direction)
		assert.InDelta(t, first[i].AmountUSD, second[i].AmountUSD, 1e-9)
	}
}

func TestAllocateAssignsUniqueIntentIDs(t *testing.T) {
	alloc := NewPortfolioAllocator(nil, WithMaxWeight(1))
	snap := snapshot(10000, map[string]float64{"A": 1000, "B": 9000})

	intents := alloc.Allocate("desk", []models.Prediction{pred("A", 0.6), pred("B", 0.4)}, snap)
	require.NotEmpty(t, intents)

	seen := make(map[string]bool)
	for _, in := range intents {
		require.NotEmpty(t, in.ID, "every intent needs an id for execution dedup")
		assert.False(t, seen[in.ID], "intent ids must be unique")
		seen[in.ID] = true
	}
}

func TestMaxDeviationCoversUntargetedHoldings(t *testing.T) {
	alloc := NewPortfolioAllocator(nil, WithMaxWeight(1))

	snap := snapshot(10000, map[string]float64{"OLD": 3000, "A": 7000})
	dev := alloc.MaxDeviation([]models.Prediction{pred("A", 0.7)}, snap)

	// A's gap is |1.0 - 0.7| = 0.3 and OLD's is 0.3; either way 0.3
	assert.InDelta(t, 0.3, dev, 1e-9)
	assert.Equal(t, 0.0, alloc.MaxDeviation(nil, nil))
}

func TestIntentAdvanceForwardOnly(t *testing.T) {
	in := &models.TradeIntent{Status: models.IntentPending}
	assert.True(t, in.Advance(models.IntentSubmitted))
	assert.False(t, in.Advance(models.IntentPending), "backward transition must be rejected")
	assert.True(t, in.Advance(models.IntentConfirmed))
	assert.False(t, in.Advance(models.IntentFailed), "terminal states stay terminal")
	assert.Equal(t, models.IntentConfirmed, in.Status)
}
