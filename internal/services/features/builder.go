package features

import (
	"fmt"
	"math"

	"NarraTrade/internal/domain/models"
)

// Builder turns a sealed bucket plus optional market data into the fixed
// feature vector the prediction models consume. Building is pure: the same
// inputs always produce the same vector, and no state is kept between calls.
type Builder struct{}

func NewBuilder() *Builder { return &Builder{} }

// Build assembles the vector in the canonical order. A nil market snapshot
// zeroes the market block rather than failing the whole prediction.
func (b *Builder) Build(bucket *models.Bucket, market *models.MarketData) (models.FeatureVector, error) {
	if bucket == nil {
		return nil, fmt.Errorf("features: nil bucket")
	}

	vec := make(models.FeatureVector, 0, models.FeatureCount)
	vec = append(vec,
		bucket.NarrativeHeat,
		bucket.PositiveHeat,
		bucket.NegativeHeat,
		bucket.HypeVelocity,
		bucket.Consensus,
		bucket.RiskPolarity,
	)

	for _, et := range models.EventTypes {
		vec = append(vec, bucket.EventDistribution[et])
	}

	if market != nil {
		vec = append(vec,
			math.Log1p(math.Max(market.LiquidityUSD, 1)),
			market.TradeCountDelta,
			market.SpreadEstimate,
		)
	} else {
		vec = append(vec, 0, 0, 0)
	}

	if len(vec) != models.FeatureCount {
		return nil, fmt.Errorf("features: built %d features, want %d", len(vec), models.FeatureCount)
	}
	return vec, nil
}
