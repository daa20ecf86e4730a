package models

import "time"

// FeatureCount is the fixed length of every feature vector: the six bucket
// metrics, one probability per event type, and three market fields.
const FeatureCount = 6 + 9 + 3

// FeatureVector is a fixed-order slice of FeatureCount floats built from one
// bucket. It belongs to the prediction or training call that requested it.
type FeatureVector []float64

// FeatureNames gives the canonical name per vector position, for audit logs.
var FeatureNames = []string{
	"narrative_heat", "positive_heat", "negative_heat",
	"hype_velocity", "consensus", "risk_polarity",
	"p_listing", "p_partnership", "p_hack", "p_depeg", "p_regulatory",
	"p_funding", "p_tech", "p_market_note", "p_op_ed",
	"liquidity_usd_log", "trade_count_delta", "spread_estimate",
}

// ModelFamily selects the learner used for an asset.
type ModelFamily string

const (
	FamilyLinear       ModelFamily = "linear"
	FamilyTreeEnsemble ModelFamily = "tree-ensemble"
)

// Model is one trained model version for one asset. The active model is
// replaced atomically on retrain; superseded versions are history.
type Model struct {
	Asset            string
	Family           ModelFamily
	Version          int
	TrainedSamples   int
	CreatedAt        time.Time
	AccuracyEstimate float64
}

// Confidence buckets a prediction by distance from coin-flip.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Prediction is a derived, recomputable short-horizon direction estimate.
type Prediction struct {
	Asset         string
	Timestamp     time.Time
	ProbabilityUp float64 // [0, 1]
	Confidence    Confidence
	ModelVersion  int
	ModelFamily   ModelFamily
}

// Neutral reports whether the prediction carries no directional signal.
func (p Prediction) Neutral() bool {
	return p.ProbabilityUp == 0.5 && p.Confidence == ConfidenceLow
}

// TrainingSample pairs a feature vector with its realized outcome label.
type TrainingSample struct {
	Asset      string
	Features   FeatureVector
	Label      int // 1 if realized return exceeded the label threshold
	Return     float64
	ObservedAt time.Time
}
