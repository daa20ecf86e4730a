package ml

import "NarraTrade/internal/domain/models"

// Learner is a direction classifier. Fit replaces the learned parameters
// from the full sample buffer; Predict is safe to call concurrently with
// other Predicts but not with Fit, so callers swap whole learners on retrain.
type Learner interface {
	Fit(samples []models.TrainingSample)
	Predict(features models.FeatureVector) float64
	Family() models.ModelFamily
}

// ForFamily builds a fresh untrained learner of the given family.
func ForFamily(family models.ModelFamily) Learner {
	if family == models.FamilyTreeEnsemble {
		return NewTreeEnsemble()
	}
	return NewLinearModel()
}
