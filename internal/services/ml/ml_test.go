package ml

import (
	"math"
	"testing"

	"NarraTrade/internal/domain/models"
)

// separable builds n samples where the sign of the first feature decides the
// label, with the rest of the vector as low-level noise.
func separable(n int) []models.TrainingSample {
	samples := make([]models.TrainingSample, 0, n)
	for i := 0; i < n; i++ {
		vec := make(models.FeatureVector, models.FeatureCount)
		x := math.Sin(float64(i) * 1.7)
		vec[0] = x
		for j := 1; j < len(vec); j++ {
			vec[j] = 0.01 * math.Cos(float64(i+j))
		}
		label := 0
		if x > 0 {
			label = 1
		}
		samples = append(samples, models.TrainingSample{Features: vec, Label: label})
	}
	return samples
}

func accuracy(l Learner, samples []models.TrainingSample) float64 {
	correct := 0
	for _, s := range samples {
		if (l.Predict(s.Features) > 0.5) == (s.Label == 1) {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}

func TestLinearModelLearnsSeparableData(t *testing.T) {
	samples := separable(200)
	m := NewLinearModel()
	m.Fit(samples)

	if acc := accuracy(m, samples); acc < 0.9 {
		t.Fatalf("linear accuracy = %v on separable data, want >= 0.9", acc)
	}
}

func TestLinearModelOutputsProbability(t *testing.T) {
	m := NewLinearModel()
	m.Fit(separable(100))

	vec := make(models.FeatureVector, models.FeatureCount)
	for _, x := range []float64{-5, -1, 0, 1, 5} {
		vec[0] = x
		p := m.Predict(vec)
		if p < 0 || p > 1 {
			t.Fatalf("predict(%v) = %v out of [0,1]", x, p)
		}
	}
}

func TestLinearModelUntrainedIsNeutral(t *testing.T) {
	m := NewLinearModel()
	vec := make(models.FeatureVector, models.FeatureCount)
	if p := m.Predict(vec); p != 0.5 {
		t.Fatalf("untrained model on zero vector = %v, want 0.5", p)
	}
}

func TestTreeEnsembleLearnsSeparableData(t *testing.T) {
	samples := separable(300)
	e := NewTreeEnsemble(WithSeed(7))
	e.Fit(samples)

	if acc := accuracy(e, samples); acc < 0.85 {
		t.Fatalf("ensemble accuracy = %v on separable data, want >= 0.85", acc)
	}
}

func TestTreeEnsembleDeterministicWithSeed(t *testing.T) {
	samples := separable(150)

	a := NewTreeEnsemble(WithSeed(42))
	a.Fit(samples)
	b := NewTreeEnsemble(WithSeed(42))
	b.Fit(samples)

	vec := make(models.FeatureVector, models.FeatureCount)
	vec[0] = 0.3
	if pa, pb := a.Predict(vec), b.Predict(vec); pa != pb {
		t.Fatalf("same seed, different predictions: %v vs %v", pa, pb)
	}
}

func TestTreeEnsembleEmptyFit(t *testing.T) {
	e := NewTreeEnsemble(WithSeed(1))
	e.Fit(nil)
	vec := make(models.FeatureVector, models.FeatureCount)
	if p := e.Predict(vec); p != 0.5 {
		t.Fatalf("empty-fit ensemble = %v, want neutral 0.5", p)
	}
}

func TestForFamily(t *testing.T) {
	if f := ForFamily(models.FamilyLinear).Family(); f != models.FamilyLinear {
		t.Fatalf("family = %v", f)
	}
	if f := ForFamily(models.FamilyTreeEnsemble).Family(); f != models.FamilyTreeEnsemble {
		t.Fatalf("family = %v", f)
	}
}
