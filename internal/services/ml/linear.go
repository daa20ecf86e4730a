package ml

import (
	"math"
	"math/rand"

	"NarraTrade/internal/domain/models"
)

// LinearModel is a logistic-regression direction classifier trained with
// plain SGD. It is the early-sample family: cheap to fit, hard to overfit.
type LinearModel struct {
	weights []float64
	bias    float64

	learningRate float64
	l2           float64
	epochs       int
}

// LinearOption configures LinearModel.
type LinearOption func(*LinearModel)

func WithLearningRate(lr float64) LinearOption {
	return func(m *LinearModel) { m.learningRate = lr }
}

func WithL2(l2 float64) LinearOption {
	return func(m *LinearModel) { m.l2 = l2 }
}

func WithEpochs(n int) LinearOption {
	return func(m *LinearModel) { m.epochs = n }
}

func NewLinearModel(opts ...LinearOption) *LinearModel {
	m := &LinearModel{
		weights:      make([]float64, models.FeatureCount),
		learningRate: 0.05,
		l2:           1e-4,
		epochs:       30,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Fit trains on the full sample buffer, shuffling each epoch.
func (m *LinearModel) Fit(samples []models.TrainingSample) {
	if len(samples) == 0 {
		return
	}
	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = i
	}
	for epoch := 0; epoch < m.epochs; epoch++ {
		rand.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx {
			s := samples[i]
			if len(s.Features) != len(m.weights) {
				continue
			}
			p := m.Predict(s.Features)
			grad := p - float64(s.Label)
			for j, x := range s.Features {
				m.weights[j] -= m.learningRate * (grad*x + m.l2*m.weights[j])
			}
			m.bias -= m.learningRate * grad
		}
	}
}

// Predict returns the probability of an up move.
func (m *LinearModel) Predict(features models.FeatureVector) float64 {
	z := m.bias
	for i, w := range m.weights {
		if i < len(features) {
			z += w * features[i]
		}
	}
	return sigmoid(z)
}

func (m *LinearModel) Family() models.ModelFamily { return models.FamilyLinear }

func sigmoid(z float64) float64 {
	if z > 30 {
		return 1
	}
	if z < -30 {
		return 0
	}
	return 1 / (1 + math.Exp(-z))
}
