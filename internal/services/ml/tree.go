package ml

import (
	"math/rand"

	"NarraTrade/internal/domain/models"
)

// TreeEnsemble is a bagged forest of depth-limited decision trees. It becomes
// the active family once an asset has enough labeled history to support it.
type TreeEnsemble struct {
	trees    []*treeNode
	numTrees int
	maxDepth int
	minLeaf  int
	rng      *rand.Rand
}

type treeNode struct {
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
	prob      float64
	leaf      bool
}

// EnsembleOption configures TreeEnsemble.
type EnsembleOption func(*TreeEnsemble)

func WithTrees(n int) EnsembleOption {
	return func(e *TreeEnsemble) { e.numTrees = n }
}

func WithMaxDepth(d int) EnsembleOption {
	return func(e *TreeEnsemble) { e.maxDepth = d }
}

func WithMinLeaf(n int) EnsembleOption {
	return func(e *TreeEnsemble) { e.minLeaf = n }
}

func WithSeed(seed int64) EnsembleOption {
	return func(e *TreeEnsemble) { e.rng = rand.New(rand.NewSource(seed)) }
}

func NewTreeEnsemble(opts ...EnsembleOption) *TreeEnsemble {
	e := &TreeEnsemble{
		numTrees: 25,
		maxDepth: 4,
		minLeaf:  5,
		rng:      rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fit grows the forest from bootstrap resamples of the training buffer.
func (e *TreeEnsemble) Fit(samples []models.TrainingSample) {
	if len(samples) == 0 {
		return
	}
	e.trees = make([]*treeNode, 0, e.numTrees)
	for t := 0; t < e.numTrees; t++ {
		boot := make([]models.TrainingSample, len(samples))
		for i := range boot {
			boot[i] = samples[e.rng.Intn(len(samples))]
		}
		e.trees = append(e.trees, e.grow(boot, 0))
	}
}

// Predict averages the per-tree leaf probabilities.
func (e *TreeEnsemble) Predict(features models.FeatureVector) float64 {
	if len(e.trees) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, t := range e.trees {
		sum += t.eval(features)
	}
	return sum / float64(len(e.trees))
}

func (e *TreeEnsemble) Family() models.ModelFamily { return models.FamilyTreeEnsemble }

func (e *TreeEnsemble) grow(samples []models.TrainingSample, depth int) *treeNode {
	if depth >= e.maxDepth || len(samples) <= e.minLeaf*2 || pure(samples) {
		return &treeNode{leaf: true, prob: upFraction(samples)}
	}

	feature, threshold, ok := e.bestSplit(samples)
	if !ok {
		return &treeNode{leaf: true, prob: upFraction(samples)}
	}

	var left, right []models.TrainingSample
	for _, s := range samples {
		if s.Features[feature] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	if len(left) < e.minLeaf || len(right) < e.minLeaf {
		return &treeNode{leaf: true, prob: upFraction(samples)}
	}

	return &treeNode{
		feature:   feature,
		threshold: threshold,
		left:      e.grow(left, depth+1),
		right:     e.grow(right, depth+1),
	}
}

// bestSplit scans a random subset of features and a handful of candidate
// thresholds per feature, minimizing weighted Gini impurity.
func (e *TreeEnsemble) bestSplit(samples []models.TrainingSample) (int, float64, bool) {
	n := len(samples[0].Features)
	tryFeatures := n / 2
	if tryFeatures < 1 {
		tryFeatures = 1
	}

	bestGini := giniOf(samples)
	bestFeature, bestThreshold := -1, 0.0

	perm := e.rng.Perm(n)
	for _, f := range perm[:tryFeatures] {
		for trial := 0; trial < 8; trial++ {
			pivot := samples[e.rng.Intn(len(samples))].Features[f]
			var left, right []models.TrainingSample
			for _, s := range samples {
				if s.Features[f] <= pivot {
					left = append(left, s)
				} else {
					right = append(right, s)
				}
			}
			if len(left) == 0 || len(right) == 0 {
				continue
			}
			total := float64(len(samples))
			g := float64(len(left))/total*giniOf(left) + float64(len(right))/total*giniOf(right)
			if g < bestGini {
				bestGini = g
				bestFeature = f
				bestThreshold = pivot
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func (t *treeNode) eval(features models.FeatureVector) float64 {
	for !t.leaf {
		if t.feature < len(features) && features[t.feature] <= t.threshold {
			t = t.left
		} else {
			t = t.right
		}
	}
	return t.prob
}

func upFraction(samples []models.TrainingSample) float64 {
	if len(samples) == 0 {
		return 0.5
	}
	up := 0
	for _, s := range samples {
		if s.Label == 1 {
			up++
		}
	}
	return float64(up) / float64(len(samples))
}

func pure(samples []models.TrainingSample) bool {
	frac := upFraction(samples)
	return frac == 0 || frac == 1
}

func giniOf(samples []models.TrainingSample) float64 {
	p := upFraction(samples)
	return 2 * p * (1 - p)
}
