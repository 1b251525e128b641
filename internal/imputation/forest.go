package imputation

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
)

// ForestConfig controls quantile forest training
type ForestConfig struct {
	Trees          int     `json:"trees"`            // Number of trees in the ensemble
	MaxDepth       int     `json:"max_depth"`        // Maximum tree depth
	MinLeafSize    int     `json:"min_leaf_size"`    // Minimum samples per leaf
	SampleFraction float64 `json:"sample_fraction"`  // Bootstrap fraction per tree
	Seed           uint64  `json:"seed"`             // 0 means unseeded (non-reproducible)
}

// DefaultForestConfig returns forest settings suitable for survey-sized
// training tables (tens of thousands of rows)
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:          50,
		MaxDepth:       12,
		MinLeafSize:    5,
		SampleFraction: 1.0,
		Seed:           0,
	}
}

// Validate checks forest configuration bounds
func (c ForestConfig) Validate() error {
	if c.Trees < 1 {
		return fmt.Errorf("trees must be at least 1, got %d", c.Trees)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max depth must be at least 1, got %d", c.MaxDepth)
	}
	if c.MinLeafSize < 1 {
		return fmt.Errorf("min leaf size must be at least 1, got %d", c.MinLeafSize)
	}
	if c.SampleFraction <= 0 || c.SampleFraction > 1 {
		return fmt.Errorf("sample fraction must be in (0, 1], got %g", c.SampleFraction)
	}
	return nil
}

// node is one split or leaf in a regression tree. Leaves keep the indices
// of their training rows so prediction can expose the full conditional
// distribution, not just a mean.
type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node
	samples   []int // non-nil marks a leaf
}

// tree is a single multi-output regression tree over bootstrap samples
type tree struct {
	root *node
}

// Forest is a quantile random forest: an ensemble of trees whose leaves
// retain training rows, so a predictor vector maps to an empirical
// conditional distribution over the output vector.
type Forest struct {
	trees   []*tree
	x       [][]float64
	y       [][]float64
	outputs int
}

// Fit trains a quantile forest on predictor matrix x (rows by features)
// and output matrix y (rows by outputs).
func Fit(x, y [][]float64, cfg ForestConfig) (*Forest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid forest config: %w", err)
	}
	if len(x) == 0 {
		return nil, fmt.Errorf("no training rows")
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("predictor rows (%d) and output rows (%d) differ", len(x), len(y))
	}

	rng := rand.New(rand.NewSource(forestSeed(cfg.Seed)))

	f := &Forest{
		trees:   make([]*tree, 0, cfg.Trees),
		x:       x,
		y:       y,
		outputs: len(y[0]),
	}

	sampleSize := int(math.Ceil(cfg.SampleFraction * float64(len(x))))
	featureCount := featureSubsetSize(len(x[0]))

	for i := 0; i < cfg.Trees; i++ {
		indices := make([]int, sampleSize)
		for j := range indices {
			indices[j] = rng.Intn(len(x))
		}
		tr := &tree{}
		tr.root = f.grow(indices, 0, cfg, featureCount, rng)
		f.trees = append(f.trees, tr)
	}
	return f, nil
}

// forestSeed maps the config seed to a source seed, drawing from entropy
// when reproducibility was not requested
func forestSeed(seed uint64) uint64 {
	if seed != 0 {
		return seed
	}
	return rand.Uint64()
}

// featureSubsetSize follows the usual sqrt(p) rule for regression forests
func featureSubsetSize(features int) int {
	size := int(math.Sqrt(float64(features)))
	if size < 1 {
		return 1
	}
	return size
}

// grow recursively builds a tree over the given sample indices
func (f *Forest) grow(indices []int, depth int, cfg ForestConfig, featureCount int, rng *rand.Rand) *node {
	if depth >= cfg.MaxDepth || len(indices) < 2*cfg.MinLeafSize {
		return &node{samples: indices}
	}

	feature, threshold, ok := f.bestSplit(indices, featureCount, cfg.MinLeafSize, rng)
	if !ok {
		return &node{samples: indices}
	}

	var left, right []int
	for _, idx := range indices {
		if f.x[idx][feature] <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	if len(left) < cfg.MinLeafSize || len(right) < cfg.MinLeafSize {
		return &node{samples: indices}
	}

	return &node{
		feature:   feature,
		threshold: threshold,
		left:      f.grow(left, depth+1, cfg, featureCount, rng),
		right:     f.grow(right, depth+1, cfg, featureCount, rng),
	}
}

// bestSplit searches a random feature subset for the split with the
// largest variance reduction summed across outputs
func (f *Forest) bestSplit(indices []int, featureCount, minLeaf int, rng *rand.Rand) (int, float64, bool) {
	features := len(f.x[0])
	perm := rng.Perm(features)[:featureCount]

	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	parentImpurity := f.impurity(indices)

	for _, feature := range perm {
		thresholds := f.candidateThresholds(indices, feature)
		for _, threshold := range thresholds {
			var left, right []int
			for _, idx := range indices {
				if f.x[idx][feature] <= threshold {
					left = append(left, idx)
				} else {
					right = append(right, idx)
				}
			}
			if len(left) < minLeaf || len(right) < minLeaf {
				continue
			}
			n := float64(len(indices))
			childImpurity := float64(len(left))/n*f.impurity(left) + float64(len(right))/n*f.impurity(right)
			gain := parentImpurity - childImpurity
			if gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestThreshold = threshold
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

// candidateThresholds returns up to ten evenly spaced split points over
// the feature's observed range in this node
func (f *Forest) candidateThresholds(indices []int, feature int) []float64 {
	values := make([]float64, 0, len(indices))
	for _, idx := range indices {
		values = append(values, f.x[idx][feature])
	}
	sort.Float64s(values)
	lo, hi := values[0], values[len(values)-1]
	if lo == hi {
		return nil
	}

	const maxCandidates = 10
	count := maxCandidates
	if len(values)-1 < count {
		count = len(values) - 1
	}
	thresholds := make([]float64, 0, count)
	for i := 1; i <= count; i++ {
		q := float64(i) / float64(count+1)
		thresholds = append(thresholds, lo+q*(hi-lo))
	}
	return thresholds
}

// impurity is the variance summed over output dimensions
func (f *Forest) impurity(indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	total := 0.0
	for out := 0; out < f.outputs; out++ {
		mean := 0.0
		for _, idx := range indices {
			mean += f.y[idx][out]
		}
		mean /= float64(len(indices))

		variance := 0.0
		for _, idx := range indices {
			d := f.y[idx][out] - mean
			variance += d * d
		}
		total += variance / float64(len(indices))
	}
	return total
}

// leafFor walks one tree to the leaf containing x
func (t *tree) leafFor(x []float64) *node {
	n := t.root
	for n.samples == nil {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

// PredictQuantiles evaluates the conditional distribution for one
// predictor vector at the requested quantiles, pooling training rows from
// every tree's matching leaf. Result is outputs by quantiles.
func (f *Forest) PredictQuantiles(x []float64, quantiles []float64) ([][]float64, error) {
	if len(x) != len(f.x[0]) {
		return nil, fmt.Errorf("predictor vector has %d features, forest trained on %d", len(x), len(f.x[0]))
	}

	pooled := make([]int, 0, len(f.trees)*8)
	for _, tr := range f.trees {
		pooled = append(pooled, tr.leafFor(x).samples...)
	}

	result := make([][]float64, f.outputs)
	values := make([]float64, len(pooled))
	for out := 0; out < f.outputs; out++ {
		for i, idx := range pooled {
			values[i] = f.y[idx][out]
		}
		sorted := make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)

		result[out] = make([]float64, len(quantiles))
		for qi, q := range quantiles {
			result[out][qi] = empiricalQuantile(sorted, q)
		}
	}
	return result, nil
}

// empiricalQuantile interpolates the q-th quantile of sorted values
func empiricalQuantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
