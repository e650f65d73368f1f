package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

type TreeTask string

const (
	TaskClassification TreeTask = "classification"
	TaskRegression     TreeTask = "regression"
)

// TreeNode is one node of a tree stored as a flat slice. Leaves carry Value:
// class frequencies for classification, a single mean for regression.
type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	Value      []float64 `json:"value,omitempty"`
	IsLeaf     bool      `json:"is_leaf"`
}

type TreeConfig struct {
	MaxDepth       int `json:"max_depth"`
	MinSamplesLeaf int `json:"min_samples_leaf"`
	MaxFeatures    int `json:"max_features"`
}

type DecisionTree struct {
	Task       TreeTask   `json:"task"`
	NumClasses int        `json:"num_classes,omitempty"`
	Config     TreeConfig `json:"config"`
	Nodes      []TreeNode `json:"nodes"`
}

// fit grows the tree on the rows of features selected by idx; idx may repeat
// rows, which is how bootstrap samples are passed in. Class targets are
// column positions (0..NumClasses-1) carried as float64.
func (dt *DecisionTree) fit(features [][]float64, targets []float64, idx []int, rng *rand.Rand) error {
	if len(features) == 0 || len(idx) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and labels size mismatch")
	}
	if dt.Task == TaskClassification && dt.NumClasses <= 0 {
		return errors.New("classification tree needs class count")
	}
	if dt.Config.MinSamplesLeaf <= 0 {
		dt.Config.MinSamplesLeaf = 1
	}
	width := len(features[0])
	if dt.Config.MaxFeatures <= 0 || dt.Config.MaxFeatures > width {
		dt.Config.MaxFeatures = width
	}

	b := &treeBuilder{
		tree:     dt,
		features: features,
		targets:  targets,
		rng:      rng,
		width:    width,
	}
	dt.Nodes = dt.Nodes[:0]
	rows := append([]int(nil), idx...)
	b.build(rows, 0)
	return nil
}

func (dt *DecisionTree) leaf(features []float64) (*TreeNode, error) {
	if len(dt.Nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	idx := 0
	for {
		node := &dt.Nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.Nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	if dt.Task != TaskClassification {
		return nil, errors.New("tree is not a classifier")
	}
	node, err := dt.leaf(features)
	if err != nil {
		return nil, err
	}
	if len(node.Value) != dt.NumClasses {
		return nil, errors.New("invalid leaf distribution")
	}
	return node.Value, nil
}

func (dt *DecisionTree) PredictValue(features []float64) (float64, error) {
	if dt.Task != TaskRegression {
		return 0, errors.New("tree is not a regressor")
	}
	node, err := dt.leaf(features)
	if err != nil {
		return 0, err
	}
	if len(node.Value) != 1 {
		return 0, errors.New("invalid leaf value")
	}
	return node.Value[0], nil
}

type treeBuilder struct {
	tree     *DecisionTree
	features [][]float64
	targets  []float64
	rng      *rand.Rand
	width    int
}

func (b *treeBuilder) build(rows []int, depth int) int {
	nodeIdx := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, TreeNode{FeatureIdx: -1, LeftChild: -1, RightChild: -1})

	cfg := b.tree.Config
	stop := len(rows) < 2*cfg.MinSamplesLeaf ||
		(cfg.MaxDepth > 0 && depth >= cfg.MaxDepth) ||
		b.isPure(rows)
	if !stop {
		if feature, threshold, ok := b.findBestSplit(rows); ok {
			left, right := partition(b.features, rows, feature, threshold)
			leftIdx := b.build(left, depth+1)
			rightIdx := b.build(right, depth+1)
			b.tree.Nodes[nodeIdx] = TreeNode{
				FeatureIdx: feature,
				Threshold:  threshold,
				LeftChild:  leftIdx,
				RightChild: rightIdx,
			}
			return nodeIdx
		}
	}

	b.tree.Nodes[nodeIdx] = TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      b.leafValue(rows),
		IsLeaf:     true,
	}
	return nodeIdx
}

func (b *treeBuilder) leafValue(rows []int) []float64 {
	if b.tree.Task == TaskClassification {
		dist := make([]float64, b.tree.NumClasses)
		for _, r := range rows {
			dist[int(b.targets[r])]++
		}
		for i := range dist {
			dist[i] /= float64(len(rows))
		}
		return dist
	}
	sum := 0.0
	for _, r := range rows {
		sum += b.targets[r]
	}
	return []float64{sum / float64(len(rows))}
}

func (b *treeBuilder) isPure(rows []int) bool {
	first := b.targets[rows[0]]
	for _, r := range rows[1:] {
		if b.targets[r] != first {
			return false
		}
	}
	return true
}

// findBestSplit draws MaxFeatures candidate columns and scans every midpoint
// between consecutive distinct values for the lowest weighted impurity. As
// in the usual random forest formulation, the search keeps drawing past
// MaxFeatures while no candidate column could be split at all.
func (b *treeBuilder) findBestSplit(rows []int) (int, float64, bool) {
	minLeaf := b.tree.Config.MinSamplesLeaf
	order := b.rng.Perm(b.width)

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64
	sorted := make([]int, len(rows))

	for visited, feature := range order {
		if visited >= b.tree.Config.MaxFeatures && bestFeature >= 0 {
			break
		}
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.features[sorted[i]][feature] < b.features[sorted[j]][feature]
		})
		if b.features[sorted[0]][feature] == b.features[sorted[len(sorted)-1]][feature] {
			continue
		}

		acc := newSplitAccumulator(b.tree, b.targets, sorted)
		for i := 0; i < len(sorted)-1; i++ {
			acc.moveLeft(b.targets[sorted[i]])
			leftCount := i + 1
			if leftCount < minLeaf || len(sorted)-leftCount < minLeaf {
				continue
			}
			lo := b.features[sorted[i]][feature]
			hi := b.features[sorted[i+1]][feature]
			if lo == hi {
				continue
			}
			impurity := acc.impurity()
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = feature
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold == hi {
					bestThreshold = lo
				}
			}
		}
	}

	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func partition(features [][]float64, rows []int, feature int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, r := range rows {
		if features[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return left, right
}

// splitAccumulator tracks left/right statistics while a sorted column is
// swept, so each candidate threshold costs O(classes).
type splitAccumulator struct {
	classification bool
	leftCounts     []float64
	rightCounts    []float64
	leftSum        float64
	leftSumSq      float64
	rightSum       float64
	rightSumSq     float64
	leftN          float64
	rightN         float64
}

func newSplitAccumulator(tree *DecisionTree, targets []float64, rows []int) *splitAccumulator {
	acc := &splitAccumulator{classification: tree.Task == TaskClassification}
	if acc.classification {
		acc.leftCounts = make([]float64, tree.NumClasses)
		acc.rightCounts = make([]float64, tree.NumClasses)
	}
	for _, r := range rows {
		y := targets[r]
		acc.rightN++
		if acc.classification {
			acc.rightCounts[int(y)]++
		} else {
			acc.rightSum += y
			acc.rightSumSq += y * y
		}
	}
	return acc
}

func (a *splitAccumulator) moveLeft(y float64) {
	a.leftN++
	a.rightN--
	if a.classification {
		a.leftCounts[int(y)]++
		a.rightCounts[int(y)]--
		return
	}
	a.leftSum += y
	a.leftSumSq += y * y
	a.rightSum -= y
	a.rightSumSq -= y * y
}

func (a *splitAccumulator) impurity() float64 {
	total := a.leftN + a.rightN
	if a.classification {
		return (a.leftN/total)*gini(a.leftCounts, a.leftN) + (a.rightN/total)*gini(a.rightCounts, a.rightN)
	}
	return (a.leftN/total)*variance(a.leftSum, a.leftSumSq, a.leftN) +
		(a.rightN/total)*variance(a.rightSum, a.rightSumSq, a.rightN)
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := count / n
		impurity -= prob * prob
	}
	return impurity
}

func variance(sum, sumSq, n float64) float64 {
	if n == 0 {
		return 0
	}
	mean := sum / n
	v := sumSq/n - mean*mean
	if v < 0 {
		return 0
	}
	return v
}
