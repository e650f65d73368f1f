package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultClassifierTrees = 200
	DefaultRegressorTrees  = 300
	DefaultSeed            = 42
)

type ForestConfig struct {
	NEstimators    int   `json:"n_estimators"`
	MaxDepth       int   `json:"max_depth"`
	MinSamplesLeaf int   `json:"min_samples_leaf"`
	Seed           int64 `json:"seed"`
	// Workers bounds how many trees are grown at once. Results do not depend
	// on it because every tree gets its own seed up front.
	Workers int `json:"-"`
}

type RandomForestClassifier struct {
	Config ForestConfig `json:"config"`
	// Classes maps probability columns to class codes: column i of
	// PredictProba is the probability of Classes[i]. Sorted ascending.
	Classes []int           `json:"classes"`
	Trees   []*DecisionTree `json:"trees"`
}

type RandomForestRegressor struct {
	Config ForestConfig     `json:"config"`
	Trees  []*DecisionTree `json:"trees"`
}

func NewRandomForestClassifier(cfg ForestConfig) *RandomForestClassifier {
	if cfg.NEstimators <= 0 {
		cfg.NEstimators = DefaultClassifierTrees
	}
	return &RandomForestClassifier{Config: cfg}
}

func NewRandomForestRegressor(cfg ForestConfig) *RandomForestRegressor {
	if cfg.NEstimators <= 0 {
		cfg.NEstimators = DefaultRegressorTrees
	}
	return &RandomForestRegressor{Config: cfg}
}

func (f *RandomForestClassifier) Fit(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}

	f.Classes = uniqueSorted(labels)
	column := make(map[int]int, len(f.Classes))
	for i, class := range f.Classes {
		column[class] = i
	}
	targets := make([]float64, len(labels))
	for i, label := range labels {
		targets[i] = float64(column[label])
	}

	width := len(features[0])
	maxFeatures := int(math.Sqrt(float64(width)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}
	trees, err := growForest(f.Config, features, targets, func() *DecisionTree {
		return &DecisionTree{
			Task:       TaskClassification,
			NumClasses: len(f.Classes),
			Config: TreeConfig{
				MaxDepth:       f.Config.MaxDepth,
				MinSamplesLeaf: f.Config.MinSamplesLeaf,
				MaxFeatures:    maxFeatures,
			},
		}
	})
	if err != nil {
		return err
	}
	f.Trees = trees
	return nil
}

// PredictProba averages the leaf class frequencies of every tree; columns
// follow Classes.
func (f *RandomForestClassifier) PredictProba(features []float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, errors.New("model not trained")
	}
	proba := make([]float64, len(f.Classes))
	for _, tree := range f.Trees {
		dist, err := tree.PredictProba(features)
		if err != nil {
			return nil, err
		}
		for i, p := range dist {
			proba[i] += p
		}
	}
	for i := range proba {
		proba[i] /= float64(len(f.Trees))
	}
	return proba, nil
}

// Predict returns the most probable class code, the lowest code winning ties.
func (f *RandomForestClassifier) Predict(features []float64) (int, []float64, error) {
	proba, err := f.PredictProba(features)
	if err != nil {
		return 0, nil, err
	}
	best := 0
	for i := 1; i < len(proba); i++ {
		if proba[i] > proba[best] {
			best = i
		}
	}
	return f.Classes[best], proba, nil
}

func (f *RandomForestClassifier) ClassLabels() []int {
	return append([]int(nil), f.Classes...)
}

func (f *RandomForestClassifier) validate() error {
	if len(f.Trees) == 0 || len(f.Classes) == 0 {
		return errors.New("classifier has no trees")
	}
	for i, tree := range f.Trees {
		if tree == nil || tree.Task != TaskClassification || tree.NumClasses != len(f.Classes) || len(tree.Nodes) == 0 {
			return fmt.Errorf("classifier tree %d is invalid", i)
		}
	}
	return nil
}

func (f *RandomForestRegressor) Fit(features [][]float64, targets []float64) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	trees, err := growForest(f.Config, features, targets, func() *DecisionTree {
		return &DecisionTree{
			Task: TaskRegression,
			Config: TreeConfig{
				MaxDepth:       f.Config.MaxDepth,
				MinSamplesLeaf: f.Config.MinSamplesLeaf,
				MaxFeatures:    len(features[0]),
			},
		}
	})
	if err != nil {
		return err
	}
	f.Trees = trees
	return nil
}

func (f *RandomForestRegressor) Predict(features []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, errors.New("model not trained")
	}
	sum := 0.0
	for _, tree := range f.Trees {
		value, err := tree.PredictValue(features)
		if err != nil {
			return 0, err
		}
		sum += value
	}
	return sum / float64(len(f.Trees)), nil
}

func (f *RandomForestRegressor) validate() error {
	if len(f.Trees) == 0 {
		return errors.New("regressor has no trees")
	}
	for i, tree := range f.Trees {
		if tree == nil || tree.Task != TaskRegression || len(tree.Nodes) == 0 {
			return fmt.Errorf("regressor tree %d is invalid", i)
		}
	}
	return nil
}

// growForest fits cfg.NEstimators trees on bootstrap samples. Per-tree seeds
// are drawn sequentially from cfg.Seed before any tree starts, so the forest
// is identical however many workers run.
func growForest(cfg ForestConfig, features [][]float64, targets []float64, newTree func() *DecisionTree) ([]*DecisionTree, error) {
	master := rand.New(rand.NewSource(cfg.Seed))
	seeds := make([]int64, cfg.NEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*DecisionTree, cfg.NEstimators)
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range trees {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seeds[i]))
			sample := bootstrap(len(features), rng)
			tree := newTree()
			if err := tree.fit(features, targets, sample, rng); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return trees, nil
}

func bootstrap(n int, rng *rand.Rand) []int {
	sample := make([]int, n)
	for i := range sample {
		sample[i] = rng.Intn(n)
	}
	return sample
}

func uniqueSorted(values []int) []int {
	seen := make(map[int]struct{})
	result := make([]int, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	sort.Ints(result)
	return result
}
