package ml

import (
	"math/rand"
	"testing"
)

func TestDecisionTreeClassification(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	targets := []float64{0, 0, 1, 1}

	tree := &DecisionTree{Task: TaskClassification, NumClasses: 2}
	if err := tree.fit(features, targets, []int{0, 1, 2, 3}, rand.New(rand.NewSource(1))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	proba, err := tree.PredictProba([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proba[0] != 1 || proba[1] != 0 {
		t.Fatalf("expected pure class 0 leaf, got %v", proba)
	}
	proba, err = tree.PredictProba([]float64{0.85, 0.85})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proba[1] != 1 {
		t.Fatalf("expected pure class 1 leaf, got %v", proba)
	}
	if _, err := tree.PredictValue([]float64{0.1, 0.1}); err == nil {
		t.Fatalf("expected error predicting a value from a classifier")
	}
}

func TestDecisionTreeRegressionMemorizes(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}, {5}}
	targets := []float64{10, 20, 30, 40, 50}

	tree := &DecisionTree{Task: TaskRegression}
	if err := tree.fit(features, targets, []int{0, 1, 2, 3, 4}, rand.New(rand.NewSource(1))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, x := range features {
		got, err := tree.PredictValue(x)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != targets[i] {
			t.Fatalf("x=%v: expected %v, got %v", x, targets[i], got)
		}
	}
}

func TestDecisionTreeMaxDepth(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}}
	targets := []float64{1, 2, 3, 4}

	tree := &DecisionTree{Task: TaskRegression, Config: TreeConfig{MaxDepth: 1}}
	if err := tree.fit(features, targets, []int{0, 1, 2, 3}, rand.New(rand.NewSource(1))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Nodes) != 3 {
		t.Fatalf("expected a single split, got %d nodes", len(tree.Nodes))
	}
	got, _ := tree.PredictValue([]float64{1})
	if got != 1.5 {
		t.Fatalf("expected left leaf mean 1.5, got %v", got)
	}
}

func TestDecisionTreeUntrained(t *testing.T) {
	tree := &DecisionTree{Task: TaskRegression}
	if _, err := tree.PredictValue([]float64{1}); err == nil {
		t.Fatalf("expected error from untrained tree")
	}
}
