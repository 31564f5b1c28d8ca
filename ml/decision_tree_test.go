package ml

import "testing"

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 1, 1}

	model := NewDecisionTree(2)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	label, err := model.Predict([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 0 {
		t.Fatalf("expected label 0, got %d", label)
	}
	label, err = model.Predict([]float64{0.95, 0.85})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 1 {
		t.Fatalf("expected label 1, got %d", label)
	}
	if model.FeatureCount() != 2 {
		t.Fatalf("expected 2 features, got %d", model.FeatureCount())
	}
}

func TestDecisionTreeNestedChildIndices(t *testing.T) {
	features := [][]float64{
		{1, 1}, {2, 9}, {3, 2}, {4, 8},
		{6, 1}, {7, 9}, {8, 2}, {9, 8},
	}
	labels := []int{0, 0, 0, 0, 0, 1, 0, 1}

	model := NewDecisionTree(4)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := model.validate(); err != nil {
		t.Fatalf("trained tree is invalid: %v", err)
	}
	for i, row := range features {
		label, err := model.Predict(row)
		if err != nil {
			t.Fatalf("row %d: unexpected error: %v", i, err)
		}
		if label != labels[i] {
			t.Fatalf("row %d: expected %d, got %d", i, labels[i], label)
		}
	}
}

func TestDecisionTreeUntrained(t *testing.T) {
	model := NewDecisionTree(3)
	if _, err := model.Predict([]float64{1}); err != ErrNotTrained {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
}

func TestDecisionTreeCycleDetected(t *testing.T) {
	model := &DecisionTree{Nodes: []TreeNode{
		{FeatureIdx: 0, Threshold: 10, LeftChild: 0, RightChild: 0},
	}}
	if _, err := model.Predict([]float64{1}); err == nil {
		t.Fatal("expected error for cyclic tree")
	}
}

func TestDecisionTreeFeatureImportance(t *testing.T) {
	model := &DecisionTree{NFeatures: 3, Nodes: []TreeNode{
		{FeatureIdx: 1, Threshold: 0.5, LeftChild: 1, RightChild: 2},
		{FeatureIdx: -1, LeftChild: -1, RightChild: -1, ClassLabel: 0, IsLeaf: true},
		{FeatureIdx: -1, LeftChild: -1, RightChild: -1, ClassLabel: 1, IsLeaf: true},
	}}
	importance := model.FeatureImportance()
	if len(importance) != 3 {
		t.Fatalf("expected 3 weights, got %d", len(importance))
	}
	if importance[1] != 1 || importance[0] != 0 || importance[2] != 0 {
		t.Fatalf("unexpected importance: %v", importance)
	}
}

func TestDecisionTreeRejectsOutOfRangeWidth(t *testing.T) {
	blobs := map[string]string{
		"huge feature index":    `{"version":1,"kind":"decision_tree","decision_tree":{"nodes":[{"feature_idx":4000000000000,"left_child":1,"right_child":1},{"is_leaf":true}]}}`,
		"negative n_features":   `{"version":1,"kind":"decision_tree","decision_tree":{"n_features":-3,"nodes":[{"is_leaf":true}]}}`,
		"index past n_features": `{"version":1,"kind":"decision_tree","decision_tree":{"n_features":8,"nodes":[{"feature_idx":8,"left_child":1,"right_child":1},{"is_leaf":true}]}}`,
		"huge n_features":       `{"version":1,"kind":"decision_tree","decision_tree":{"n_features":4000000000000,"nodes":[{"is_leaf":true}]}}`,
	}
	for name, blob := range blobs {
		if handle, err := Load([]byte(blob)); err == nil {
			t.Errorf("%s: expected load error, got handle %+v", name, handle)
		}
	}
}

func TestDecisionTreeImportanceIgnoresBadIndexes(t *testing.T) {
	model := &DecisionTree{Nodes: []TreeNode{
		{FeatureIdx: 4000000000000, LeftChild: 1, RightChild: 2},
		{FeatureIdx: 2, LeftChild: 2, RightChild: 2},
		{FeatureIdx: -1, IsLeaf: true},
	}}
	importance := model.FeatureImportance()
	if len(importance) != 3 {
		t.Fatalf("expected 3 weights, got %d", len(importance))
	}
	if importance[2] != 1 {
		t.Fatalf("unexpected importance: %v", importance)
	}

	negative := &DecisionTree{NFeatures: -3, Nodes: []TreeNode{{IsLeaf: true}}}
	if got := negative.FeatureImportance(); got != nil {
		t.Fatalf("expected no importance for negative width, got %v", got)
	}
}

func TestDecisionTreePredictProbability(t *testing.T) {
	features := [][]float64{
		{1, 1}, {2, 1}, {3, 1}, {4, 1},
		{6, 1}, {7, 1}, {8, 1}, {9, 1},
	}
	labels := []int{0, 0, 0, 1, 1, 1, 1, 1}

	model := NewDecisionTree(1)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := model.validate(); err != nil {
		t.Fatalf("trained tree is invalid: %v", err)
	}

	low, err := model.PredictProbability([]float64{2, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	high, err := model.PredictProbability([]float64{8, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if low != 0.25 || high != 1 {
		t.Fatalf("expected leaf shares 0.25 and 1, got %v and %v", low, high)
	}
}

func TestDecisionTreeWithoutCountsHasNoProbability(t *testing.T) {
	model := &DecisionTree{Nodes: []TreeNode{{FeatureIdx: -1, ClassLabel: 1, IsLeaf: true}}}
	if _, err := model.PredictProbability([]float64{1}); err == nil {
		t.Fatal("expected error for leaf without class counts")
	}
	if label, err := model.Predict([]float64{1}); err != nil || label != 1 {
		t.Fatalf("expected label 1, got %d (%v)", label, err)
	}
}

func TestDecisionTreeRejectsInconsistentCounts(t *testing.T) {
	model := &DecisionTree{Nodes: []TreeNode{{FeatureIdx: -1, IsLeaf: true, Samples: 2, Positives: 3}}}
	if err := model.validate(); err == nil {
		t.Fatal("expected error for positives above samples")
	}
}
