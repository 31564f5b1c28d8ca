package ml

import (
	"errors"
	"fmt"
	"math"
)

const (
	defaultMaxDepth = 3

	// maxTreeFeatures bounds the feature width a decoded tree may claim.
	maxTreeFeatures = NumFeatures * 8
)

type DecisionTree struct {
	MaxDepth  int        `json:"max_depth" msgpack:"max_depth"`
	NFeatures int        `json:"n_features" msgpack:"n_features"`
	Nodes     []TreeNode `json:"nodes" msgpack:"nodes"`
}

// TreeNode child pointers are absolute indexes into Nodes. Samples and
// Positives are the training class counts that reached the node; trees
// written without them predict labels but no probability.
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx" msgpack:"feature_idx"`
	Threshold  float64 `json:"threshold" msgpack:"threshold"`
	LeftChild  int     `json:"left_child" msgpack:"left_child"`
	RightChild int     `json:"right_child" msgpack:"right_child"`
	ClassLabel int     `json:"class_label" msgpack:"class_label"`
	IsLeaf     bool    `json:"is_leaf" msgpack:"is_leaf"`
	Samples    int     `json:"samples,omitempty" msgpack:"samples,omitempty"`
	Positives  int     `json:"positives,omitempty" msgpack:"positives,omitempty"`
}

func NewDecisionTree(maxDepth int) *DecisionTree {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return &DecisionTree{MaxDepth: maxDepth}
}

func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if dt.MaxDepth <= 0 {
		dt.MaxDepth = defaultMaxDepth
	}

	dt.NFeatures = len(features[0])
	dt.Nodes = dt.buildNode(features, labels, 0)
	return nil
}

func (dt *DecisionTree) Predict(features []float64) (int, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return 0, err
	}
	return leaf.ClassLabel, nil
}

// PredictProbability is the share of positive training samples at the leaf.
func (dt *DecisionTree) PredictProbability(features []float64) (float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return 0, err
	}
	if leaf.Samples == 0 {
		return 0, errors.New("leaf has no class counts")
	}
	return float64(leaf.Positives) / float64(leaf.Samples), nil
}

// leaf walks the tree from the root. A decoded tree is untrusted, so the
// walk is bounded by the node count.
func (dt *DecisionTree) leaf(features []float64) (TreeNode, error) {
	if len(dt.Nodes) == 0 {
		return TreeNode{}, ErrNotTrained
	}
	if dt.NFeatures > 0 && len(features) != dt.NFeatures {
		return TreeNode{}, fmt.Errorf("%w: got %d features, tree expects %d", ErrSchemaMismatch, len(features), dt.NFeatures)
	}
	idx := 0
	for steps := 0; steps <= len(dt.Nodes); steps++ {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return TreeNode{}, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return TreeNode{}, errors.New("invalid tree state")
		}
	}
	return TreeNode{}, errors.New("invalid tree state: cycle detected")
}

func (dt *DecisionTree) FeatureCount() int {
	return dt.NFeatures
}

// FeatureImportance weighs each feature by how many internal nodes split on it.
func (dt *DecisionTree) FeatureImportance() []float64 {
	width := dt.NFeatures
	if width <= 0 {
		for _, node := range dt.Nodes {
			if !node.IsLeaf && node.FeatureIdx < maxTreeFeatures && node.FeatureIdx >= width {
				width = node.FeatureIdx + 1
			}
		}
	}
	if width <= 0 || width > maxTreeFeatures {
		return nil
	}
	counts := make([]float64, width)
	for _, node := range dt.Nodes {
		if !node.IsLeaf && node.FeatureIdx >= 0 && node.FeatureIdx < width {
			counts[node.FeatureIdx]++
		}
	}
	return normalizeWeights(counts)
}

func (dt *DecisionTree) validate() error {
	if len(dt.Nodes) == 0 {
		return errors.New("decision tree has no nodes")
	}
	if dt.NFeatures < 0 || dt.NFeatures > maxTreeFeatures {
		return fmt.Errorf("n_features %d out of range", dt.NFeatures)
	}
	width := dt.NFeatures
	if width == 0 {
		width = maxTreeFeatures
	}
	for i, node := range dt.Nodes {
		if node.Samples < 0 || node.Positives < 0 || node.Positives > node.Samples {
			return fmt.Errorf("node %d: inconsistent class counts %d/%d", i, node.Positives, node.Samples)
		}
		if node.IsLeaf {
			if node.ClassLabel != 0 && node.ClassLabel != 1 {
				return fmt.Errorf("node %d: class label %d is not binary", i, node.ClassLabel)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= width {
			return fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		if node.LeftChild < 0 || node.LeftChild >= len(dt.Nodes) || node.RightChild < 0 || node.RightChild >= len(dt.Nodes) {
			return fmt.Errorf("node %d: child index out of range", i)
		}
	}
	return nil
}

// rebaseLegacyNodes converts subtree-relative child pointers, as written by
// older tree files, to absolute indexes. Each node is the root of its own
// subtree, so its children sit relative to its own position.
func rebaseLegacyNodes(nodes []TreeNode) []TreeNode {
	out := make([]TreeNode, len(nodes))
	for i, node := range nodes {
		if !node.IsLeaf {
			node.LeftChild += i
			node.RightChild += i
		}
		out[i] = node
	}
	return out
}

func (dt *DecisionTree) buildNode(features [][]float64, labels []int, depth int) []TreeNode {
	label := majorityLabel(labels)
	positives := countPositives(labels)
	leaf := []TreeNode{{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		ClassLabel: label,
		IsLeaf:     true,
		Samples:    len(labels),
		Positives:  positives,
	}}
	if depth >= dt.MaxDepth || isPure(labels) {
		return leaf
	}

	bestFeature, threshold, ok := findBestSplit(features, labels)
	if !ok {
		return leaf
	}

	leftFeatures, leftLabels, rightFeatures, rightLabels := splitData(features, labels, bestFeature, threshold)
	if len(leftLabels) == 0 || len(rightLabels) == 0 {
		return leaf
	}

	leftNodes := dt.buildNode(leftFeatures, leftLabels, depth+1)
	rightNodes := dt.buildNode(rightFeatures, rightLabels, depth+1)

	root := TreeNode{
		FeatureIdx: bestFeature,
		Threshold:  threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		ClassLabel: label,
		Samples:    len(labels),
		Positives:  positives,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetNodes(leftNodes, 1)...)
	nodes = append(nodes, offsetNodes(rightNodes, 1+len(leftNodes))...)
	return nodes
}

// offsetNodes shifts child pointers of a subtree placed at position base.
func offsetNodes(nodes []TreeNode, base int) []TreeNode {
	out := make([]TreeNode, len(nodes))
	for i, node := range nodes {
		if !node.IsLeaf {
			node.LeftChild += base
			node.RightChild += base
		}
		out[i] = node
	}
	return out
}

func findBestSplit(features [][]float64, labels []int) (int, float64, bool) {
	featureCount := len(features[0])
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64

	values := make([]float64, len(features))
	for featureIdx := 0; featureIdx < featureCount; featureIdx++ {
		for i := range features {
			values[i] = features[i][featureIdx]
		}
		threshold := median(values)
		leftLabels, rightLabels := splitLabels(features, labels, featureIdx, threshold)
		if len(leftLabels) == 0 || len(rightLabels) == 0 {
			continue
		}
		impurity := weightedGini(leftLabels, rightLabels)
		if impurity < bestImpurity {
			bestImpurity = impurity
			bestFeature = featureIdx
			bestThreshold = threshold
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func splitData(features [][]float64, labels []int, featureIdx int, threshold float64) ([][]float64, []int, [][]float64, []int) {
	leftFeatures := make([][]float64, 0)
	leftLabels := make([]int, 0)
	rightFeatures := make([][]float64, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftFeatures = append(leftFeatures, feature)
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightFeatures = append(rightFeatures, feature)
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftFeatures, leftLabels, rightFeatures, rightLabels
}

func splitLabels(features [][]float64, labels []int, featureIdx int, threshold float64) ([]int, []int) {
	leftLabels := make([]int, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftLabels, rightLabels
}

func weightedGini(leftLabels, rightLabels []int) float64 {
	leftWeight := float64(len(leftLabels))
	rightWeight := float64(len(rightLabels))
	total := leftWeight + rightWeight
	return (leftWeight/total)*gini(leftLabels) + (rightWeight/total)*gini(rightLabels)
}

func gini(labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	counts := make(map[int]int)
	for _, label := range labels {
		counts[label]++
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(len(labels))
		impurity -= prob * prob
	}
	return impurity
}

func majorityLabel(labels []int) int {
	counts := make(map[int]int)
	bestLabel := 0
	bestCount := -1
	for _, label := range labels {
		counts[label]++
		if counts[label] > bestCount {
			bestCount = counts[label]
			bestLabel = label
		}
	}
	return bestLabel
}

func countPositives(labels []int) int {
	n := 0
	for _, label := range labels {
		if label == LabelPositive {
			n++
		}
	}
	return n
}

func isPure(labels []int) bool {
	if len(labels) == 0 {
		return true
	}
	first := labels[0]
	for _, label := range labels[1:] {
		if label != first {
			return false
		}
	}
	return true
}
