package ml

import (
	"errors"
	"fmt"
	"math"
)

const (
	defaultLearningRate = 0.1
	defaultEpochs       = 500
	defaultThreshold    = 0.5
)

// LogisticRegression is a binary classifier trained with batch gradient
// descent on standardized inputs.
type LogisticRegression struct {
	Weights      []float64     `json:"weights" msgpack:"weights"`
	Bias         float64       `json:"bias" msgpack:"bias"`
	Threshold    float64       `json:"threshold" msgpack:"threshold"`
	Scaler       *Standardizer `json:"scaler,omitempty" msgpack:"scaler,omitempty"`
	LearningRate float64       `json:"-" msgpack:"-"`
	Epochs       int           `json:"-" msgpack:"-"`
	L2           float64       `json:"-" msgpack:"-"`
}

func NewLogisticRegression(learningRate float64, epochs int, l2 float64) *LogisticRegression {
	if learningRate <= 0 {
		learningRate = defaultLearningRate
	}
	if epochs <= 0 {
		epochs = defaultEpochs
	}
	if l2 < 0 {
		l2 = 0
	}
	return &LogisticRegression{
		Threshold:    defaultThreshold,
		LearningRate: learningRate,
		Epochs:       epochs,
		L2:           l2,
	}
}

func (lr *LogisticRegression) Train(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	for i, label := range labels {
		if label != 0 && label != 1 {
			return fmt.Errorf("label %d at row %d is not binary", label, i)
		}
	}
	if lr.LearningRate <= 0 {
		lr.LearningRate = defaultLearningRate
	}
	if lr.Epochs <= 0 {
		lr.Epochs = defaultEpochs
	}
	if lr.Threshold <= 0 || lr.Threshold >= 1 {
		lr.Threshold = defaultThreshold
	}

	scaler := &Standardizer{}
	if err := scaler.Fit(features); err != nil {
		return err
	}
	scaled := make([][]float64, len(features))
	for i, row := range features {
		z, err := scaler.Transform(row)
		if err != nil {
			return err
		}
		scaled[i] = z
	}

	width := scaler.Width()
	weights := make([]float64, width)
	bias := 0.0
	n := float64(len(scaled))
	grad := make([]float64, width)
	for epoch := 0; epoch < lr.Epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		gradBias := 0.0
		for i, row := range scaled {
			diff := sigmoid(dot(weights, row)+bias) - float64(labels[i])
			for j, v := range row {
				grad[j] += diff * v
			}
			gradBias += diff
		}
		for j := range weights {
			weights[j] -= lr.LearningRate * (grad[j]/n + lr.L2*weights[j])
		}
		bias -= lr.LearningRate * gradBias / n
	}

	lr.Weights = weights
	lr.Bias = bias
	lr.Scaler = scaler
	return nil
}

func (lr *LogisticRegression) PredictProbability(features []float64) (float64, error) {
	if len(lr.Weights) == 0 {
		return 0, ErrNotTrained
	}
	if len(features) != len(lr.Weights) {
		return 0, fmt.Errorf("%w: got %d features, model expects %d", ErrSchemaMismatch, len(features), len(lr.Weights))
	}
	input := features
	if lr.Scaler != nil {
		z, err := lr.Scaler.Transform(features)
		if err != nil {
			return 0, err
		}
		input = z
	}
	prob := sigmoid(dot(lr.Weights, input) + lr.Bias)
	if math.IsNaN(prob) {
		return 0, errors.New("probability is NaN")
	}
	return prob, nil
}

func (lr *LogisticRegression) Predict(features []float64) (int, error) {
	prob, err := lr.PredictProbability(features)
	if err != nil {
		return 0, err
	}
	threshold := lr.Threshold
	if threshold <= 0 || threshold >= 1 {
		threshold = defaultThreshold
	}
	if prob >= threshold {
		return 1, nil
	}
	return 0, nil
}

func (lr *LogisticRegression) FeatureCount() int {
	return len(lr.Weights)
}

// FeatureImportance uses the absolute standardized coefficients.
func (lr *LogisticRegression) FeatureImportance() []float64 {
	abs := make([]float64, len(lr.Weights))
	for i, w := range lr.Weights {
		abs[i] = math.Abs(w)
	}
	return normalizeWeights(abs)
}

func (lr *LogisticRegression) validate() error {
	if len(lr.Weights) == 0 {
		return errors.New("logistic regression has no weights")
	}
	for _, w := range append(append([]float64(nil), lr.Weights...), lr.Bias) {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return errors.New("logistic regression has non-finite coefficients")
		}
	}
	if lr.Scaler != nil {
		if lr.Scaler.Width() != len(lr.Weights) || len(lr.Scaler.Scales) != len(lr.Weights) {
			return fmt.Errorf("%w: scaler width %d does not match %d weights", ErrSchemaMismatch, lr.Scaler.Width(), len(lr.Weights))
		}
		for _, s := range lr.Scaler.Scales {
			if s == 0 || math.IsNaN(s) {
				return errors.New("logistic regression scaler has zero scale")
			}
		}
	}
	return nil
}
