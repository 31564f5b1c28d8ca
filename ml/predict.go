package ml

import (
	"fmt"
	"math"
)

const (
	LabelNegative = 0
	LabelPositive = 1
)

// PredictionResult is produced fresh for every prediction. Confidence is nil
// when the model has no probability capability.
type PredictionResult struct {
	Label      int      `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (r PredictionResult) HighRisk() bool {
	return r.Label == LabelPositive
}

// RiskLabel is the per-row label written into batch output.
func (r PredictionResult) RiskLabel() string {
	if r.HighRisk() {
		return "Diabetic"
	}
	return "Non-Diabetic"
}

func (r PredictionResult) RiskLevel() string {
	if r.HighRisk() {
		return "HIGH RISK"
	}
	return "LOW RISK"
}

// Predict runs a single validated feature vector through the model.
func Predict(m Model, v FeatureVector) (PredictionResult, error) {
	return PredictValues(m, v.Values())
}

// PredictValues runs one raw row through the model without reordering.
func PredictValues(m Model, values []float64) (PredictionResult, error) {
	res, err := predictRow(m, values)
	if err != nil {
		return PredictionResult{}, &PredictionError{Row: -1, Err: err}
	}
	return res, nil
}

// PredictBatch predicts every row in order. The first failing row aborts
// the batch. An empty batch yields an empty result.
func PredictBatch(m Model, rows [][]float64) ([]PredictionResult, error) {
	results := make([]PredictionResult, 0, len(rows))
	for i, row := range rows {
		res, err := predictRow(m, row)
		if err != nil {
			return nil, &PredictionError{Row: i, Err: err}
		}
		results = append(results, res)
	}
	return results, nil
}

func predictRow(m Model, values []float64) (res PredictionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = PredictionResult{}
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()

	if m == nil {
		return PredictionResult{}, ErrNotTrained
	}
	if fc, ok := m.(FeatureCounter); ok {
		if want := fc.FeatureCount(); want > 0 && len(values) != want {
			return PredictionResult{}, fmt.Errorf("%w: got %d features, model expects %d", ErrSchemaMismatch, len(values), want)
		}
	}

	label, err := m.Predict(values)
	if err != nil {
		return PredictionResult{}, err
	}
	if label != LabelNegative && label != LabelPositive {
		return PredictionResult{}, fmt.Errorf("model returned non-binary label %d", label)
	}
	res.Label = label

	// A failing probability estimate drops the confidence, not the label.
	if p, ok := m.(Probabilistic); ok {
		if prob, perr := p.PredictProbability(values); perr == nil && !math.IsNaN(prob) && prob >= 0 && prob <= 1 {
			res.Confidence = &prob
		}
	}
	return res, nil
}
