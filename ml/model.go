package ml

// Model is the mandatory inference capability of an uploaded classifier.
// Predict returns the class label, 0 (negative) or 1 (positive).
type Model interface {
	Predict(features []float64) (int, error)
}

// Probabilistic is implemented by models that can estimate the probability
// of the positive class.
type Probabilistic interface {
	PredictProbability(features []float64) (float64, error)
}

// FeatureCounter reports the input arity a model was trained with.
type FeatureCounter interface {
	FeatureCount() int
}

// Importancer exposes per-feature importance weights summing to 1.
type Importancer interface {
	FeatureImportance() []float64
}

type Trainer interface {
	Model
	Train(features [][]float64, labels []int) error
}
