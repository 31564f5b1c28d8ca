package ml

import (
	"errors"
	"fmt"
	"math"
)

// NumFeatures is the arity every diabetes model is trained on.
const NumFeatures = 8

var ErrInvalidFeature = errors.New("invalid feature value")

// FeatureVector is one patient record. Field order matches FeatureNames and
// is the implicit contract with an uploaded model.
type FeatureVector struct {
	Pregnancies              int     `json:"pregnancies"`
	Glucose                  int     `json:"glucose"`
	BloodPressure            int     `json:"blood_pressure"`
	SkinThickness            int     `json:"skin_thickness"`
	Insulin                  int     `json:"insulin"`
	BMI                      float64 `json:"bmi"`
	DiabetesPedigreeFunction float64 `json:"diabetes_pedigree_function"`
	Age                      int     `json:"age"`
}

func FeatureNames() []string {
	return []string{
		"Pregnancies",
		"Glucose",
		"BloodPressure",
		"SkinThickness",
		"Insulin",
		"BMI",
		"DiabetesPedigreeFunction",
		"Age",
	}
}

// integerFeatures marks the positions that must hold whole numbers.
var integerFeatures = [NumFeatures]bool{true, true, true, true, true, false, false, true}

func (v FeatureVector) Values() []float64 {
	return []float64{
		float64(v.Pregnancies),
		float64(v.Glucose),
		float64(v.BloodPressure),
		float64(v.SkinThickness),
		float64(v.Insulin),
		v.BMI,
		v.DiabetesPedigreeFunction,
		float64(v.Age),
	}
}

func (v FeatureVector) Validate() error {
	return validateValues(v.Values())
}

// FeatureVectorFromValues builds a vector from exactly NumFeatures values in
// canonical order.
func FeatureVectorFromValues(values []float64) (FeatureVector, error) {
	if len(values) != NumFeatures {
		return FeatureVector{}, fmt.Errorf("%w: expected %d values, got %d", ErrSchemaMismatch, NumFeatures, len(values))
	}
	if err := validateValues(values); err != nil {
		return FeatureVector{}, err
	}
	return FeatureVector{
		Pregnancies:              int(values[0]),
		Glucose:                  int(values[1]),
		BloodPressure:            int(values[2]),
		SkinThickness:            int(values[3]),
		Insulin:                  int(values[4]),
		BMI:                      values[5],
		DiabetesPedigreeFunction: values[6],
		Age:                      int(values[7]),
	}, nil
}

func validateValues(values []float64) error {
	names := FeatureNames()
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidFeature, names[i])
		}
		if value < 0 {
			return fmt.Errorf("%w: %s must be >= 0, got %v", ErrInvalidFeature, names[i], value)
		}
		if integerFeatures[i] && value != math.Trunc(value) {
			return fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidFeature, names[i], value)
		}
	}
	if values[NumFeatures-1] < 1 {
		return fmt.Errorf("%w: Age must be >= 1, got %v", ErrInvalidFeature, values[NumFeatures-1])
	}
	return nil
}
