package ml

import (
	"errors"
	"math"
	"math/rand"
)

type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Samples   int     `json:"samples"`
}

// SplitDataset shuffles with the given seed and holds out testRatio of the
// rows for evaluation.
func SplitDataset(features [][]float64, labels []int, testRatio float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(len(features))

	split := int(math.Round(float64(len(features)) * (1 - testRatio)))
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, labels[idx])
		} else {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}

// Evaluate scores the model on a held-out set, treating label 1 as positive.
// Rows the model fails on count as misclassified.
func Evaluate(m Model, testX [][]float64, testY []int) (Metrics, error) {
	if len(testX) != len(testY) {
		return Metrics{}, errors.New("features and labels size mismatch")
	}
	if len(testX) == 0 {
		return Metrics{}, nil
	}

	var correct, truePositive, predictedPositive, actualPositive int
	for i, feature := range testX {
		if testY[i] == LabelPositive {
			actualPositive++
		}
		res, err := PredictValues(m, feature)
		if err != nil {
			continue
		}
		if res.Label == testY[i] {
			correct++
		}
		if res.Label == LabelPositive {
			predictedPositive++
			if testY[i] == LabelPositive {
				truePositive++
			}
		}
	}

	metrics := Metrics{
		Accuracy: float64(correct) / float64(len(testX)),
		Samples:  len(testX),
	}
	if predictedPositive > 0 {
		metrics.Precision = float64(truePositive) / float64(predictedPositive)
	}
	if actualPositive > 0 {
		metrics.Recall = float64(truePositive) / float64(actualPositive)
	}
	return metrics, nil
}
