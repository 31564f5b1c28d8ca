package ml

import (
	"errors"
	"fmt"
)

// Standardizer rescales every column to zero mean and unit variance. Its
// statistics travel inside the model artifact so inference sees the same
// transform as training.
type Standardizer struct {
	Means  []float64 `json:"means" msgpack:"means"`
	Scales []float64 `json:"scales" msgpack:"scales"`
}

func (s *Standardizer) Fit(features [][]float64) error {
	if len(features) == 0 {
		return errors.New("features is empty")
	}
	width := len(features[0])
	s.Means = make([]float64, width)
	s.Scales = make([]float64, width)
	column := make([]float64, len(features))
	for j := 0; j < width; j++ {
		for i, row := range features {
			if len(row) != width {
				return fmt.Errorf("%w: row %d has %d values, expected %d", ErrSchemaMismatch, i, len(row), width)
			}
			column[i] = row[j]
		}
		mean, std := meanStd(column)
		if std == 0 {
			std = 1
		}
		s.Means[j] = mean
		s.Scales[j] = std
	}
	return nil
}

func (s *Standardizer) Transform(vector []float64) ([]float64, error) {
	if len(vector) != len(s.Means) || len(vector) != len(s.Scales) {
		return nil, fmt.Errorf("%w: got %d values, expected %d", ErrSchemaMismatch, len(vector), len(s.Means))
	}
	out := make([]float64, len(vector))
	for i, v := range vector {
		out[i] = (v - s.Means[i]) / s.Scales[i]
	}
	return out, nil
}

func (s *Standardizer) Width() int {
	return len(s.Means)
}
