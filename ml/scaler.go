package ml

import (
	"errors"
	"fmt"
	"math"
)

// StandardScaler centers each column on its mean and divides by its
// population standard deviation. Constant columns keep a scale of 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Fit(matrix [][]float64) error {
	if len(matrix) == 0 {
		return errors.New("matrix is empty")
	}
	width := len(matrix[0])
	mean := make([]float64, width)
	for _, row := range matrix {
		if len(row) != width {
			return errors.New("ragged matrix")
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(matrix))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, width)
	for _, row := range matrix {
		for j, v := range row {
			diff := v - mean[j]
			scale[j] += diff * diff
		}
	}
	for j := range scale {
		std := math.Sqrt(scale[j] / n)
		if std == 0 {
			std = 1
		}
		scale[j] = std
	}

	s.Mean = mean
	s.Scale = scale
	return nil
}

func (s *StandardScaler) Transform(vector []float64) ([]float64, error) {
	if len(s.Mean) == 0 {
		return nil, errors.New("scaler not fitted")
	}
	if len(vector) != len(s.Mean) {
		return nil, fmt.Errorf("expected %d features, got %d", len(s.Mean), len(vector))
	}
	result := make([]float64, len(vector))
	for i, v := range vector {
		result[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return result, nil
}
