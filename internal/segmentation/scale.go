package segmentation

import (
	"fmt"
	"math"
)

// ScalingParameters are the per-feature mean and population standard deviation
// of the training batch, aligned with the feature order.
type ScalingParameters struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Standardizer rescales features to zero mean and unit variance.
type Standardizer struct {
	Params ScalingParameters
}

// Fit computes mean and std per column.
func (s *Standardizer) Fit(X [][]float64) error {
	if len(X) == 0 {
		return fmt.Errorf("%w: cannot fit scaler on empty data", ErrInsufficientData)
	}
	p := len(X[0])
	mean := make([]float64, p)
	std := make([]float64, p)
	for _, row := range X {
		for j := 0; j < p; j++ {
			mean[j] += row[j]
		}
	}
	n := float64(len(X))
	for j := range mean {
		mean[j] /= n
	}
	for _, row := range X {
		for j := 0; j < p; j++ {
			d := row[j] - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
	}
	s.Params = ScalingParameters{Mean: mean, Std: std}
	return nil
}

// Transform applies the fitted parameters. Columns with zero std map to 0.
func (s *Standardizer) Transform(X [][]float64) ([][]float64, error) {
	return s.Params.Transform(X)
}

// FitTransform fits on X and returns the scaled copy.
func (s *Standardizer) FitTransform(X [][]float64) ([][]float64, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// Transform scales X with p without refitting.
func (p ScalingParameters) Transform(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		if len(row) != len(p.Mean) {
			return nil, fmt.Errorf("scaling: row %d has %d features, expected %d", i, len(row), len(p.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			if p.Std[j] == 0 {
				continue
			}
			scaled[j] = (v - p.Mean[j]) / p.Std[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// Inverse maps a scaled row back to raw feature space.
func (p ScalingParameters) Inverse(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = v*p.Std[j] + p.Mean[j]
	}
	return out
}
