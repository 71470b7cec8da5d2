package segmentation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardizerRoundTrip(t *testing.T) {
	X := [][]float64{
		{1, 100, 5},
		{2, 250, 5},
		{3, 175, 5},
		{10, -40, 5},
	}
	var s Standardizer
	scaled, err := s.FitTransform(X)
	require.NoError(t, err)

	for i, row := range scaled {
		back := s.Params.Inverse(row)
		assert.InDelta(t, X[i][0], back[0], 1e-9)
		assert.InDelta(t, X[i][1], back[1], 1e-9)
	}

	for j := 0; j < 2; j++ {
		mean, sq := 0.0, 0.0
		for _, row := range scaled {
			mean += row[j]
		}
		mean /= float64(len(scaled))
		for _, row := range scaled {
			sq += (row[j] - mean) * (row[j] - mean)
		}
		assert.InDelta(t, 0, mean, 1e-9)
		assert.InDelta(t, 1, sq/float64(len(scaled)), 1e-9)
	}
}

func TestStandardizerZeroVariance(t *testing.T) {
	var s Standardizer
	scaled, err := s.FitTransform([][]float64{{7, 1}, {7, 2}, {7, 3}})
	require.NoError(t, err)
	for _, row := range scaled {
		assert.Equal(t, 0.0, row[0])
		assert.False(t, math.IsNaN(row[1]) || math.IsInf(row[1], 0))
	}

	// inference data is scaled with stored parameters, never refitted
	out, err := s.Transform([][]float64{{9, 2}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, out[0][0])
	assert.Equal(t, 0.0, out[0][1])
}

func TestScalingTransformDimensionMismatch(t *testing.T) {
	p := ScalingParameters{Mean: []float64{0, 0}, Std: []float64{1, 1}}
	_, err := p.Transform([][]float64{{1, 2, 3}})
	assert.Error(t, err)
}

func TestStandardizerEmpty(t *testing.T) {
	var s Standardizer
	assert.ErrorIs(t, s.Fit(nil), ErrInsufficientData)
}
