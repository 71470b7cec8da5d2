package segmentation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func vectorWith(cfg Config, id int64, set map[string]float64) FeatureVector {
	values := make([]float64, len(cfg.FeatureNames))
	for i, name := range cfg.FeatureNames {
		values[i] = set[name]
	}
	return FeatureVector{CustomerID: id, Values: values}
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
	assert.True(t, math.IsNaN(Median(nil)))
}

func TestImputerFitTransformUsesMedianOfDefinedValues(t *testing.T) {
	cfg := DefaultConfig()
	idx := cfg.featureIndex()
	var rows []FeatureVector
	var defined []float64
	for i := 0; i < 50; i++ {
		tenure := float64((i * 37) % 101)
		if i%17 == 3 {
			tenure = math.NaN()
		} else {
			defined = append(defined, tenure)
		}
		rows = append(rows, vectorWith(cfg, int64(i), map[string]float64{
			FeatureTenureDays:   tenure,
			FeatureDigitalScore: float64(i),
		}))
	}
	require.Len(t, defined, 47)

	im := NewMissingValueImputer(cfg, zap.NewNop())
	filled, table, err := im.FitTransform(rows)
	require.NoError(t, err)

	want := Median(defined)
	assert.Equal(t, ImputationTable{FeatureTenureDays: want}, table)
	filledCount := 0
	for i, r := range rows {
		if math.IsNaN(r.Values[idx[FeatureTenureDays]]) {
			assert.Equal(t, want, filled[i].Values[idx[FeatureTenureDays]])
			filledCount++
		}
	}
	assert.Equal(t, 3, filledCount)
	assert.True(t, math.IsNaN(rows[3].Values[idx[FeatureTenureDays]]), "input rows must not be mutated")
}

func TestImputerTransformInference(t *testing.T) {
	cfg := DefaultConfig()
	idx := cfg.featureIndex()
	im := NewMissingValueImputer(cfg, nil)
	table := ImputationTable{FeatureChurnRiskScore: 12.5}

	out, err := im.Transform([]FeatureVector{
		vectorWith(cfg, 1, map[string]float64{FeatureChurnRiskScore: math.NaN()}),
	}, table)
	require.NoError(t, err)
	assert.Equal(t, 12.5, out[0].Values[idx[FeatureChurnRiskScore]])

	_, err = im.Transform([]FeatureVector{
		vectorWith(cfg, 2, map[string]float64{FeatureDigitalScore: math.NaN()}),
	}, table)
	assert.ErrorIs(t, err, ErrFeatureImputation)
}

func TestImputerAllMissing(t *testing.T) {
	cfg := DefaultConfig()
	im := NewMissingValueImputer(cfg, nil)
	_, _, err := im.FitTransform([]FeatureVector{
		vectorWith(cfg, 1, map[string]float64{FeatureTenureDays: math.NaN()}),
		vectorWith(cfg, 2, map[string]float64{FeatureTenureDays: math.NaN()}),
	})
	assert.ErrorIs(t, err, ErrFeatureImputation)
}
