package segmentation

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
)

// ImputationTable maps a feature name to the training median used to fill its
// missing values. A feature is present only if it had missing values at training time.
type ImputationTable map[string]float64

// MissingValueImputer fills missing feature values with medians.
type MissingValueImputer struct {
	names  []string
	logger *zap.Logger
}

func NewMissingValueImputer(cfg Config, logger *zap.Logger) *MissingValueImputer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MissingValueImputer{names: cfg.FeatureNames, logger: logger}
}

// FitTransform learns medians for every feature with missing values and returns
// filled copies of rows together with the learned table.
func (im *MissingValueImputer) FitTransform(rows []FeatureVector) ([]FeatureVector, ImputationTable, error) {
	table := ImputationTable{}
	for j, name := range im.names {
		var defined []float64
		missing := 0
		for _, r := range rows {
			if math.IsNaN(r.Values[j]) {
				missing++
				continue
			}
			defined = append(defined, r.Values[j])
		}
		if missing == 0 {
			continue
		}
		if len(defined) == 0 {
			return nil, nil, fmt.Errorf("%w: feature %s has no defined values", ErrFeatureImputation, name)
		}
		table[name] = Median(defined)
		im.logger.Warn("imputing missing feature values",
			zap.String("feature", name),
			zap.Int("missing", missing),
			zap.Float64("median", table[name]),
		)
	}
	out, err := im.Transform(rows, table)
	if err != nil {
		return nil, nil, err
	}
	return out, table, nil
}

// Transform fills missing values from a stored table. A missing value in a
// feature the table does not cover is an ErrFeatureImputation.
func (im *MissingValueImputer) Transform(rows []FeatureVector, table ImputationTable) ([]FeatureVector, error) {
	out := make([]FeatureVector, len(rows))
	for i, r := range rows {
		values := make([]float64, len(r.Values))
		copy(values, r.Values)
		for j, v := range values {
			if !math.IsNaN(v) {
				continue
			}
			median, ok := table[im.names[j]]
			if !ok {
				return nil, fmt.Errorf("%w: customer %d has missing %s with no training median",
					ErrFeatureImputation, r.CustomerID, im.names[j])
			}
			values[j] = median
		}
		out[i] = FeatureVector{CustomerID: r.CustomerID, Values: values}
	}
	return out, nil
}

// Median returns the median of values; the mean of the two middle values for even lengths.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
