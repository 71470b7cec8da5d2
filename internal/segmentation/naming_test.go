package segmentation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func profile(size int, avgs map[string]float64) SegmentProfile {
	return SegmentProfile{Size: size, Percentage: 10, Averages: avgs}
}

func TestSegmentNamerRules(t *testing.T) {
	namer := NewSegmentNamer(DefaultNamingRules())
	tests := []struct {
		name string
		avgs map[string]float64
		want string
	}{
		{"digital elite beats at-risk", map[string]float64{
			FeatureTotalBalance: 60000, FeatureDigitalScore: 85, FeatureChurnRiskScore: 30, FeatureTenureDays: 100,
		}, "Digital Elite"},
		{"traditional affluent", map[string]float64{
			FeatureTotalBalance: 60000, FeatureDigitalScore: 50, FeatureTenureDays: 1000,
		}, "Traditional Affluent"},
		{"digital natives", map[string]float64{
			FeatureTotalBalance: 10000, FeatureDigitalScore: 80, FeatureAge: 25, FeatureChurnRiskScore: 50,
		}, "Digital Natives"},
		{"at-risk", map[string]float64{
			FeatureTotalBalance: 10000, FeatureDigitalScore: 40, FeatureAge: 50, FeatureChurnRiskScore: 21, FeatureTenureDays: 10,
		}, "At-Risk Customers"},
		{"new customers", map[string]float64{
			FeatureTotalBalance: 10000, FeatureAge: 50, FeatureChurnRiskScore: 5, FeatureTenureDays: 100,
		}, "New Customers"},
		{"dormant savers", map[string]float64{
			FeatureTotalBalance: 10000, FeatureAge: 50, FeatureTenureDays: 1000, FeatureTxnFrequency: 2,
		}, "Dormant Savers"},
		{"growing professionals", map[string]float64{
			FeatureTotalBalance: 40000, FeatureDigitalScore: 70, FeatureAge: 40, FeatureTenureDays: 1000,
		}, "Growing Professionals"},
		{"no rule", map[string]float64{
			FeatureTotalBalance: 40000, FeatureDigitalScore: 50, FeatureAge: 40, FeatureTenureDays: 1000,
		}, "Standard Segment 3"},
		{"boundaries are strict", map[string]float64{
			FeatureTotalBalance: 50000, FeatureDigitalScore: 80, FeatureAge: 35, FeatureChurnRiskScore: 20, FeatureTenureDays: 365, FeatureTxnFrequency: 5,
		}, "Growing Professionals"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, namer.Name(2, profile(5, tt.avgs)))
		})
	}
}

func TestSegmentNamerEmptySegment(t *testing.T) {
	namer := NewSegmentNamer(DefaultNamingRules())
	assert.Equal(t, "Standard Segment 1", namer.Name(0, profile(0, map[string]float64{})))
}

func TestSegmentNamerCustomRules(t *testing.T) {
	namer := NewSegmentNamer([]NamingRule{
		{Label: "Anyone", Match: func(SegmentProfile) bool { return true }},
	})
	names := namer.NameAll(map[int]SegmentProfile{0: profile(1, nil), 1: profile(0, nil)})
	assert.Equal(t, map[int]string{0: "Anyone", 1: "Standard Segment 2"}, names)
}

func TestProfileSegments(t *testing.T) {
	names := []string{FeatureTotalBalance, FeatureDigitalScore}
	rows := []FeatureVector{
		{CustomerID: 1, Values: []float64{100, 10}},
		{CustomerID: 2, Values: []float64{300, 30}},
		{CustomerID: 3, Values: []float64{50, 90}},
		{CustomerID: 4, Values: []float64{50, 70}},
	}
	profiles := ProfileSegments(names, rows, []int{0, 0, 1, 1}, 3)
	assert.Len(t, profiles, 3)
	assert.Equal(t, 2, profiles[0].Size)
	assert.Equal(t, 50.0, profiles[0].Percentage)
	assert.Equal(t, 200.0, profiles[0].Avg(FeatureTotalBalance))
	assert.Equal(t, 80.0, profiles[1].Avg(FeatureDigitalScore))
	assert.Equal(t, 0, profiles[2].Size)
	assert.Equal(t, 0.0, profiles[2].Percentage)
}
