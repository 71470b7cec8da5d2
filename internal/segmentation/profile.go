package segmentation

// SegmentProfile describes one cluster in raw feature space.
type SegmentProfile struct {
	Size       int                `json:"size"`
	Percentage float64            `json:"percentage"`
	Averages   map[string]float64 `json:"averages"`
}

// Avg returns the segment mean of a raw feature, 0 if unknown.
func (p SegmentProfile) Avg(feature string) float64 {
	return p.Averages[feature]
}

// ProfileSegments computes size, percentage (0-100) and the per-feature mean of
// every cluster in [0, k). Empty clusters get a zero profile.
func ProfileSegments(names []string, rows []FeatureVector, labels []int, k int) map[int]SegmentProfile {
	sums := make([][]float64, k)
	sizes := make([]int, k)
	for c := range sums {
		sums[c] = make([]float64, len(names))
	}
	for i, r := range rows {
		c := labels[i]
		sizes[c]++
		for j, v := range r.Values {
			sums[c][j] += v
		}
	}

	profiles := make(map[int]SegmentProfile, k)
	for c := 0; c < k; c++ {
		p := SegmentProfile{Size: sizes[c], Averages: make(map[string]float64, len(names))}
		if len(rows) > 0 {
			p.Percentage = float64(sizes[c]) / float64(len(rows)) * 100
		}
		for j, name := range names {
			if sizes[c] > 0 {
				p.Averages[name] = sums[c][j] / float64(sizes[c])
			} else {
				p.Averages[name] = 0
			}
		}
		profiles[c] = p
	}
	return profiles
}
