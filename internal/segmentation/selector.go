package segmentation

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// KCandidate records the trial fit for one cluster count.
type KCandidate struct {
	K          int     `json:"k"`
	Inertia    float64 `json:"inertia"`
	Silhouette float64 `json:"silhouette"`
}

// ClusterCountSelector picks K by inertia elbow, falling back to the best
// silhouette when the elbow's silhouette is below the floor.
type ClusterCountSelector struct {
	engine ClusteringEngine
	minK   int
	maxK   int
	floor  float64
	logger *zap.Logger
}

func NewClusterCountSelector(cfg Config, logger *zap.Logger) *ClusterCountSelector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClusterCountSelector{
		engine: NewClusteringEngine(cfg),
		minK:   cfg.MinK,
		maxK:   cfg.MaxK,
		floor:  cfg.SilhouetteFloor,
		logger: logger,
	}
}

// Select evaluates every K in [minK, maxK] (maxK capped at len(X)-1) and
// returns the chosen K with all candidates.
func (s *ClusterCountSelector) Select(X [][]float64) (int, []KCandidate, error) {
	maxK := s.maxK
	if maxK > len(X)-1 {
		maxK = len(X) - 1
	}
	if maxK-s.minK+1 < 3 {
		return 0, nil, fmt.Errorf("%w: %d points leave fewer than 3 cluster counts in [%d, %d]",
			ErrInsufficientData, len(X), s.minK, s.maxK)
	}

	candidates := make([]KCandidate, 0, maxK-s.minK+1)
	for k := s.minK; k <= maxK; k++ {
		res, err := s.engine.Fit(X, k)
		if err != nil {
			return 0, nil, err
		}
		candidates = append(candidates, KCandidate{
			K:          k,
			Inertia:    res.Inertia,
			Silhouette: Silhouette(X, res.Labels, k),
		})
	}

	idx := elbowIndex(candidates)
	if candidates[idx].Silhouette < s.floor && len(candidates) > 2 {
		best := 0
		for i, c := range candidates {
			if c.Silhouette > candidates[best].Silhouette {
				best = i
			}
		}
		s.logger.Info("elbow silhouette below floor, using best silhouette",
			zap.Int("elbow_k", candidates[idx].K),
			zap.Float64("elbow_silhouette", candidates[idx].Silhouette),
			zap.Int("k", candidates[best].K),
		)
		idx = best
	}
	s.logger.Info("selected cluster count",
		zap.Int("k", candidates[idx].K),
		zap.Any("candidates", candidates),
	)
	return candidates[idx].K, candidates, nil
}

// elbowIndex returns the position with the largest second difference of inertia
// relative to the preceding first difference. A zero first difference counts as 0.
func elbowIndex(candidates []KCandidate) int {
	diffs := make([]float64, len(candidates)-1)
	for i := range diffs {
		diffs[i] = candidates[i+1].Inertia - candidates[i].Inertia
	}
	best, bestRatio := 0, math.Inf(-1)
	for i := 0; i < len(diffs)-1; i++ {
		ratio := 0.0
		if diffs[i] != 0 {
			ratio = (diffs[i+1] - diffs[i]) / diffs[i]
		}
		if ratio > bestRatio {
			best, bestRatio = i, ratio
		}
	}
	return best
}

// Silhouette returns the mean silhouette coefficient of a labelling. Empty
// clusters are ignored, points in singleton clusters score 0, and fewer than
// two non-empty clusters give 0.
func Silhouette(X [][]float64, labels []int, k int) float64 {
	sizes := make([]int, k)
	for _, l := range labels {
		sizes[l]++
	}
	nonEmpty := 0
	for _, s := range sizes {
		if s > 0 {
			nonEmpty++
		}
	}
	if nonEmpty < 2 || len(X) == 0 {
		return 0
	}

	total := 0.0
	sums := make([]float64, k)
	for i, x := range X {
		for c := range sums {
			sums[c] = 0
		}
		for j, y := range X {
			if i == j {
				continue
			}
			sums[labels[j]] += math.Sqrt(sqDist(x, y))
		}
		own := labels[i]
		if sizes[own] < 2 {
			continue
		}
		a := sums[own] / float64(sizes[own]-1)
		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == own || sizes[c] == 0 {
				continue
			}
			if m := sums[c] / float64(sizes[c]); m < b {
				b = m
			}
		}
		if denom := math.Max(a, b); denom > 0 {
			total += (b - a) / denom
		}
	}
	return total / float64(len(X))
}
