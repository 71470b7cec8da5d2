package segmentation

import (
	"fmt"
	"math"
	"math/rand"
)

// ClusteringResult is one fitted partition of a data set.
type ClusteringResult struct {
	Centroids  [][]float64
	Labels     []int
	Inertia    float64
	Iterations int
}

// ClusteringEngine fits k-means with seeded k-means++ initialisation and keeps
// the lowest-inertia run out of Restarts attempts.
type ClusteringEngine struct {
	Seed     int64
	Restarts int
	MaxIter  int
}

func NewClusteringEngine(cfg Config) ClusteringEngine {
	return ClusteringEngine{Seed: cfg.Seed, Restarts: cfg.Restarts, MaxIter: cfg.MaxIterations}
}

// Fit partitions X into k clusters. Restart r is seeded with Seed+r, so equal
// inputs always produce equal results.
func (e ClusteringEngine) Fit(X [][]float64, k int) (ClusteringResult, error) {
	if k < 1 {
		return ClusteringResult{}, fmt.Errorf("kmeans: k must be positive, got %d", k)
	}
	if len(X) < k {
		return ClusteringResult{}, fmt.Errorf("%w: %d points cannot form %d clusters", ErrInsufficientData, len(X), k)
	}
	restarts := e.Restarts
	if restarts < 1 {
		restarts = 1
	}
	var best ClusteringResult
	for r := 0; r < restarts; r++ {
		rng := rand.New(rand.NewSource(e.Seed + int64(r)))
		res := lloyd(X, initCenters(X, k, rng), e.MaxIter)
		if r == 0 || res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}

// initCenters picks k starting centroids with k-means++.
func initCenters(X [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(X)
	centers := make([][]float64, 0, k)
	centers = append(centers, clone(X[rng.Intn(n)]))

	dist := make([]float64, n)
	for i := range X {
		dist[i] = sqDist(X[i], centers[0])
	}
	for len(centers) < k {
		total := 0.0
		for _, d := range dist {
			total += d
		}
		idx := rng.Intn(n)
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range dist {
				acc += d
				if d > 0 && acc >= target {
					idx = i
					break
				}
			}
		}
		c := clone(X[idx])
		centers = append(centers, c)
		for i := range X {
			if d := sqDist(X[i], c); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centers
}

// lloyd runs assignment/update rounds until assignments stop changing. Empty
// clusters keep their previous centroid. Labels and inertia are recomputed
// against the final centroids.
func lloyd(X [][]float64, centroids [][]float64, maxIter int) ClusteringResult {
	n, k, p := len(X), len(centroids), len(X[0])
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	it := 0
	for ; it < maxIter; it++ {
		changed := false
		for i, x := range X {
			best, _ := nearest(centroids, x)
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, p)
		}
		for i, x := range X {
			c := labels[i]
			counts[c]++
			for j := 0; j < p; j++ {
				sums[c][j] += x[j]
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for j := 0; j < p; j++ {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}

	inertia := 0.0
	for i, x := range X {
		best, d := nearest(centroids, x)
		labels[i] = best
		inertia += d * d
	}
	return ClusteringResult{Centroids: centroids, Labels: labels, Inertia: inertia, Iterations: it}
}

// nearest returns the index of the closest centroid and its Euclidean distance.
// Ties go to the lowest index.
func nearest(centroids [][]float64, x []float64) (int, float64) {
	best, bestSq := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(x, centroid); d < bestSq {
			best, bestSq = c, d
		}
	}
	return best, math.Sqrt(bestSq)
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
