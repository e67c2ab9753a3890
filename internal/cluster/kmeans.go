package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// KMeans holds centroids and the number of points each centroid has absorbed.
// The per-centroid count drives the learning rate of online updates.
type KMeans struct {
	Centroids [][]float64 `json:"centroids"`
	Counts    []int       `json:"counts"`
}

var errDimension = errors.New("vector dimension does not match model")

// fitKMeans runs k-means++ seeding followed by Lloyd iterations.
func fitKMeans(points [][]float64, k, maxIter int, rng *rand.Rand) (*KMeans, error) {
	if k < 1 {
		return nil, fmt.Errorf("n_clusters must be at least 1, got %d", k)
	}
	if len(points) < k {
		return nil, fmt.Errorf("%d samples for %d clusters", len(points), k)
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim || dim == 0 {
			return nil, fmt.Errorf("sample %d: %w", i, errDimension)
		}
	}

	m := &KMeans{Centroids: seedPlusPlus(points, k, rng), Counts: make([]int, k)}

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			c, _ := m.nearest(p)
			if c != labels[i] {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for c := range m.Counts {
			m.Counts[c] = 0
		}
		for i, p := range points {
			c := labels[i]
			m.Counts[c]++
			for d, v := range p {
				sums[c][d] += v
			}
		}
		for c := range sums {
			// An empty cluster keeps its previous centroid.
			if m.Counts[c] == 0 {
				continue
			}
			n := float64(m.Counts[c])
			for d := range sums[c] {
				m.Centroids[c][d] = sums[c][d] / n
			}
		}
	}

	return m, nil
}

func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.Intn(len(points))]))

	dist := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			best := math.Inf(1)
			for _, c := range centroids {
				if d := sqDist(p, c); d < best {
					best = d
				}
			}
			dist[i] = best
			total += best
		}

		next := rng.Intn(len(points))
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 {
					next = i
					break
				}
			}
		}
		centroids = append(centroids, clone(points[next]))
	}
	return centroids
}

// Predict returns the index of the nearest centroid.
func (m *KMeans) Predict(x []float64) (int, error) {
	if len(m.Centroids) == 0 || len(x) != len(m.Centroids[0]) {
		return 0, errDimension
	}
	c, _ := m.nearest(x)
	return c, nil
}

// PartialFit moves the nearest centroid toward x with learning rate 1/count.
func (m *KMeans) PartialFit(x []float64) error {
	c, err := m.Predict(x)
	if err != nil {
		return err
	}
	m.Counts[c]++
	eta := 1 / float64(m.Counts[c])
	for d, v := range x {
		m.Centroids[c][d] += eta * (v - m.Centroids[c][d])
	}
	return nil
}

func (m *KMeans) nearest(x []float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range m.Centroids {
		if d := sqDist(x, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

func sqDist(a, b []float64) float64 {
	var s float64
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

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
