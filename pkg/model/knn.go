package model

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
)

// KNN is a k-nearest-neighbours classifier over Euclidean distance.
type KNN struct {
	K int
	X [][]float64
	Y []int
}

// NewKNN creates and returns a new KNN model.
func NewKNN(k int) *KNN {
	return &KNN{K: k}
}

func init() {
	Register(Family{
		Name:   "knn",
		Params: []string{"n_neighbors"},
		New: func(p Params) (Classifier, error) {
			k, err := p.Int("n_neighbors", 5)
			if err != nil {
				return nil, err
			}
			if k < 1 {
				return nil, fmt.Errorf("knn: n_neighbors must be positive, got %d", k)
			}
			return NewKNN(k), nil
		},
	}, &KNN{})
}

// Fit trains the model by simply storing the training data and labels.
func (m *KNN) Fit(X [][]float64, y []int) error {
	if err := checkXY(X, y); err != nil {
		return fmt.Errorf("knn: %w", err)
	}
	if err := CheckFinite(X, nil); err != nil {
		return fmt.Errorf("knn: %w", err)
	}
	m.X = X
	m.Y = y
	return nil
}

// Predict labels each row by majority vote among its K nearest training
// rows, splitting rows across GOMAXPROCS workers.
func (m *KNN) Predict(X [][]float64) []int {
	if len(X) == 0 {
		return nil
	}

	out := make([]int, len(X))
	var wg sync.WaitGroup
	workers := runtime.GOMAXPROCS(0)
	rowsPerWorker := (len(X) + workers - 1) / workers

	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		end := min(start+rowsPerWorker, len(X))
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				out[i] = m.predictSingle(X[i])
			}
		}(start, end)
	}

	wg.Wait()
	return out
}

func (m *KNN) predictSingle(xi []float64) int {
	type pair struct {
		d   float64
		idx int
	}
	// distance ties resolve to the earlier training row
	less := func(a, b pair) bool {
		if a.d == b.d {
			return a.idx < b.idx
		}
		return a.d < b.d
	}

	nbrs := make([]pair, 0, m.K+1)
	for j, xj := range m.X {
		p := pair{d: euclidSquared(xi, xj), idx: j}
		if len(nbrs) < m.K {
			nbrs = append(nbrs, p)
			sort.Slice(nbrs, func(a, b int) bool { return less(nbrs[a], nbrs[b]) })
		} else if less(p, nbrs[len(nbrs)-1]) {
			nbrs[len(nbrs)-1] = p
			sort.Slice(nbrs, func(a, b int) bool { return less(nbrs[a], nbrs[b]) })
		}
	}

	votes := make(map[int]int, len(nbrs))
	for _, p := range nbrs {
		votes[m.Y[p.idx]]++
	}
	best, bestCount := 0, -1
	for label, c := range votes {
		if c > bestCount || (c == bestCount && label < best) {
			best, bestCount = label, c
		}
	}
	return best
}

// euclidSquared computes the squared Euclidean distance between two vectors.
func euclidSquared(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
