// Package loader produces the row index partitions used for hold-out and
// cross-validation splits.
package loader

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
)

// TrainTestSplit shuffles 0..n-1 with seed and returns ceil(n*testSize)
// indices as the test set and the rest as the train set.
func TrainTestSplit(n int, testSize float64, seed int64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test_size must be in (0, 1), got %v", testSize)
	}
	nTest := int(math.Ceil(float64(n) * testSize))
	if nTest < 1 || n-nTest < 1 {
		return nil, nil, fmt.Errorf("cannot split %d rows with test_size %v into non-empty sets", n, testSize)
	}
	indices := rand.New(rand.NewSource(seed)).Perm(n)
	return indices[nTest:], indices[:nTest], nil
}

// Fold is one cross-validation partition of row indices, both sorted.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold partitions rows into k folds keeping each class's share
// roughly equal across folds. Rows are taken in order without shuffling, so
// the same labels always produce the same folds.
func StratifiedKFold(y []int, k int) ([]Fold, error) {
	n := len(y)
	if k < 2 {
		return nil, fmt.Errorf("cv must be at least 2, got %d", k)
	}
	if k > n {
		return nil, fmt.Errorf("cv=%d exceeds the %d available rows", k, n)
	}

	// stable order: by class, then by row
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return y[a] - y[b] })

	assign := make([]int, n)
	for pos, row := range order {
		assign[row] = pos % k
	}

	folds := make([]Fold, k)
	for row := 0; row < n; row++ {
		for f := range folds {
			if assign[row] == f {
				folds[f].Test = append(folds[f].Test, row)
			} else {
				folds[f].Train = append(folds[f].Train, row)
			}
		}
	}
	return folds, nil
}
