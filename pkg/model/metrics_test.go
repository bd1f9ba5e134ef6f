package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestConstantModelReport(t *testing.T) {
	t.Parallel()

	yTrue := []int{0, 1}
	yPred := []int{0, 0}

	f1, err := F1(yTrue, yPred, AverageBinary, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, f1)
	assert.Equal(t, [][]int{{1, 0}, {1, 0}}, ConfusionMatrix(yTrue, yPred, 2))
}

func TestF1_Averages(t *testing.T) {
	t.Parallel()

	yTrue := []int{0, 0, 1, 1, 2, 2}
	yPred := []int{0, 1, 1, 1, 2, 0}

	// per class: 0 -> 2/4, 1 -> 4/5, 2 -> 2/3
	macro, err := F1(yTrue, yPred, AverageMacro, 0)
	require.NoError(t, err)
	assert.InDelta(t, (0.5+0.8+2.0/3)/3, macro, 1e-12)

	weighted, err := F1(yTrue, yPred, AverageWeighted, 0)
	require.NoError(t, err)
	assert.InDelta(t, macro, weighted, 1e-12) // equal support

	micro, err := F1(yTrue, yPred, AverageMicro, 0)
	require.NoError(t, err)
	assert.InDelta(t, Accuracy(yTrue, yPred), micro, 1e-12)

	_, err = F1(yTrue, yPred, AverageBinary, 1)
	require.ErrorContains(t, err, "average=binary")

	_, err = F1(yTrue, yPred, "samples", 0)
	require.Error(t, err)
}

func TestScore(t *testing.T) {
	t.Parallel()

	yTrue := []int{0, 1, 1, 1}
	yPred := []int{0, 1, 1, 0}

	acc, err := Score("accuracy", yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, acc, 1e-12)

	w, err := Score("f1_weighted", yTrue, yPred)
	require.NoError(t, err)
	// class 0: 2/3 (support 1), class 1: 4/5 (support 3)
	assert.InDelta(t, (2.0/3+3*0.8)/4, w, 1e-12)

	_, err = Score("roc_auc", yTrue, yPred)
	require.Error(t, err)
	assert.True(t, ValidScoring("f1_macro"))
	assert.False(t, ValidScoring("roc_auc"))
}

func TestMetricProperties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(1, 4).Draw(t, "k")
		n := rapid.IntRange(1, 40).Draw(t, "n")
		yTrue := rapid.SliceOfN(rapid.IntRange(0, k-1), n, n).Draw(t, "yTrue")
		yPred := rapid.SliceOfN(rapid.IntRange(0, k-1), n, n).Draw(t, "yPred")

		cm := ConfusionMatrix(yTrue, yPred, k)
		total, diag := 0, 0
		for i, row := range cm {
			for j, c := range row {
				total += c
				if i == j {
					diag += c
				}
			}
		}
		if total != n {
			t.Fatalf("confusion matrix sums to %d, want %d", total, n)
		}
		if got := float64(diag) / float64(n); got != Accuracy(yTrue, yPred) {
			t.Fatalf("diagonal share %v != accuracy %v", got, Accuracy(yTrue, yPred))
		}
		for _, avg := range []string{AverageMacro, AverageMicro, AverageWeighted} {
			f1, err := F1(yTrue, yPred, avg, 0)
			if err != nil {
				t.Fatal(err)
			}
			if f1 < 0 || f1 > 1 {
				t.Fatalf("%s f1 %v out of range", avg, f1)
			}
		}
		perfect, _ := F1(yTrue, yTrue, AverageMacro, 0)
		if perfect != 1 {
			t.Fatalf("f1 of perfect predictions = %v", perfect)
		}
	})
}
