package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnStats(t *testing.T) {
	t.Parallel()

	x := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(x), 1e-12)
	assert.InDelta(t, 2.0, Std(x), 1e-12)
	assert.InDelta(t, 4.5, Median(x), 1e-12)
	assert.InDelta(t, 4.0, Mode(x), 1e-12)
	assert.InDelta(t, 2.0, Percentile(x, 0), 1e-12)
	assert.InDelta(t, 9.0, Percentile(x, 100), 1e-12)

	lo, hi := MinMax(x)
	assert.Equal(t, 2.0, lo)
	assert.Equal(t, 9.0, hi)

	assert.Zero(t, Mean(nil))
	assert.Zero(t, Std([]float64{3}))
	assert.Equal(t, 1.0, Mode([]float64{3, 1, 3, 1}))
}

func TestStandardScaler(t *testing.T) {
	t.Parallel()

	s := NewStandardScaler()
	out, err := s.FitTransform([][]float64{{1, 5}, {3, 5}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{-1, 0}, {1, 0}}, out)
	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Std)

	require.Error(t, NewStandardScaler().Fit(nil))
}

func TestClipColumn(t *testing.T) {
	t.Parallel()

	x := []float64{0, 1, 2, 3, 100}
	ClipColumn(x, 0, 75)
	assert.Equal(t, []float64{0, 1, 2, 3, 3}, x)
}
