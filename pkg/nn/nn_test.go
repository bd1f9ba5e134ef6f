package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSoftmax(t *testing.T) {
	t.Parallel()

	out := make([]float64, 3)
	Softmax([]float64{1000, 1000, 1000}, out)
	for _, p := range out {
		assert.InDelta(t, 1.0/3, p, 1e-12)
	}

	z := []float64{0, math.Log(3)}
	Softmax(z, z)
	assert.InDelta(t, 0.25, z[0], 1e-12)
	assert.InDelta(t, 0.75, z[1], 1e-12)
}

func TestCrossEntropy(t *testing.T) {
	t.Parallel()

	loss, grad := CrossEntropy([]int{1}, [][]float64{{0.5, 0.5}})
	assert.InDelta(t, math.Log(2), loss, 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, -0.5}, grad[0], 1e-12)
}
