package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMatrixBasics(t *testing.T) {
	t.Parallel()

	m, err := FromRows([][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, 2, m.R)
	assert.Equal(t, 3, m.C)
	assert.Equal(t, 6.0, m.At(1, 2))

	m.Set(0, 1, 9)
	assert.Equal(t, []float64{1, 9, 3}, m.Row(0))
	require.NoError(t, m.AddRowVec([]float64{1, 1, 1}))
	assert.Equal(t, [][]float64{{2, 10, 4}, {5, 6, 7}}, m.Rows())
	assert.Equal(t, []float64{7, 16, 11}, m.ColSums())

	require.ErrorIs(t, m.AddRowVec([]float64{1}), ErrShape)
	_, err = FromRows([][]float64{{1, 2}, {3}})
	require.ErrorIs(t, err, ErrShape)
}

func TestMulT(t *testing.T) {
	t.Parallel()

	a, _ := FromRows([][]float64{{1, 2}, {3, 4}, {5, 6}})
	w, _ := FromRows([][]float64{{1, 0}, {0, 1}})
	z, err := MulT(a, w)
	require.NoError(t, err)
	assert.Equal(t, a.Rows(), z.Rows())

	_, err = MulT(a, NewMatrix(2, 3))
	require.ErrorIs(t, err, ErrShape)
}

func TestTMulInto(t *testing.T) {
	t.Parallel()

	a, _ := FromRows([][]float64{{1, 2}, {3, 4}})
	b, _ := FromRows([][]float64{{5, 6, 7}, {8, 9, 10}})
	dst := NewMatrix(2, 3)
	dst.Data[0] = 100 // overwritten
	require.NoError(t, TMulInto(dst, a, b))
	assert.Equal(t, [][]float64{{29, 33, 37}, {42, 48, 54}}, dst.Rows())

	require.ErrorIs(t, TMulInto(NewMatrix(3, 3), a, b), ErrShape)
}

// Property: MulT agrees with a naive triple loop.
func TestMulT_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		k := rapid.IntRange(1, 5).Draw(t, "k")
		p := rapid.IntRange(1, 6).Draw(t, "p")
		gen := rapid.Float64Range(-10, 10)

		a, b := NewMatrix(n, p), NewMatrix(k, p)
		for i := range a.Data {
			a.Data[i] = gen.Draw(t, "a")
		}
		for i := range b.Data {
			b.Data[i] = gen.Draw(t, "b")
		}
		got, err := MulT(a, b)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < n; i++ {
			for j := 0; j < k; j++ {
				want := 0.0
				for x := 0; x < p; x++ {
					want += a.At(i, x) * b.At(j, x)
				}
				if got.At(i, j) != want {
					t.Fatalf("(%d,%d): got %v want %v", i, j, got.At(i, j), want)
				}
			}
		}
	})
}
