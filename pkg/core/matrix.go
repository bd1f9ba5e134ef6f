// Package core holds the dense row-major matrix used by the linear models.
package core

import (
	"errors"
	"runtime"
	"sync"
)

var ErrShape = errors.New("dimension mismatch")

type Matrix struct {
	R, C int
	Data []float64
}

// NewMatrix allocates a zero matrix.
func NewMatrix(r, c int) *Matrix {
	return &Matrix{R: r, C: c, Data: make([]float64, r*c)}
}

// FromRows copies a nested slice into a matrix. Rows must share one length.
func FromRows(a [][]float64) (*Matrix, error) {
	if len(a) == 0 {
		return &Matrix{}, nil
	}
	m := NewMatrix(len(a), len(a[0]))
	for i, row := range a {
		if len(row) != m.C {
			return nil, ErrShape
		}
		copy(m.Data[i*m.C:], row)
	}
	return m, nil
}

func (m *Matrix) At(i, j int) float64     { return m.Data[i*m.C+j] }
func (m *Matrix) Set(i, j int, v float64) { m.Data[i*m.C+j] = v }

// Row returns row i sharing the matrix storage.
func (m *Matrix) Row(i int) []float64 { return m.Data[i*m.C : (i+1)*m.C] }

// Rows returns every row as a slice sharing the matrix storage.
func (m *Matrix) Rows() [][]float64 {
	out := make([][]float64, m.R)
	for i := range out {
		out[i] = m.Row(i)
	}
	return out
}

// Zero resets every element.
func (m *Matrix) Zero() { clear(m.Data) }

// AddRowVec adds v to every row in place.
func (m *Matrix) AddRowVec(v []float64) error {
	if len(v) != m.C {
		return ErrShape
	}
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for j := range row {
			row[j] += v[j]
		}
	}
	return nil
}

// ColSums returns the sum of each column.
func (m *Matrix) ColSums() []float64 {
	out := make([]float64, m.C)
	for i := 0; i < m.R; i++ {
		for j, v := range m.Row(i) {
			out[j] += v
		}
	}
	return out
}

// parallelRows splits [0, n) across GOMAXPROCS workers. Workers own
// disjoint output rows, so no locking is needed.
func parallelRows(n int, fn func(start, end int)) {
	workers := runtime.GOMAXPROCS(0)
	rowsPerWorker := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		end := min(start+rowsPerWorker, n)
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(rs, re int) {
			defer wg.Done()
			fn(rs, re)
		}(start, end)
	}
	wg.Wait()
}

// MulT returns A·Bᵀ, the product used for a batch of rows against one
// weight row per class.
func MulT(A, B *Matrix) (*Matrix, error) {
	if A.C != B.C {
		return nil, ErrShape
	}
	C := NewMatrix(A.R, B.R)
	parallelRows(A.R, func(rs, re int) {
		for i := rs; i < re; i++ {
			a := A.Row(i)
			out := C.Row(i)
			for j := 0; j < B.R; j++ {
				sum := 0.0
				for k, bv := range B.Row(j) {
					sum += a[k] * bv
				}
				out[j] = sum
			}
		}
	})
	return C, nil
}

// TMulInto writes Aᵀ·B into dst, which must be A.C x B.C.
func TMulInto(dst, A, B *Matrix) error {
	if A.R != B.R || dst.R != A.C || dst.C != B.C {
		return ErrShape
	}
	dst.Zero()
	parallelRows(dst.R, func(rs, re int) {
		for r := rs; r < re; r++ {
			out := dst.Row(r)
			for i := 0; i < A.R; i++ {
				a := A.Data[i*A.C+r]
				if a == 0 {
					continue
				}
				for j, bv := range B.Row(i) {
					out[j] += a * bv
				}
			}
		}
	})
	return nil
}
