package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "iris.csv")
	require.NoError(t, os.WriteFile(path, []byte("x1,x2,target\n1,2.5,0\n3,4,1\n"), 0o644))

	tbl, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x1", "x2", "target"}, tbl.Columns)
	assert.Equal(t, 2, tbl.Len())

	X, y, names, err := tbl.Features("target")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2.5}, {3, 4}}, X)
	assert.Equal(t, []string{"0", "1"}, y)
	assert.Equal(t, []string{"x1", "x2"}, names)
}

func TestReadCSV_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := ReadCSV(filepath.Join(dir, "missing.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = ReadCSV(empty)
	require.ErrorContains(t, err, "empty file")

	ragged := filepath.Join(dir, "ragged.csv")
	require.NoError(t, os.WriteFile(ragged, []byte("a,b\n1,2\n3\n"), 0o644))
	_, err = ReadCSV(ragged)
	require.Error(t, err)
}

func TestFeatures_NonNumeric(t *testing.T) {
	t.Parallel()

	tbl := &Table{Columns: []string{"x", "y"}, Rows: [][]string{{"abc", "0"}}}
	_, _, _, err := tbl.Features("y")
	require.ErrorContains(t, err, `column "x"`)

	_, _, _, err = tbl.Features("nope")
	require.ErrorContains(t, err, `column "nope" not found`)
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	in := &Table{Columns: []string{"a", "b"}, Rows: [][]string{{"1", "x"}, {"2", "y"}}}
	require.NoError(t, WriteCSV(path, in))

	out, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	sub := out.Subset([]int{1})
	assert.Equal(t, [][]string{{"2", "y"}}, sub.Rows)
	sub.Rows[0][0] = "changed"
	assert.Equal(t, "2", out.Rows[1][0])
}
