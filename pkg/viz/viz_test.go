package viz

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var pngMagic = []byte("\x89PNG")

func TestCVScoresPlot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plots", "cv_scores.png")
	err := CVScoresPlot(path, "f1_weighted", []string{"C=0.1", "C=1", "C=10"}, []float64{0.8, 0.93, 0.91}, 1)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(b, pngMagic))

	require.Error(t, CVScoresPlot(path, "accuracy", []string{"a"}, nil, 0))
}

func TestConfusionMatrixPlot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cm.png")
	require.NoError(t, ConfusionMatrixPlot(path, [][]int{{5, 1}, {0, 4}}, []string{"0", "1"}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(b, pngMagic))

	// a uniform matrix still renders
	require.NoError(t, ConfusionMatrixPlot(filepath.Join(dir, "flat.png"), [][]int{{0, 0}, {0, 0}}, []string{"a", "b"}))

	require.Error(t, ConfusionMatrixPlot(path, [][]int{{1, 2}}, []string{"a"}))
	require.Error(t, ConfusionMatrixPlot(path, [][]int{{1}}, []string{"a", "b"}))
}
