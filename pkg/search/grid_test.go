package search

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlrepa/mlpanel-demo/pkg/model"
)

func TestExpand(t *testing.T) {
	t.Parallel()

	g := ParamGrid{"max_depth": {2, 4}, "criterion": {"gini", "entropy"}}
	want := []model.Params{
		{"criterion": "gini", "max_depth": 2},
		{"criterion": "gini", "max_depth": 4},
		{"criterion": "entropy", "max_depth": 2},
		{"criterion": "entropy", "max_depth": 4},
	}
	if diff := cmp.Diff(want, g.Expand()); diff != "" {
		t.Errorf("Expand() mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]model.Params{{}}, ParamGrid{}.Expand()); diff != "" {
		t.Errorf("empty grid mismatch (-want +got):\n%s", diff)
	}
}

func TestGridFromConfig(t *testing.T) {
	t.Parallel()

	g, err := GridFromConfig(map[string]any{"C": []any{0.1, 1.0}, "max_iter": 50})
	require.NoError(t, err)
	assert.Equal(t, ParamGrid{"C": {0.1, 1.0}, "max_iter": {50}}, g)

	_, err = GridFromConfig(map[string]any{"C": []any{}})
	require.Error(t, err)
	_, err = GridFromConfig(map[string]any{"C": map[string]any{"a": 1}})
	require.Error(t, err)
}

// stripes has labels fully determined by the first feature.
func stripes() ([][]float64, []int) {
	var X [][]float64
	var y []int
	for i := 0; i < 24; i++ {
		X = append(X, []float64{float64(i % 3), float64(i)})
		y = append(y, i%3)
	}
	return X, y
}

func TestGridSearch_Run(t *testing.T) {
	t.Parallel()

	X, y := stripes()
	gs := &GridSearch{
		Estimator: "tree",
		Grid:      ParamGrid{"max_depth": {1, 3}},
		CV:        3,
		Scoring:   "accuracy",
		NJobs:     2,
	}
	res, err := gs.Run(context.Background(), X, y)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)

	// a depth-1 stump cannot separate three classes
	assert.Less(t, res.Candidates[0].Mean, 1.0)
	assert.Equal(t, 1.0, res.Candidates[1].Mean)
	assert.Equal(t, 1, res.BestIndex)
	assert.Equal(t, model.Params{"max_depth": 3}, res.BestCandidate().Params)
	assert.Equal(t, y, res.Best.Predict(X))

	var buf bytes.Buffer
	res.WriteTable(&buf)
	assert.Contains(t, buf.String(), "max_depth=3")
	assert.Contains(t, buf.String(), "Fold 2")
}

func TestGridSearch_TiesPickFirst(t *testing.T) {
	t.Parallel()

	X, y := stripes()
	gs := &GridSearch{
		Estimator: "tree",
		Grid:      ParamGrid{"max_depth": {3, 5, 7}},
		CV:        2,
		Scoring:   "f1_weighted",
	}
	res, err := gs.Run(context.Background(), X, y)
	require.NoError(t, err)
	assert.Equal(t, 0, res.BestIndex)
}

func TestGridSearch_Deterministic(t *testing.T) {
	t.Parallel()

	X, y := stripes()
	gs := &GridSearch{
		Estimator: "random_forest",
		Grid:      ParamGrid{"n_estimators": {3, 5}, "max_depth": {1, 2}},
		Base:      model.Params{"random_state": 42},
		CV:        3,
		Scoring:   "f1_macro",
	}
	first, err := gs.Run(context.Background(), X, y)
	require.NoError(t, err)
	second, err := gs.Run(context.Background(), X, y)
	require.NoError(t, err)

	assert.Equal(t, first.BestIndex, second.BestIndex)
	for i := range first.Candidates {
		assert.Equal(t, first.Candidates[i].FoldScores, second.Candidates[i].FoldScores)
	}
}

func TestGridSearch_Errors(t *testing.T) {
	t.Parallel()

	X, y := stripes()
	ctx := context.Background()

	_, err := (&GridSearch{Estimator: "svm", CV: 3, Scoring: "accuracy"}).Run(ctx, X, y)
	require.ErrorIs(t, err, model.ErrUnknownEstimator)

	_, err = (&GridSearch{Estimator: "knn", Grid: ParamGrid{"C": {1}}, CV: 3, Scoring: "accuracy"}).Run(ctx, X, y)
	require.ErrorIs(t, err, model.ErrUnknownParam)

	_, err = (&GridSearch{Estimator: "knn", CV: 3, Scoring: "roc_auc"}).Run(ctx, X, y)
	require.ErrorContains(t, err, "unknown scoring")

	_, err = (&GridSearch{Estimator: "knn", CV: 1, Scoring: "accuracy"}).Run(ctx, X, y)
	require.Error(t, err)
}
