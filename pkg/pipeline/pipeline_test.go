package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlrepa/mlpanel-demo/pkg/config"
	"github.com/mlrepa/mlpanel-demo/pkg/data"
	"github.com/mlrepa/mlpanel-demo/pkg/model"
	"github.com/mlrepa/mlpanel-demo/pkg/tracking"
)

// recordingStore remembers every run it creates.
type recordingStore struct {
	tracking.Store

	mu   sync.Mutex
	runs []tracking.RunInfo
}

func (s *recordingStore) CreateRun(ctx context.Context, expID, name string, start int64, tags map[string]string) (*tracking.RunInfo, error) {
	info, err := s.Store.CreateRun(ctx, expID, name, start, tags)
	if err == nil {
		s.mu.Lock()
		s.runs = append(s.runs, *info)
		s.mu.Unlock()
	}
	return info, err
}

func (s *recordingStore) created() []tracking.RunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tracking.RunInfo(nil), s.runs...)
}

// recordingLauncher logs entry points and delegates to next, or fails the
// entries listed in fail.
type recordingLauncher struct {
	next Launcher
	fail map[string]error

	mu      sync.Mutex
	entries []string
	invs    []Invocation
}

func (l *recordingLauncher) Launch(ctx context.Context, entry string, inv Invocation) error {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.invs = append(l.invs, inv)
	l.mu.Unlock()
	if err := l.fail[entry]; err != nil {
		return err
	}
	if l.next == nil {
		return nil
	}
	return l.next.Launch(ctx, entry, inv)
}

type fixture struct {
	dir    string
	store  *recordingStore
	client *tracking.Client
	env    *Env
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	fs, err := tracking.NewFileStore(filepath.Join(dir, "mlruns"), clock)
	require.NoError(t, err)
	store := &recordingStore{Store: fs}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := tracking.NewClientWithStore(store, tracking.ClientConfig{Clock: clock, Logger: log})
	return &fixture{
		dir:    dir,
		store:  store,
		client: client,
		env:    &Env{Tracking: client, Log: log, Out: io.Discard, Clock: clock},
	}
}

// writeDataset writes three separable classes of 10 rows each.
func (f *fixture) writeDataset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(f.dir, "data", "raw", "iris.csv")
	tbl := &data.Table{Columns: []string{"sepal_length", "sepal_width", "petal_length", "petal_width", "target"}}
	centers := [][4]float64{{5.0, 3.4, 1.5, 0.2}, {5.9, 2.8, 4.3, 1.3}, {6.6, 3.0, 5.6, 2.0}}
	for c, ctr := range centers {
		for i := 0; i < 10; i++ {
			d := float64(i%5) * 0.05
			tbl.Rows = append(tbl.Rows, []string{
				fmt.Sprint(ctr[0] + d), fmt.Sprint(ctr[1] - d), fmt.Sprint(ctr[2] + d), fmt.Sprint(ctr[3] + float64(i/5)*0.05),
				fmt.Sprint(c),
			})
		}
	}
	require.NoError(t, data.WriteCSV(path, tbl))
	return path
}

func (f *fixture) config(dataset string) map[string]any {
	p := func(parts ...string) string { return filepath.Join(append([]string{f.dir}, parts...)...) }
	return map[string]any{
		"base": map[string]any{
			"random_state": 42,
			"model":        map[string]any{"model_name": "model.gob.zst", "models_folder": p("models")},
			"experiments":  map[string]any{"experiments_folder": p("experiments")},
		},
		"data_load": map[string]any{"dataset_csv": dataset},
		"featurize": map[string]any{
			"features_path": p("data", "processed", "featured_iris.csv"),
			"target_column": "target",
			"ratio_features": []any{
				map[string]any{"name": "sepal_ratio", "numerator": "sepal_length", "denominator": "sepal_width"},
			},
		},
		"split_train_test": map[string]any{
			"test_size": 0.2,
			"train_csv": p("data", "processed", "train_iris.csv"),
			"test_csv":  p("data", "processed", "test_iris.csv"),
		},
		"train": map[string]any{
			"cv":             3,
			"estimator_name": "tree",
			"estimators": map[string]any{
				"tree": map[string]any{"param_grid": map[string]any{"max_depth": []any{2, 3}}},
			},
		},
		"evaluate": map[string]any{
			"metrics_file":           "metrics.json",
			"confusion_matrix_image": "confusion_matrix.png",
		},
	}
}

func (f *fixture) writeConfig(t *testing.T, name string, cfg map[string]any) string {
	t.Helper()
	b, err := json.Marshal(cfg) // JSON is valid YAML
	require.NoError(t, err)
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func del(cfg map[string]any, key string) {
	parts := strings.Split(key, ".")
	m := cfg
	for _, p := range parts[:len(parts)-1] {
		m = m[p].(map[string]any)
	}
	delete(m, parts[len(parts)-1])
}

func TestRunner_LocalEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	cfgPath := f.writeConfig(t, "pipeline_config.yml", f.config(f.writeDataset(t)))

	runner := &Runner{Tracking: f.client, Launcher: &LocalLauncher{Env: f.env}, Log: f.env.Log}
	require.NoError(t, runner.Run(ctx, cfgPath))

	exp, err := f.client.GetExperimentByName(ctx, "tree")
	require.NoError(t, err)

	runs := f.store.created()
	require.Len(t, runs, 5)
	names := make([]string, len(runs))
	for i, r := range runs {
		names[i] = r.RunName
		assert.Equal(t, exp.ID, r.ExperimentID)
	}
	assert.Equal(t, []string{"main", "featurize", "split_train_test", "train", "evaluate"}, names)

	parentID := runs[0].RunID
	byName := map[string]*tracking.RunData{}
	for _, r := range runs {
		rd, err := f.client.GetRun(ctx, r.RunID)
		require.NoError(t, err)
		assert.Equal(t, tracking.StatusFinished, rd.Info.Status, r.RunName)
		if r.RunName != "main" {
			assert.Equal(t, parentID, rd.Tags[tracking.TagParentRunID])
		}
		byName[r.RunName] = rd
	}

	assert.Equal(t, "30", byName["featurize"].Params["n_rows"])
	assert.Equal(t, "5", byName["featurize"].Params["n_features"])
	assert.Equal(t, "target", byName["featurize"].Params["target_column"])

	assert.Equal(t, 24.0, byName["split_train_test"].Metrics["train_rows"])
	assert.Equal(t, 6.0, byName["split_train_test"].Metrics["test_rows"])
	assert.Equal(t, "42", byName["split_train_test"].Params["random_state"])

	tr := byName["train"]
	assert.Equal(t, "tree", tr.Params["estimator"])
	assert.Equal(t, "3", tr.Params["cv"])
	assert.Equal(t, "[2,3]", tr.Params["max_depth"])
	assert.InDelta(t, 1.0, tr.Metrics["cv_best_score"], 1e-9)

	u, err := url.Parse(tr.Info.ArtifactURI)
	require.NoError(t, err)
	artifacts := filepath.FromSlash(u.Path)
	assert.FileExists(t, filepath.Join(artifacts, "model", "model.gob.zst"))
	assert.FileExists(t, filepath.Join(artifacts, "model", "MLmodel"))
	assert.FileExists(t, filepath.Join(artifacts, "cv_scores.png"))

	ev := byName["evaluate"]
	assert.Equal(t, []string{"f1_score"}, keys(ev.Metrics))

	var report map[string]any
	b, err := os.ReadFile(filepath.Join(f.dir, "experiments", "metrics.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &report))
	assert.ElementsMatch(t, []string{"f1_score", "confusion_matrix"}, mapKeys(report))
	assert.InDelta(t, ev.Metrics["f1_score"], report["f1_score"], 1e-12)
	assert.True(t, strings.HasPrefix(string(b), "{\n  \""), "metrics file is 2-space indented")
	assert.FileExists(t, filepath.Join(f.dir, "experiments", "confusion_matrix.png"))
}

func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func mapKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestWorkflow_FeaturizeFailureStopsChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	cfg := f.config(filepath.Join(f.dir, "missing.csv"))
	cfgPath := f.writeConfig(t, "pipeline_config.yml", cfg)

	rec := &recordingLauncher{next: &LocalLauncher{Env: f.env}}
	wf := &Workflow{Tracking: f.client, Launcher: rec, Log: f.env.Log}
	err := wf.Run(ctx, cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage featurize")

	assert.Equal(t, []string{"featurize"}, rec.entries)
	assert.NoFileExists(t, filepath.Join(f.dir, "data", "processed", "featured_iris.csv"))

	runs := f.store.created()
	require.Len(t, runs, 2)
	for _, r := range runs {
		rd, err := f.client.GetRun(ctx, r.RunID)
		require.NoError(t, err)
		assert.Equal(t, tracking.StatusFailed, rd.Info.Status, r.RunName)
	}
}

func TestWorkflow_LaunchOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	rec := &recordingLauncher{}
	wf := &Workflow{Tracking: f.client, Launcher: rec, ExperimentID: "0"}
	require.NoError(t, wf.Run(ctx, "cfg.yml"))
	assert.Equal(t, []string{"featurize", "split_train_test", "train", "evaluate"}, rec.entries)
	parent := f.store.created()[0]
	for _, inv := range rec.invs {
		assert.Equal(t, Invocation{ConfigPath: "cfg.yml", ExperimentID: "0", ParentRunID: parent.RunID}, inv)
	}

	rec = &recordingLauncher{fail: map[string]error{"train": errors.New("boom")}}
	wf.Launcher = rec
	require.Error(t, wf.Run(ctx, "cfg.yml"))
	assert.Equal(t, []string{"featurize", "split_train_test", "train"}, rec.entries)

	rd, err := f.client.GetRun(ctx, f.store.created()[1].RunID)
	require.NoError(t, err)
	assert.Equal(t, tracking.StatusFailed, rd.Info.Status)
}

func TestExecute_MissingKeyWritesNothing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		stage Stage
		key   string
	}{
		{Train, "base.model.model_name"},
		{Train, "train.cv"},
		{Evaluate, "evaluate.metrics_file"},
		{Evaluate, "base.experiments.experiments_folder"},
		{Featurize, "featurize.features_path"},
	}
	for _, tc := range cases {
		t.Run(tc.stage.Name+"/"+tc.key, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			cfg := f.config(f.writeDataset(t))
			del(cfg, tc.key)
			cfgPath := f.writeConfig(t, "cfg.yml", cfg)

			err := Execute(context.Background(), tc.stage, cfgPath, f.env)
			require.ErrorIs(t, err, config.ErrMissingKey)
			assert.Contains(t, err.Error(), tc.key)
			assert.Empty(t, f.store.created())
			assert.NoDirExists(t, filepath.Join(f.dir, "models"))
			assert.NoDirExists(t, filepath.Join(f.dir, "experiments"))
			assert.NoDirExists(t, filepath.Join(f.dir, "data", "processed"))
		})
	}
}

func TestPrepare_RejectsBadValues(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg := f.config("x.csv")
	cfg["train"].(map[string]any)["estimator_name"] = "svm"
	_, err := Train.Prepare(config.FromMap(cfg))
	require.ErrorIs(t, err, model.ErrUnknownEstimator)

	cfg = f.config("x.csv")
	cfg["train"].(map[string]any)["scoring"] = "roc_auc"
	_, err = Train.Prepare(config.FromMap(cfg))
	require.Error(t, err)

	cfg = f.config("x.csv")
	cfg["evaluate"].(map[string]any)["average"] = "samples"
	_, err = Evaluate.Prepare(config.FromMap(cfg))
	require.Error(t, err)

	cfg = f.config("x.csv")
	cfg["featurize"].(map[string]any)["clip_outliers"] = []any{1}
	_, err = Featurize.Prepare(config.FromMap(cfg))
	require.ErrorIs(t, err, config.ErrWrongType)
}

// runStages executes featurize, split and train with cfg.
func runStages(t *testing.T, f *fixture, cfg map[string]any, name string) *model.Bundle {
	t.Helper()
	path := f.writeConfig(t, name, cfg)
	for _, st := range []Stage{Featurize, Split, Train} {
		require.NoError(t, Execute(context.Background(), st, path, f.env))
	}
	folder := cfg["base"].(map[string]any)["model"].(map[string]any)
	b, err := model.LoadBundle(filepath.Join(folder["models_folder"].(string), folder["model_name"].(string)))
	require.NoError(t, err)
	return b
}

func TestTrain_Deterministic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	dataset := f.writeDataset(t)

	cfg := f.config(dataset)
	train := cfg["train"].(map[string]any)
	train["estimator_name"] = "random_forest"
	train["estimators"] = map[string]any{
		"random_forest": map[string]any{"param_grid": map[string]any{"n_estimators": []any{5, 10}, "max_depth": []any{2}}},
	}
	first := runStages(t, f, cfg, "a.yml")

	cfg2 := f.config(dataset)
	cfg2["train"] = train
	cfg2["base"].(map[string]any)["model"].(map[string]any)["model_name"] = "second.gob.zst"
	second := runStages(t, f, cfg2, "b.yml")

	assert.Equal(t, first.CVScore, second.CVScore)
	if diff := cmp.Diff(first.Params, second.Params); diff != "" {
		t.Errorf("best params differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, 42, first.Params["random_state"])
}

func TestTrain_ZeroDenominatorRatio(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	dataset := f.writeDataset(t)
	tbl, err := data.ReadCSV(dataset)
	require.NoError(t, err)
	for i := 0; i < len(tbl.Rows); i += 3 {
		tbl.Rows[i][1] = "0" // sepal_width, the ratio denominator
	}
	require.NoError(t, data.WriteCSV(dataset, tbl))

	cfg := f.config(dataset)
	train := cfg["train"].(map[string]any)
	train["estimator_name"] = "knn"
	train["estimators"] = map[string]any{
		"knn": map[string]any{"param_grid": map[string]any{"n_neighbors": []any{1}}},
	}
	path := f.writeConfig(t, "knn.yml", cfg)
	ctx := context.Background()
	require.NoError(t, Execute(ctx, Featurize, path, f.env))
	require.NoError(t, Execute(ctx, Split, path, f.env))

	err = Execute(ctx, Train, path, f.env)
	require.ErrorIs(t, err, model.ErrNonFinite)
	assert.NoFileExists(t, filepath.Join(f.dir, "models", "model.gob.zst"))

	// the tree family routes the NaN ratio as a missing value
	runStages(t, f, f.config(dataset), "tree.yml")
}

func TestEvaluate_SavedBundleMatchesInMemory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg := f.config(f.writeDataset(t))
	cfg["evaluate"].(map[string]any)["average"] = "weighted"
	train := cfg["train"].(map[string]any)
	train["estimator_name"] = "logreg"
	train["estimators"] = map[string]any{
		"logreg": map[string]any{"param_grid": map[string]any{"C": []any{0.1, 1.0}}},
	}
	saved := runStages(t, f, cfg, "cfg.yml")

	// refit the same configuration without touching disk
	step, err := Train.Prepare(config.FromMap(cfg))
	require.NoError(t, err)
	inMemory, _, err := step.(*trainStep).fit(context.Background(), f.env)
	require.NoError(t, err)
	assert.Equal(t, saved.CVScore, inMemory.CVScore)

	test, err := data.ReadCSV(cfg["split_train_test"].(map[string]any)["test_csv"].(string))
	require.NoError(t, err)
	X, y, _, err := test.Features("target")
	require.NoError(t, err)

	want, err := EvaluateBundle(inMemory, X, y, "weighted", "1")
	require.NoError(t, err)

	require.NoError(t, Execute(context.Background(), Evaluate, filepath.Join(f.dir, "cfg.yml"), f.env))
	b, err := os.ReadFile(filepath.Join(f.dir, "experiments", "metrics.json"))
	require.NoError(t, err)
	var got Report
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, want.F1Score, got.F1Score)
	assert.Equal(t, want.ConfusionMatrix, got.ConfusionMatrix)
}

func TestEvaluateBundle_ConstantModel(t *testing.T) {
	t.Parallel()

	clf, err := model.New("dummy", model.Params{"strategy": "constant", "constant": 0})
	require.NoError(t, err)
	require.NoError(t, clf.Fit([][]float64{{1}, {2}}, []int{0, 1}))
	b := &model.Bundle{Estimator: "dummy", Features: []string{"x"}, Classes: []string{"0", "1"}, Model: clf}

	r, err := EvaluateBundle(b, [][]float64{{1}, {2}}, []string{"0", "1"}, model.AverageBinary, "1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.F1Score)
	assert.Equal(t, [][]int{{1, 0}, {1, 0}}, r.ConfusionMatrix)

	_, err = EvaluateBundle(b, [][]float64{{1}, {2}}, []string{"0", "1"}, model.AverageBinary, "yes")
	require.Error(t, err)
}

func TestExecLauncher(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	t.Parallel()

	script := `[ "$1" = featurize ] && [ "$2" = --featurize-config ] && [ "$3" = cfg.yml ] && ` +
		`[ "$MLPANEL_EXPERIMENT_ID" = 7 ] && [ "$MLPANEL_PARENT_RUN_ID" = abc ]`
	l := &ExecLauncher{Binary: "/bin/sh", Args: []string{"-c", script, "sh"}, Stdout: io.Discard, Stderr: io.Discard}

	ctx := context.Background()
	require.NoError(t, l.Launch(ctx, "featurize", Invocation{ConfigPath: "cfg.yml", ExperimentID: "7", ParentRunID: "abc"}))
	require.Error(t, l.Launch(ctx, "featurize", Invocation{ConfigPath: "other.yml", ExperimentID: "7", ParentRunID: "abc"}))
	require.Error(t, l.Launch(ctx, "deploy", Invocation{ConfigPath: "cfg.yml"}))

	entry := &ExecLauncher{Binary: "/bin/sh", Args: []string{"-c", `[ "$1" = main ] && [ "$2" = --config ]`, "sh"}, Stdout: io.Discard, Stderr: io.Discard}
	require.NoError(t, entry.Launch(ctx, EntryMain, Invocation{ConfigPath: "cfg.yml"}))
}

func TestInvocationFromEnv(t *testing.T) {
	t.Setenv(EnvExperimentID, "3")
	t.Setenv(EnvParentRunID, "p")
	assert.Equal(t, Invocation{ConfigPath: "c.yml", ExperimentID: "3", ParentRunID: "p"}, InvocationFromEnv("c.yml"))
}
