package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mlrepa/mlpanel-demo/pkg/config"
	"github.com/mlrepa/mlpanel-demo/pkg/data"
	"github.com/mlrepa/mlpanel-demo/pkg/dataprep"
	"github.com/mlrepa/mlpanel-demo/pkg/model"
	"github.com/mlrepa/mlpanel-demo/pkg/search"
	"github.com/mlrepa/mlpanel-demo/pkg/telemetry"
	"github.com/mlrepa/mlpanel-demo/pkg/tracking"
	"github.com/mlrepa/mlpanel-demo/pkg/viz"
)

const defaultScoring = "f1_weighted"

// SourceArtifacts are logged with every training run when they exist
// relative to the working directory.
var SourceArtifacts = []string{
	"pkg/dataprep/features.go",
	"pkg/search/grid.go",
	"pkg/pipeline/train.go",
}

type trainStep struct {
	target    string
	trainCSV  string
	estimator string
	grid      search.ParamGrid
	cv        int
	scoring   string
	nJobs     int
	seed      int
	modelPath string
}

func prepareTrain(cfg *config.Config) (Step, error) {
	s := &trainStep{}
	var err error
	if s.target, err = cfg.String("featurize.target_column"); err != nil {
		return nil, err
	}
	if s.trainCSV, err = cfg.String("split_train_test.train_csv"); err != nil {
		return nil, err
	}
	if s.estimator, err = cfg.String("train.estimator_name"); err != nil {
		return nil, err
	}
	if _, err := model.Lookup(s.estimator); err != nil {
		return nil, err
	}
	rawGrid, err := cfg.Map("train.estimators." + s.estimator + ".param_grid")
	if err != nil {
		return nil, err
	}
	if s.grid, err = search.GridFromConfig(rawGrid); err != nil {
		return nil, err
	}
	if s.cv, err = cfg.Int("train.cv"); err != nil {
		return nil, err
	}
	if s.cv < 2 {
		return nil, fmt.Errorf("train.cv must be at least 2, got %d", s.cv)
	}
	if s.scoring, err = cfg.StringOr("train.scoring", defaultScoring); err != nil {
		return nil, err
	}
	if !model.ValidScoring(s.scoring) {
		return nil, fmt.Errorf("train.scoring: unknown scoring %q (known: %v)", s.scoring, model.Scorings)
	}
	if s.nJobs, err = cfg.IntOr("train.n_jobs", 1); err != nil {
		return nil, err
	}
	if s.seed, err = cfg.IntOr("base.random_state", defaultRandomState); err != nil {
		return nil, err
	}
	if s.modelPath, err = modelPath(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// modelPath joins base.model.models_folder and base.model.model_name.
func modelPath(cfg *config.Config) (string, error) {
	folder, err := cfg.String("base.model.models_folder")
	if err != nil {
		return "", err
	}
	name, err := cfg.String("base.model.model_name")
	if err != nil {
		return "", err
	}
	return filepath.Join(folder, name), nil
}

// fit runs the grid search and returns the bundle of the refit winner.
func (s *trainStep) fit(ctx context.Context, env *Env) (*model.Bundle, *search.Result, error) {
	table, err := data.ReadCSV(s.trainCSV)
	if err != nil {
		return nil, nil, err
	}
	X, labels, names, err := table.Features(s.target)
	if err != nil {
		return nil, nil, err
	}
	classes := dataprep.Classes(labels)
	y, err := dataprep.LabelEncode(labels, classes)
	if err != nil {
		return nil, nil, err
	}

	fam, err := model.Lookup(s.estimator)
	if err != nil {
		return nil, nil, err
	}
	if !fam.Missing {
		if err := model.CheckFinite(X, names); err != nil {
			return nil, nil, fmt.Errorf("%s in %s: %w", s.estimator, s.trainCSV, err)
		}
	}
	base := model.Params{}
	if fam.Accepts("random_state") {
		base["random_state"] = s.seed
	}
	gs := &search.GridSearch{
		Estimator: s.estimator,
		Grid:      s.grid,
		Base:      base,
		CV:        s.cv,
		Scoring:   s.scoring,
		NJobs:     s.nJobs,
	}
	env.Log.Info("Grid search started", "estimator", s.estimator, "candidates", len(s.grid.Expand()), "cv", s.cv, "rows", len(X))
	res, err := gs.Run(ctx, X, y)
	if err != nil {
		return nil, nil, err
	}
	best := res.BestCandidate()
	env.Log.Info("Grid search finished", "best_params", best.Params.Format(), s.scoring, best.Mean)

	return &model.Bundle{
		Estimator: s.estimator,
		Params:    best.Params,
		CVScore:   best.Mean,
		Scoring:   s.scoring,
		Features:  names,
		Classes:   classes,
		Model:     res.Best,
	}, res, nil
}

func (s *trainStep) Run(ctx context.Context, run *tracking.Run, env *Env) error {
	bundle, res, err := s.fit(ctx, env)
	if err != nil {
		return err
	}
	res.WriteTable(env.Out)
	fmt.Fprintf(env.Out, "best %s: %.4f\n", s.scoring, bundle.CVScore)

	if err := model.SaveBundle(s.modelPath, bundle); err != nil {
		return err
	}
	env.Log.Info("Model saved", "path", s.modelPath)
	telemetry.CVBestScore.WithLabelValues(s.estimator, s.scoring).Set(bundle.CVScore)
	telemetry.GridCandidates.WithLabelValues(s.estimator).Set(float64(len(res.Candidates)))

	if err := s.logParams(ctx, run); err != nil {
		return err
	}
	if err := run.LogMetric(ctx, "cv_best_score", bundle.CVScore); err != nil {
		return err
	}
	return s.logArtifacts(ctx, run, env, bundle, res)
}

func (s *trainStep) logParams(ctx context.Context, run *tracking.Run) error {
	params := map[string]string{
		"estimator": s.estimator,
		"cv":        strconv.Itoa(s.cv),
	}
	for _, k := range s.grid.Keys() {
		b, err := json.Marshal(s.grid[k])
		if err != nil {
			return fmt.Errorf("encode param_grid %s: %w", k, err)
		}
		params[k] = string(b)
	}
	return run.LogParams(ctx, params)
}

func (s *trainStep) logArtifacts(ctx context.Context, run *tracking.Run, env *Env, bundle *model.Bundle, res *search.Result) error {
	tmp, err := os.MkdirTemp("", "mlpanel-train-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := run.LogArtifact(ctx, s.modelPath, modelArtifactDir); err != nil {
		return err
	}
	descriptor, err := writeMLModel(tmp, bundle, filepath.Base(s.modelPath), run.ID(), env.Clock.Now())
	if err != nil {
		return err
	}
	if err := run.LogArtifact(ctx, descriptor, modelArtifactDir); err != nil {
		return err
	}

	chart := filepath.Join(tmp, "cv_scores.png")
	labels := make([]string, len(res.Candidates))
	means := make([]float64, len(res.Candidates))
	for i, c := range res.Candidates {
		labels[i] = gridLabel(c.Params, s.grid.Keys())
		means[i] = c.Mean
	}
	if err := viz.CVScoresPlot(chart, s.scoring, labels, means, res.BestIndex); err != nil {
		return err
	}
	if err := run.LogArtifact(ctx, chart, ""); err != nil {
		return err
	}

	for _, src := range SourceArtifacts {
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			env.Log.Warn("Source artifact not found, skipping", "path", src)
			continue
		}
		if err := run.LogArtifact(ctx, src, ""); err != nil {
			return err
		}
	}
	return nil
}

// gridLabel renders only the searched keys of p.
func gridLabel(p model.Params, keys []string) string {
	if len(keys) == 0 {
		return "default"
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, p[k])
	}
	return strings.Join(parts, ",")
}
