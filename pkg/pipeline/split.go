package pipeline

import (
	"context"
	"strconv"

	"github.com/mlrepa/mlpanel-demo/pkg/config"
	"github.com/mlrepa/mlpanel-demo/pkg/data"
	"github.com/mlrepa/mlpanel-demo/pkg/loader"
	"github.com/mlrepa/mlpanel-demo/pkg/telemetry"
	"github.com/mlrepa/mlpanel-demo/pkg/tracking"
)

const (
	defaultRandomState = 42
	defaultTestSize    = 0.2
)

type splitStep struct {
	featuresPath string
	trainCSV     string
	testCSV      string
	testSize     float64
	seed         int
}

func prepareSplit(cfg *config.Config) (Step, error) {
	s := &splitStep{}
	var err error
	if s.featuresPath, err = cfg.String("featurize.features_path"); err != nil {
		return nil, err
	}
	if s.trainCSV, err = cfg.String("split_train_test.train_csv"); err != nil {
		return nil, err
	}
	if s.testCSV, err = cfg.String("split_train_test.test_csv"); err != nil {
		return nil, err
	}
	if s.testSize, err = cfg.FloatOr("split_train_test.test_size", defaultTestSize); err != nil {
		return nil, err
	}
	if s.seed, err = cfg.IntOr("base.random_state", defaultRandomState); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *splitStep) Run(ctx context.Context, run *tracking.Run, env *Env) error {
	features, err := data.ReadCSV(s.featuresPath)
	if err != nil {
		return err
	}
	trainIdx, testIdx, err := loader.TrainTestSplit(features.Len(), s.testSize, int64(s.seed))
	if err != nil {
		return err
	}
	train, test := features.Subset(trainIdx), features.Subset(testIdx)
	if err := data.WriteCSV(s.trainCSV, train); err != nil {
		return err
	}
	if err := data.WriteCSV(s.testCSV, test); err != nil {
		return err
	}
	env.Log.Info("Split written", "train", s.trainCSV, "train_rows", train.Len(), "test", s.testCSV, "test_rows", test.Len())
	telemetry.DatasetRows.WithLabelValues(Split.Name, "train").Set(float64(train.Len()))
	telemetry.DatasetRows.WithLabelValues(Split.Name, "test").Set(float64(test.Len()))

	err = run.LogParams(ctx, map[string]string{
		"test_size":    strconv.FormatFloat(s.testSize, 'g', -1, 64),
		"random_state": strconv.Itoa(s.seed),
	})
	if err != nil {
		return err
	}
	if err := run.LogMetric(ctx, "train_rows", float64(train.Len())); err != nil {
		return err
	}
	return run.LogMetric(ctx, "test_rows", float64(test.Len()))
}
