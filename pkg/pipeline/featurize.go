package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mlrepa/mlpanel-demo/pkg/config"
	"github.com/mlrepa/mlpanel-demo/pkg/data"
	"github.com/mlrepa/mlpanel-demo/pkg/dataprep"
	"github.com/mlrepa/mlpanel-demo/pkg/telemetry"
	"github.com/mlrepa/mlpanel-demo/pkg/tracking"
)

type featurizeStep struct {
	datasetCSV   string
	featuresPath string
	target       string
	chain        *dataprep.Chain
}

func prepareFeaturize(cfg *config.Config) (Step, error) {
	s := &featurizeStep{}
	var err error
	if s.datasetCSV, err = cfg.String("data_load.dataset_csv"); err != nil {
		return nil, err
	}
	if s.featuresPath, err = cfg.String("featurize.features_path"); err != nil {
		return nil, err
	}
	if s.target, err = cfg.String("featurize.target_column"); err != nil {
		return nil, err
	}
	steps, err := featurizeSteps(cfg)
	if err != nil {
		return nil, err
	}
	s.chain = dataprep.NewChain(steps...)
	return s, nil
}

// featurizeSteps builds the chain in fixed order: impute, drop duplicates,
// ratio features, clip outliers.
func featurizeSteps(cfg *config.Config) ([]dataprep.Step, error) {
	var steps []dataprep.Step

	impute, err := cfg.StringOr("featurize.impute", dataprep.ImputeNone)
	if err != nil {
		return nil, err
	}
	if impute != dataprep.ImputeNone {
		steps = append(steps, dataprep.Impute{Strategy: impute})
	}

	dedup, err := cfg.BoolOr("featurize.drop_duplicates", false)
	if err != nil {
		return nil, err
	}
	if dedup {
		steps = append(steps, dataprep.DropDuplicates{})
	}

	if cfg.Has("featurize.ratio_features") {
		items, err := cfg.List("featurize.ratio_features")
		if err != nil {
			return nil, err
		}
		ratios := make([]dataprep.Ratio, 0, len(items))
		for i := range items {
			prefix := fmt.Sprintf("featurize.ratio_features.%d", i)
			r, err := ratioFromConfig(config.FromMap(asStringMap(items[i])), prefix)
			if err != nil {
				return nil, err
			}
			ratios = append(ratios, r)
		}
		if len(ratios) > 0 {
			steps = append(steps, dataprep.RatioFeatures{Ratios: ratios})
		}
	}

	if cfg.Has("featurize.clip_outliers") {
		bounds, err := cfg.List("featurize.clip_outliers")
		if err != nil {
			return nil, err
		}
		if len(bounds) != 2 {
			return nil, fmt.Errorf("%w: featurize.clip_outliers: want [lower, upper], got %d values", config.ErrWrongType, len(bounds))
		}
		pair := config.FromMap(map[string]any{"lower": bounds[0], "upper": bounds[1]})
		lo, err := pair.Float("lower")
		if err != nil {
			return nil, fmt.Errorf("featurize.clip_outliers: %w", err)
		}
		hi, err := pair.Float("upper")
		if err != nil {
			return nil, fmt.Errorf("featurize.clip_outliers: %w", err)
		}
		steps = append(steps, dataprep.ClipOutliers{Lower: lo, Upper: hi})
	}
	return steps, nil
}

func ratioFromConfig(c *config.Config, prefix string) (dataprep.Ratio, error) {
	var r dataprep.Ratio
	var err error
	if r.Name, err = c.String("name"); err != nil {
		return r, fmt.Errorf("%s: %w", prefix, err)
	}
	if r.Numerator, err = c.String("numerator"); err != nil {
		return r, fmt.Errorf("%s: %w", prefix, err)
	}
	if r.Denominator, err = c.String("denominator"); err != nil {
		return r, fmt.Errorf("%s: %w", prefix, err)
	}
	return r, nil
}

func asStringMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = val
		}
		return out
	}
	return nil
}

func (s *featurizeStep) Run(ctx context.Context, run *tracking.Run, env *Env) error {
	raw, err := data.ReadCSV(s.datasetCSV)
	if err != nil {
		return err
	}
	features, err := s.chain.Apply(raw, s.target)
	if err != nil {
		return fmt.Errorf("featurize: %w", err)
	}
	if err := data.WriteCSV(s.featuresPath, features); err != nil {
		return err
	}
	env.Log.Info("Features written", "path", s.featuresPath, "rows", features.Len(), "columns", len(features.Columns))
	telemetry.DatasetRows.WithLabelValues(Featurize.Name, "features").Set(float64(features.Len()))

	return run.LogParams(ctx, map[string]string{
		"n_rows":        strconv.Itoa(features.Len()),
		"n_features":    strconv.Itoa(len(features.Columns) - 1),
		"target_column": s.target,
	})
}
