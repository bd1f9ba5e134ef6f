package dataprep

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/mlrepa/mlpanel-demo/pkg/data"
	"github.com/mlrepa/mlpanel-demo/pkg/stats"
)

// Ratio describes a derived column numerator/denominator.
type Ratio struct {
	Name        string
	Numerator   string
	Denominator string
}

// RatioFeatures appends one column per ratio. A zero denominator yields NaN.
type RatioFeatures struct {
	Ratios []Ratio
}

func (RatioFeatures) Name() string { return "ratio_features" }

func (s RatioFeatures) Apply(t *data.Table, target string) (*data.Table, error) {
	for _, r := range s.Ratios {
		if r.Numerator == target || r.Denominator == target {
			return nil, fmt.Errorf("ratio %q uses the target column", r.Name)
		}
		if slices.Contains(t.Columns, r.Name) {
			return nil, fmt.Errorf("ratio %q: column already exists", r.Name)
		}
		num, err := t.FloatColumn(r.Numerator)
		if err != nil {
			return nil, fmt.Errorf("ratio %q: %w", r.Name, err)
		}
		den, err := t.FloatColumn(r.Denominator)
		if err != nil {
			return nil, fmt.Errorf("ratio %q: %w", r.Name, err)
		}
		// insert before the target so a trailing target column stays last
		ti, _ := t.ColumnIndex(target)
		t.Columns = slices.Insert(t.Columns, ti, r.Name)
		for i := range t.Rows {
			v := "NaN"
			if den[i] != 0 {
				v = strconv.FormatFloat(num[i]/den[i], 'g', -1, 64)
			}
			t.Rows[i] = slices.Insert(t.Rows[i], ti, v)
		}
	}
	return t, nil
}

// ClipOutliers clamps every feature column to the [Lower, Upper] percentile range.
type ClipOutliers struct {
	Lower, Upper float64
}

func (ClipOutliers) Name() string { return "clip_outliers" }

func (s ClipOutliers) Apply(t *data.Table, target string) (*data.Table, error) {
	if s.Lower < 0 || s.Upper > 100 || s.Lower >= s.Upper {
		return nil, fmt.Errorf("invalid percentile range [%g, %g]", s.Lower, s.Upper)
	}
	for j, col := range t.Columns {
		if col == target {
			continue
		}
		x, err := t.FloatColumn(col)
		if err != nil {
			return nil, err
		}
		stats.ClipColumn(x, s.Lower, s.Upper)
		for i := range t.Rows {
			t.Rows[i][j] = strconv.FormatFloat(x[i], 'g', -1, 64)
		}
	}
	return t, nil
}
