package dataprep

import (
	"fmt"
	"strconv"

	"github.com/mlrepa/mlpanel-demo/pkg/data"
	"github.com/mlrepa/mlpanel-demo/pkg/stats"
)

// Imputation strategies.
const (
	ImputeNone   = "none"
	ImputeMean   = "mean"
	ImputeMedian = "median"
	ImputeMode   = "mode"
)

func isMissing(v string) bool { return v == "" || v == "NA" || v == "NaN" }

// Impute replaces missing cells of every feature column with a statistic of
// the column's present values.
type Impute struct {
	Strategy string
}

func (s Impute) Name() string { return "impute" }

func (s Impute) Apply(t *data.Table, target string) (*data.Table, error) {
	var fill func([]float64) float64
	switch s.Strategy {
	case "", ImputeNone:
		return t, nil
	case ImputeMean:
		fill = stats.Mean
	case ImputeMedian:
		fill = stats.Median
	case ImputeMode:
		fill = stats.Mode
	default:
		return nil, fmt.Errorf("unknown strategy %q", s.Strategy)
	}

	for j, col := range t.Columns {
		if col == target {
			continue
		}
		var present []float64
		missing := 0
		for i, row := range t.Rows {
			if isMissing(row[j]) {
				missing++
				continue
			}
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i+1, col, err)
			}
			present = append(present, v)
		}
		if missing == 0 {
			continue
		}
		if len(present) == 0 {
			return nil, fmt.Errorf("column %q has no values to impute from", col)
		}
		value := strconv.FormatFloat(fill(present), 'g', -1, 64)
		for _, row := range t.Rows {
			if isMissing(row[j]) {
				row[j] = value
			}
		}
	}
	return t, nil
}
