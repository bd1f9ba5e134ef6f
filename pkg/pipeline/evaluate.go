package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/mlrepa/mlpanel-demo/pkg/config"
	"github.com/mlrepa/mlpanel-demo/pkg/data"
	"github.com/mlrepa/mlpanel-demo/pkg/dataprep"
	"github.com/mlrepa/mlpanel-demo/pkg/model"
	"github.com/mlrepa/mlpanel-demo/pkg/telemetry"
	"github.com/mlrepa/mlpanel-demo/pkg/tracking"
	"github.com/mlrepa/mlpanel-demo/pkg/viz"
)

// Report is the evaluate stage output written to the metrics file.
type Report struct {
	F1Score         float64 `json:"f1_score"`
	ConfusionMatrix [][]int `json:"confusion_matrix"`

	// Labels orders the confusion matrix rows and columns.
	Labels []string `json:"-"`
}

type evaluateStep struct {
	target      string
	testCSV     string
	modelPath   string
	metricsPath string
	imagePath   string
	average     string
	posLabel    string
}

var averages = []string{model.AverageBinary, model.AverageMacro, model.AverageMicro, model.AverageWeighted}

func prepareEvaluate(cfg *config.Config) (Step, error) {
	s := &evaluateStep{}
	var err error
	if s.target, err = cfg.String("featurize.target_column"); err != nil {
		return nil, err
	}
	if s.testCSV, err = cfg.String("split_train_test.test_csv"); err != nil {
		return nil, err
	}
	if s.modelPath, err = modelPath(cfg); err != nil {
		return nil, err
	}
	folder, err := cfg.String("base.experiments.experiments_folder")
	if err != nil {
		return nil, err
	}
	metricsFile, err := cfg.String("evaluate.metrics_file")
	if err != nil {
		return nil, err
	}
	s.metricsPath = filepath.Join(folder, metricsFile)
	image, err := cfg.StringOr("evaluate.confusion_matrix_image", "")
	if err != nil {
		return nil, err
	}
	if image != "" {
		s.imagePath = filepath.Join(folder, image)
	}
	if s.average, err = cfg.StringOr("evaluate.average", model.AverageMacro); err != nil {
		return nil, err
	}
	if !slices.Contains(averages, s.average) {
		return nil, fmt.Errorf("evaluate.average: unknown average %q (known: %v)", s.average, averages)
	}
	if s.posLabel, err = cfg.StringOr("evaluate.pos_label", "1"); err != nil {
		return nil, err
	}
	return s, nil
}

// EvaluateBundle scores b on X against the true labels.
func EvaluateBundle(b *model.Bundle, X [][]float64, yTrue []string, average, posLabel string) (*Report, error) {
	yPred, err := b.Predict(X)
	if err != nil {
		return nil, err
	}
	labels := dataprep.Classes(yTrue, yPred)
	trueIdx, err := dataprep.LabelEncode(yTrue, labels)
	if err != nil {
		return nil, err
	}
	predIdx, err := dataprep.LabelEncode(yPred, labels)
	if err != nil {
		return nil, err
	}

	pos := slices.Index(labels, posLabel)
	if average == model.AverageBinary && pos < 0 && len(labels) == 2 {
		return nil, fmt.Errorf("pos_label %q is not a valid label, labels are %v", posLabel, labels)
	}
	f1, err := model.F1(trueIdx, predIdx, average, pos)
	if err != nil {
		return nil, err
	}
	return &Report{
		F1Score:         f1,
		ConfusionMatrix: model.ConfusionMatrix(trueIdx, predIdx, len(labels)),
		Labels:          labels,
	}, nil
}

func (s *evaluateStep) evaluate() (*Report, string, error) {
	test, err := data.ReadCSV(s.testCSV)
	if err != nil {
		return nil, "", err
	}
	b, err := model.LoadBundle(s.modelPath)
	if err != nil {
		return nil, "", err
	}
	X, yTrue, names, err := test.Features(s.target)
	if err != nil {
		return nil, "", err
	}
	if !slices.Equal(names, b.Features) {
		return nil, "", fmt.Errorf("test features %v do not match model features %v", names, b.Features)
	}
	r, err := EvaluateBundle(b, X, yTrue, s.average, s.posLabel)
	if err != nil {
		return nil, "", err
	}
	return r, b.Estimator, nil
}

func (s *evaluateStep) Run(ctx context.Context, run *tracking.Run, env *Env) error {
	report, estimator, err := s.evaluate()
	if err != nil {
		return err
	}
	if err := writeReport(s.metricsPath, report); err != nil {
		return err
	}
	report.WriteTable(env.Out)
	env.Log.Info("Metrics written", "path", s.metricsPath, "f1_score", report.F1Score, "average", s.average)
	telemetry.EvalF1.WithLabelValues(estimator, s.average).Set(report.F1Score)

	if s.imagePath != "" {
		if err := viz.ConfusionMatrixPlot(s.imagePath, report.ConfusionMatrix, report.Labels); err != nil {
			return err
		}
		env.Log.Debug("Confusion matrix rendered", "path", s.imagePath)
	}
	return run.LogMetric(ctx, "f1_score", report.F1Score)
}

func writeReport(path string, r *Report) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// WriteTable prints the F1 score and the confusion matrix.
func (r *Report) WriteTable(w io.Writer) {
	fmt.Fprintf(w, "f1_score: %.4f\n", r.F1Score)

	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(append([]string{"true \\ pred"}, r.Labels...))
	for i, row := range r.ConfusionMatrix {
		cells := []string{r.Labels[i]}
		for _, n := range row {
			cells = append(cells, strconv.Itoa(n))
		}
		table.Append(cells)
	}
	table.Render()
}
