package telemetry

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds the pipeline metrics. A batch job has no scrape endpoint,
// so the registry is pushed to a Pushgateway when a stage finishes.
var Registry = prometheus.NewRegistry()

var (
	StageRuns = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "mlpanel_stage_runs_total", Help: "Stage executions by outcome.",
	}, []string{"stage", "status"})

	StageDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mlpanel_stage_duration_seconds",
		Help:    "Wall time of one stage execution.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"stage"})

	DatasetRows = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "mlpanel_dataset_rows", Help: "Rows written by a stage, per output.",
	}, []string{"stage", "output"})

	CVBestScore = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "mlpanel_cv_best_score", Help: "Mean cross-validation score of the selected candidate.",
	}, []string{"estimator", "scoring"})

	GridCandidates = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "mlpanel_grid_candidates", Help: "Parameter combinations evaluated by the last search.",
	}, []string{"estimator"})

	EvalF1 = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "mlpanel_eval_f1_score", Help: "F1 score on the held-out test set.",
	}, []string{"estimator", "average"})
)

// Push sends the registry to the Pushgateway at url under job, grouped by
// instance and entry point so the stage processes of an exec launch keep
// separate series. An empty url is a no-op.
func Push(ctx context.Context, url, job, entry string) error {
	if url == "" {
		return nil
	}
	p := push.New(url, job).Gatherer(Registry)
	if host, err := os.Hostname(); err == nil {
		p = p.Grouping("instance", host)
	}
	if entry != "" {
		p = p.Grouping("entry_point", entry)
	}
	if err := p.AddContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
