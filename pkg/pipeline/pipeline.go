// Package pipeline implements the featurize, split, train and evaluate
// stages, the orchestrator that chains them under one parent run, and the
// top-level runner.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mlrepa/mlpanel-demo/pkg/config"
	"github.com/mlrepa/mlpanel-demo/pkg/telemetry"
	"github.com/mlrepa/mlpanel-demo/pkg/tracking"
)

// Env carries what a stage needs at execution time.
type Env struct {
	Tracking *tracking.Client
	Log      *slog.Logger
	Out      io.Writer // human-readable reports
	Clock    clockwork.Clock

	// Set when the stage runs under an orchestrator.
	ExperimentID string
	ParentRunID  string
}

func (e *Env) withDefaults() *Env {
	out := *e
	if out.Log == nil {
		out.Log = slog.Default()
	}
	if out.Out == nil {
		out.Out = os.Stdout
	}
	if out.Clock == nil {
		out.Clock = clockwork.NewRealClock()
	}
	return &out
}

// Step is a stage whose configuration has been fully resolved.
type Step interface {
	Run(ctx context.Context, run *tracking.Run, env *Env) error
}

// Stage describes one entry point.
type Stage struct {
	Name  string // entry point name
	Param string // CLI flag carrying the config path

	// Prepare resolves every key the stage reads. It must not touch the
	// filesystem beyond the config itself.
	Prepare func(cfg *config.Config) (Step, error)
}

var (
	Featurize = Stage{Name: "featurize", Param: "featurize-config", Prepare: prepareFeaturize}
	Split     = Stage{Name: "split_train_test", Param: "split-train-test-config", Prepare: prepareSplit}
	Train     = Stage{Name: "train", Param: "train-config", Prepare: prepareTrain}
	Evaluate  = Stage{Name: "evaluate", Param: "evaluate-config", Prepare: prepareEvaluate}
)

// Stages returns the stages in execution order.
func Stages() []Stage {
	return []Stage{Featurize, Split, Train, Evaluate}
}

// EntryMain is the orchestrator entry point; its flag is --config.
const EntryMain = "main"

// LookupStage finds a stage by entry point name.
func LookupStage(name string) (Stage, error) {
	for _, s := range Stages() {
		if s.Name == name {
			return s, nil
		}
	}
	return Stage{}, fmt.Errorf("unknown entry point %q", name)
}

// Execute loads the config at path, resolves the stage, opens a run and
// executes the stage under it. The run ends FAILED if the stage fails.
func Execute(ctx context.Context, st Stage, path string, env *Env) (err error) {
	env = env.withDefaults()
	log := env.Log.With("stage", st.Name)

	ctx, span := telemetry.StartSpan(ctx, "stage."+st.Name,
		attribute.String("stage", st.Name),
		attribute.String("config", path),
	)
	start := env.Clock.Now()
	defer func() {
		status := "finished"
		if err != nil {
			status = "failed"
		}
		telemetry.StageRuns.WithLabelValues(st.Name, status).Inc()
		telemetry.StageDuration.WithLabelValues(st.Name).Observe(env.Clock.Since(start).Seconds())
		telemetry.EndSpan(span, err)
	}()

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	step, err := st.Prepare(cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", st.Name, err)
	}

	run, err := env.Tracking.StartRun(ctx, tracking.RunOptions{
		ExperimentID: env.ExperimentID,
		RunName:      st.Name,
		ParentRunID:  env.ParentRunID,
		Tags:         map[string]string{tracking.TagEntryPoint: st.Name},
	})
	if err != nil {
		return err
	}
	log.Info("Stage started", "run_id", run.ID(), "experiment_id", run.ExperimentID())

	stepErr := step.Run(ctx, run, env)
	if endErr := run.End(ctx, stepErr); endErr != nil {
		log.Warn("Failed to end run", "run_id", run.ID(), "error", endErr)
	}
	if stepErr != nil {
		return fmt.Errorf("%s: %w", st.Name, stepErr)
	}
	log.Info("Stage finished", "run_id", run.ID(), "elapsed", env.Clock.Since(start).Round(time.Millisecond))
	return nil
}
