package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mlrepa/mlpanel-demo/pkg/config"
	"github.com/mlrepa/mlpanel-demo/pkg/telemetry"
	"github.com/mlrepa/mlpanel-demo/pkg/tracking"
)

// Workflow chains the stages under one parent run.
type Workflow struct {
	Tracking     *tracking.Client
	Launcher     Launcher
	Stages       []Stage // nil means Stages()
	Log          *slog.Logger
	ExperimentID string
}

// Run opens the parent run and launches every stage in order with
// configPath. The first failing stage stops the chain and the parent run
// ends FAILED.
func (w *Workflow) Run(ctx context.Context, configPath string) (err error) {
	log := w.Log
	if log == nil {
		log = slog.Default()
	}
	stages := w.Stages
	if stages == nil {
		stages = Stages()
	}

	ctx, span := telemetry.StartSpan(ctx, "workflow", attribute.String("config", configPath))
	defer func() { telemetry.EndSpan(span, err) }()

	parent, err := w.Tracking.StartRun(ctx, tracking.RunOptions{
		ExperimentID: w.ExperimentID,
		RunName:      EntryMain,
		Tags:         map[string]string{tracking.TagEntryPoint: EntryMain},
	})
	if err != nil {
		return err
	}
	log.Info("Workflow started", "run_id", parent.ID(), "experiment_id", parent.ExperimentID(), "stages", len(stages))

	inv := Invocation{
		ConfigPath:   configPath,
		ExperimentID: parent.ExperimentID(),
		ParentRunID:  parent.ID(),
	}
	for _, st := range stages {
		log.Debug("Launching stage", "stage", st.Name)
		if err = w.Launcher.Launch(ctx, st.Name, inv); err != nil {
			err = fmt.Errorf("stage %s: %w", st.Name, err)
			break
		}
	}
	if endErr := parent.End(ctx, err); endErr != nil {
		log.Warn("Failed to end workflow run", "run_id", parent.ID(), "error", endErr)
	}
	if err != nil {
		return err
	}
	log.Info("Workflow finished", "run_id", parent.ID())
	return nil
}

// DefaultConfigPath is where the runner looks for the pipeline config.
const DefaultConfigPath = "config/pipeline_config.yml"

// Runner is the top-level entry: it selects the experiment named after the
// configured estimator and launches the main entry point in it.
type Runner struct {
	Tracking *tracking.Client
	Launcher Launcher
	Log      *slog.Logger
}

func (r *Runner) Run(ctx context.Context, configPath string) error {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	name, err := cfg.String("train.estimator_name")
	if err != nil {
		return err
	}
	expID, err := r.Tracking.SetExperiment(ctx, name)
	if err != nil {
		return err
	}
	if r.Log != nil {
		r.Log.Info("Experiment selected", "name", name, "experiment_id", expID)
	}
	return r.Launcher.Launch(ctx, EntryMain, Invocation{ConfigPath: configPath, ExperimentID: expID})
}
