package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlrepa/mlpanel-demo/pkg/pipeline"
	"github.com/mlrepa/mlpanel-demo/pkg/telemetry"
	"github.com/mlrepa/mlpanel-demo/pkg/tracking"
)

const (
	launcherLocal = "local"
	launcherExec  = "exec"
)

// app holds the state shared by every subcommand once the persistent
// flags are parsed.
type app struct {
	stdout, stderr io.Writer

	trackingURI  string
	verbose      bool
	launcherKind string
	pushURL      string
	otlpEndpoint string

	entry         string // name of the command being run
	log           *slog.Logger
	tracking      *tracking.Client
	shutdownTrace func(context.Context) error
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "mlpanel",
		Short:         "Featurize, split, train and evaluate a classifier with run tracking.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.entry = cmd.Name()
			return a.setup(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.trackingURI, "tracking-uri", envOr("MLFLOW_TRACKING_URI", "./mlruns"), "tracking directory, file: URI or MLflow server URL")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "set debug logging level")
	flags.StringVar(&a.launcherKind, "launcher", launcherLocal, "how stages are launched: local or exec")
	flags.StringVar(&a.pushURL, "pushgateway-url", os.Getenv("PUSHGATEWAY_URL"), "Prometheus Pushgateway to push stage metrics to")
	flags.StringVar(&a.otlpEndpoint, "otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP/gRPC collector for stage spans")

	for _, st := range pipeline.Stages() {
		root.AddCommand(newStageCmd(a, st))
	}
	root.AddCommand(newMainCmd(a), newRunCmd(a))
	return root
}

func (a *app) setup(ctx context.Context) error {
	if a.launcherKind != launcherLocal && a.launcherKind != launcherExec {
		return fmt.Errorf("unknown launcher %q, want %s or %s", a.launcherKind, launcherLocal, launcherExec)
	}
	a.log = telemetry.NewLogger(a.stderr, a.verbose)

	cfg := tracking.ConfigFromEnv(a.trackingURI)
	cfg.Logger = a.log
	client, err := tracking.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to open tracking backend: %w", err)
	}
	a.tracking = client

	shutdown, err := telemetry.SetupProvider(ctx, telemetry.TraceConfig{
		ServiceName: "mlpanel",
		Endpoint:    a.otlpEndpoint,
		Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.shutdownTrace = shutdown
	return nil
}

// teardown pushes metrics and flushes spans. It runs whether the command
// failed or not.
func (a *app) teardown(ctx context.Context) {
	if a.log == nil {
		return
	}
	if err := telemetry.Push(ctx, a.pushURL, "mlpanel", a.entry); err != nil {
		a.log.Warn("Failed to push metrics", "error", err)
	}
	if a.shutdownTrace != nil {
		if err := a.shutdownTrace(ctx); err != nil {
			a.log.Warn("Failed to flush spans", "error", err)
		}
	}
}

func (a *app) env(inv pipeline.Invocation) *pipeline.Env {
	return &pipeline.Env{
		Tracking:     a.tracking,
		Log:          a.log,
		Out:          a.stdout,
		ExperimentID: inv.ExperimentID,
		ParentRunID:  inv.ParentRunID,
	}
}

func (a *app) launcher() pipeline.Launcher {
	if a.launcherKind == launcherExec {
		args := []string{"--tracking-uri", a.trackingURI, "--launcher", a.launcherKind}
		if a.verbose {
			args = append(args, "--verbose")
		}
		if a.pushURL != "" {
			args = append(args, "--pushgateway-url", a.pushURL)
		}
		if a.otlpEndpoint != "" {
			args = append(args, "--otlp-endpoint", a.otlpEndpoint)
		}
		return &pipeline.ExecLauncher{Args: args, Stdout: a.stdout, Stderr: a.stderr}
	}
	return &pipeline.LocalLauncher{Env: a.env(pipeline.Invocation{})}
}
