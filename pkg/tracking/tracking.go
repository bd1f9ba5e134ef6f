// Package tracking records experiment runs: parameters, metrics, tags and
// artifacts. Runs are stored either in a local directory using the MLflow
// mlruns layout or on an MLflow tracking server over its REST API.
package tracking

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("tracking resource not found")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusFinished Status = "FINISHED"
	StatusFailed   Status = "FAILED"
	StatusKilled   Status = "KILLED"
)

// Well-known tags.
const (
	TagParentRunID = "mlflow.parentRunId"
	TagRunName     = "mlflow.runName"
	TagSourceName  = "mlflow.source.name"
	TagSourceType  = "mlflow.source.type"
	TagEntryPoint  = "mlflow.project.entryPoint"
	TagUser        = "mlflow.user"
)

const DefaultExperimentID = "0"

type Experiment struct {
	ID               string
	Name             string
	ArtifactLocation string
}

type RunInfo struct {
	RunID        string
	RunName      string
	ExperimentID string
	Status       Status
	StartTime    int64 // unix millis
	EndTime      int64
	ArtifactURI  string
}

type Metric struct {
	Key       string
	Value     float64
	Timestamp int64
	Step      int64
}

// RunData is a run with its latest metric values.
type RunData struct {
	Info    RunInfo
	Params  map[string]string
	Metrics map[string]float64
	Tags    map[string]string
}

// Store is a tracking backend.
type Store interface {
	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)
	CreateExperiment(ctx context.Context, name string) (string, error)
	CreateRun(ctx context.Context, experimentID, runName string, startTime int64, tags map[string]string) (*RunInfo, error)
	UpdateRun(ctx context.Context, runID string, status Status, endTime int64) error
	LogParam(ctx context.Context, runID, key, value string) error
	LogMetric(ctx context.Context, runID string, m Metric) error
	SetTag(ctx context.Context, runID, key, value string) error
	GetRun(ctx context.Context, runID string) (*RunData, error)
}

// ArtifactRepo stores files under a run's artifact root.
type ArtifactRepo interface {
	// LogArtifact copies the local file into artifactDir ("" for the root).
	LogArtifact(ctx context.Context, localPath, artifactDir string) error
}
