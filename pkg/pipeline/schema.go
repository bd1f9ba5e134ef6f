package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mlrepa/mlpanel-demo/pkg/model"
)

// Schema describes the structure of the model input.
type Schema struct {
	FeatureNames []string
	Types        []string // column types in MLflow's vocabulary, e.g. "double"
}

// NewSchema describes numeric feature columns.
func NewSchema(names []string) Schema {
	types := make([]string, len(names))
	for i := range types {
		types[i] = "double"
	}
	return Schema{FeatureNames: names, Types: types}
}

type schemaColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// signature encodes the schema the way MLflow stores it in MLmodel: a JSON
// document held in a YAML string.
func (s Schema) signature() (string, error) {
	cols := make([]schemaColumn, len(s.FeatureNames))
	for i, name := range s.FeatureNames {
		cols[i] = schemaColumn{Name: name, Type: s.Types[i]}
	}
	b, err := json.Marshal(cols)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

const (
	modelArtifactDir = "model"
	modelFlavor      = "go_gob"
)

type mlModel struct {
	ArtifactPath   string                    `yaml:"artifact_path"`
	Flavors        map[string]map[string]any `yaml:"flavors"`
	RunID          string                    `yaml:"run_id"`
	Signature      map[string]string         `yaml:"signature"`
	UTCTimeCreated string                    `yaml:"utc_time_created"`
}

// writeMLModel writes the MLmodel descriptor for b, stored as modelFile,
// into dir.
func writeMLModel(dir string, b *model.Bundle, modelFile, runID string, created time.Time) (string, error) {
	sig, err := NewSchema(b.Features).signature()
	if err != nil {
		return "", fmt.Errorf("encode signature: %w", err)
	}
	m := mlModel{
		ArtifactPath: modelArtifactDir,
		Flavors: map[string]map[string]any{
			modelFlavor: {
				"estimator":  b.Estimator,
				"params":     map[string]any(b.Params),
				"classes":    b.Classes,
				"scoring":    b.Scoring,
				"cv_score":   b.CVScore,
				"model_file": modelFile,
			},
		},
		RunID:          runID,
		Signature:      map[string]string{"inputs": sig},
		UTCTimeCreated: created.UTC().Format("2006-01-02 15:04:05.000000"),
	}
	out, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode MLmodel: %w", err)
	}
	path := filepath.Join(dir, "MLmodel")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("write MLmodel: %w", err)
	}
	return path, nil
}
