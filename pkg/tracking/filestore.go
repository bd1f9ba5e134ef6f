package tracking

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"
)

// mlruns meta.yaml encodes run status as an integer.
var statusCodes = map[Status]int{
	StatusRunning:  1,
	StatusFinished: 3,
	StatusFailed:   4,
	StatusKilled:   5,
}

type experimentMeta struct {
	ArtifactLocation string `yaml:"artifact_location"`
	CreationTime     int64  `yaml:"creation_time"`
	ExperimentID     string `yaml:"experiment_id"`
	LastUpdateTime   int64  `yaml:"last_update_time"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	Name             string `yaml:"name"`
}

type runMeta struct {
	ArtifactURI    string `yaml:"artifact_uri"`
	EndTime        *int64 `yaml:"end_time"`
	EntryPointName string `yaml:"entry_point_name"`
	ExperimentID   string `yaml:"experiment_id"`
	LifecycleStage string `yaml:"lifecycle_stage"`
	RunID          string `yaml:"run_id"`
	RunName        string `yaml:"run_name"`
	RunUUID        string `yaml:"run_uuid"`
	SourceName     string `yaml:"source_name"`
	SourceType     int    `yaml:"source_type"`
	SourceVersion  string `yaml:"source_version"`
	StartTime      int64  `yaml:"start_time"`
	Status         int    `yaml:"status"`
	Tags           []any  `yaml:"tags"`
	UserID         string `yaml:"user_id"`
}

// FileStore keeps runs in a local directory laid out like MLflow's
// mlruns folder, so the MLflow UI can browse it.
type FileStore struct {
	root  string
	clock clockwork.Clock

	mu sync.Mutex // guards experiment id allocation
}

// NewFileStore opens (creating if needed) the store rooted at dir.
func NewFileStore(dir string, clock clockwork.Clock) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create tracking dir: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FileStore{root: abs, clock: clock}, nil
}

// Root returns the absolute store directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) now() int64 { return s.clock.Now().UnixMilli() }

func (s *FileStore) GetExperimentByName(_ context.Context, name string) (*Experiment, error) {
	exps, err := s.experiments()
	if err != nil {
		return nil, err
	}
	for _, e := range exps {
		if e.Name == name {
			return &Experiment{ID: e.ExperimentID, Name: e.Name, ArtifactLocation: e.ArtifactLocation}, nil
		}
	}
	return nil, fmt.Errorf("%w: experiment %q", ErrNotFound, name)
}

func (s *FileStore) CreateExperiment(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createExperimentLocked(name, "")
}

func (s *FileStore) createExperimentLocked(name, id string) (string, error) {
	exps, err := s.experiments()
	if err != nil {
		return "", err
	}
	next := 1 // 0 is reserved for the Default experiment
	for _, e := range exps {
		if e.Name == name {
			return "", fmt.Errorf("experiment %q already exists with id %s", name, e.ExperimentID)
		}
		if n, err := strconv.Atoi(e.ExperimentID); err == nil && n >= next {
			next = n + 1
		}
	}
	if id == "" {
		id = strconv.Itoa(next)
	}
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create experiment dir: %w", err)
	}
	now := s.now()
	meta := experimentMeta{
		ArtifactLocation: fileURI(dir),
		CreationTime:     now,
		ExperimentID:     id,
		LastUpdateTime:   now,
		LifecycleStage:   "active",
		Name:             name,
	}
	if err := writeYAML(filepath.Join(dir, "meta.yaml"), meta); err != nil {
		return "", err
	}
	return id, nil
}

// ensureExperiment creates the Default experiment on first use.
func (s *FileStore) ensureExperiment(id string) error {
	if _, err := os.Stat(filepath.Join(s.root, id, "meta.yaml")); err == nil {
		return nil
	}
	if id != DefaultExperimentID {
		return fmt.Errorf("%w: experiment id %s", ErrNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(filepath.Join(s.root, id, "meta.yaml")); err == nil {
		return nil
	}
	_, err := s.createExperimentLocked("Default", id)
	return err
}

func (s *FileStore) experiments() ([]experimentMeta, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	var out []experimentMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var meta experimentMeta
		err := readYAML(filepath.Join(s.root, e.Name(), "meta.yaml"), &meta)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

func (s *FileStore) CreateRun(_ context.Context, experimentID, runName string, startTime int64, tags map[string]string) (*RunInfo, error) {
	if experimentID == "" {
		experimentID = DefaultExperimentID
	}
	if err := s.ensureExperiment(experimentID); err != nil {
		return nil, err
	}
	runID := strings.ReplaceAll(uuid.NewString(), "-", "")
	dir := filepath.Join(s.root, experimentID, runID)
	for _, sub := range []string{"artifacts", "metrics", "params", "tags"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create run dir: %w", err)
		}
	}
	meta := runMeta{
		ArtifactURI:    fileURI(filepath.Join(dir, "artifacts")),
		ExperimentID:   experimentID,
		LifecycleStage: "active",
		RunID:          runID,
		RunName:        runName,
		RunUUID:        runID,
		SourceType:     4, // LOCAL
		StartTime:      startTime,
		Status:         statusCodes[StatusRunning],
		Tags:           []any{},
		UserID:         tags[TagUser],
		SourceName:     tags[TagSourceName],
		EntryPointName: tags[TagEntryPoint],
	}
	if err := writeYAML(filepath.Join(dir, "meta.yaml"), meta); err != nil {
		return nil, err
	}
	for k, v := range tags {
		if err := s.writeValue(dir, "tags", k, v); err != nil {
			return nil, err
		}
	}
	if runName != "" {
		if err := s.writeValue(dir, "tags", TagRunName, runName); err != nil {
			return nil, err
		}
	}
	return meta.info(), nil
}

func (m *runMeta) info() *RunInfo {
	info := &RunInfo{
		RunID:        m.RunID,
		RunName:      m.RunName,
		ExperimentID: m.ExperimentID,
		StartTime:    m.StartTime,
		ArtifactURI:  m.ArtifactURI,
	}
	if m.EndTime != nil {
		info.EndTime = *m.EndTime
	}
	for st, code := range statusCodes {
		if code == m.Status {
			info.Status = st
		}
	}
	return info
}

// runDir finds the directory of runID across experiments.
func (s *FileStore) runDir(runID string) (string, *runMeta, error) {
	if runID == "" || strings.ContainsAny(runID, `/\.`) {
		return "", nil, fmt.Errorf("invalid run id %q", runID)
	}
	matches, err := filepath.Glob(filepath.Join(s.root, "*", runID, "meta.yaml"))
	if err != nil {
		return "", nil, err
	}
	if len(matches) == 0 {
		return "", nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	var meta runMeta
	if err := readYAML(matches[0], &meta); err != nil {
		return "", nil, err
	}
	return filepath.Dir(matches[0]), &meta, nil
}

func (s *FileStore) UpdateRun(_ context.Context, runID string, status Status, endTime int64) error {
	dir, meta, err := s.runDir(runID)
	if err != nil {
		return err
	}
	code, ok := statusCodes[status]
	if !ok {
		return fmt.Errorf("unknown run status %q", status)
	}
	meta.Status = code
	if status != StatusRunning {
		meta.EndTime = &endTime
	}
	return writeYAML(filepath.Join(dir, "meta.yaml"), meta)
}

func (s *FileStore) LogParam(_ context.Context, runID, key, value string) error {
	dir, _, err := s.runDir(runID)
	if err != nil {
		return err
	}
	path, err := safeJoin(dir, "params", key)
	if err != nil {
		return err
	}
	if prev, err := os.ReadFile(path); err == nil && string(prev) != value {
		return fmt.Errorf("param %s already logged with value %q", key, prev)
	}
	return s.writeValue(dir, "params", key, value)
}

func (s *FileStore) LogMetric(_ context.Context, runID string, m Metric) error {
	dir, _, err := s.runDir(runID)
	if err != nil {
		return err
	}
	path, err := safeJoin(dir, "metrics", m.Key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open metric file: %w", err)
	}
	_, err = fmt.Fprintf(f, "%d %s %d\n", m.Timestamp, strconv.FormatFloat(m.Value, 'g', -1, 64), m.Step)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *FileStore) SetTag(_ context.Context, runID, key, value string) error {
	dir, _, err := s.runDir(runID)
	if err != nil {
		return err
	}
	return s.writeValue(dir, "tags", key, value)
}

func (s *FileStore) GetRun(_ context.Context, runID string) (*RunData, error) {
	dir, meta, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	rd := &RunData{Info: *meta.info()}
	if rd.Params, err = readValues(filepath.Join(dir, "params")); err != nil {
		return nil, err
	}
	if rd.Tags, err = readValues(filepath.Join(dir, "tags")); err != nil {
		return nil, err
	}
	metricFiles, err := readValues(filepath.Join(dir, "metrics"))
	if err != nil {
		return nil, err
	}
	rd.Metrics = make(map[string]float64, len(metricFiles))
	for k, content := range metricFiles {
		v, err := latestMetric(content)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", k, err)
		}
		rd.Metrics[k] = v
	}
	return rd, nil
}

// latestMetric returns the value with the highest step, then timestamp.
func latestMetric(content string) (float64, error) {
	var best struct {
		ts, step int64
		v        float64
		ok       bool
	}
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		ts, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, err
		}
		var step int64
		if len(fields) > 2 {
			if step, err = strconv.ParseInt(fields[2], 10, 64); err != nil {
				return 0, err
			}
		}
		if !best.ok || step > best.step || (step == best.step && ts >= best.ts) {
			best.ts, best.step, best.v, best.ok = ts, step, v, true
		}
	}
	if !best.ok {
		return 0, errors.New("no values")
	}
	return best.v, nil
}

func (s *FileStore) writeValue(runDir, kind, key, value string) error {
	path, err := safeJoin(runDir, kind, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(value), 0o644)
}

// readValues loads every file under dir keyed by its slash-separated
// relative path, so keys like "mlflow.source.name" or "a/b" round-trip.
func readValues(dir string) (map[string]string, error) {
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	return out, err
}

// safeJoin rejects keys that would escape the run directory.
func safeJoin(runDir, kind, key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || slices.Contains(strings.Split(key, "/"), "..") {
		return "", fmt.Errorf("invalid %s key %q", kind, key)
	}
	return filepath.Join(runDir, kind, filepath.FromSlash(key)), nil
}

func fileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

func writeYAML(path string, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func readYAML(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
