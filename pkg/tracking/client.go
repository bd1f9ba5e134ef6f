package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

// ClientConfig selects and configures the backend.
type ClientConfig struct {
	// TrackingURI is a directory, a file: URI, or an http(s) server URL.
	// Empty means ./mlruns.
	TrackingURI string
	Credentials Credentials
	S3Endpoint  string

	// Optional configuration.
	Logger *slog.Logger
	Clock  clockwork.Clock
	HTTP   *http.Client
	S3     S3PutAPI
}

// ConfigFromEnv fills credentials and the S3 endpoint from the standard
// MLFLOW_* variables.
func ConfigFromEnv(trackingURI string) ClientConfig {
	return ClientConfig{
		TrackingURI: trackingURI,
		Credentials: Credentials{
			Token:    os.Getenv("MLFLOW_TRACKING_TOKEN"),
			Username: os.Getenv("MLFLOW_TRACKING_USERNAME"),
			Password: os.Getenv("MLFLOW_TRACKING_PASSWORD"),
		},
		S3Endpoint: os.Getenv("MLFLOW_S3_ENDPOINT_URL"),
	}
}

// Client records runs against one tracking backend.
type Client struct {
	store Store
	cfg   ClientConfig
	log   *slog.Logger
	clock clockwork.Clock
	base  *url.URL // set for REST backends
}

// NewClient opens the backend named by cfg.TrackingURI.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	c := &Client{cfg: cfg, log: cfg.Logger, clock: cfg.Clock}

	uri := cfg.TrackingURI
	if uri == "" {
		uri = "mlruns"
	}
	u, err := url.Parse(uri)
	switch {
	case err == nil && (u.Scheme == "http" || u.Scheme == "https"):
		rs, err := NewRESTStore(uri, cfg.HTTP, cfg.Credentials, cfg.Logger)
		if err != nil {
			return nil, err
		}
		c.store, c.base = rs, rs.BaseURL()
	case err == nil && u.Scheme == "file":
		fs, err := NewFileStore(filepath.FromSlash(u.Path), cfg.Clock)
		if err != nil {
			return nil, err
		}
		c.store = fs
	case err == nil && u.Scheme != "":
		return nil, fmt.Errorf("unsupported tracking uri scheme %q", u.Scheme)
	default:
		fs, err := NewFileStore(uri, cfg.Clock)
		if err != nil {
			return nil, err
		}
		c.store = fs
	}
	return c, nil
}

// NewClientWithStore wraps an existing store.
func NewClientWithStore(store Store, cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	c := &Client{store: store, cfg: cfg, log: cfg.Logger, clock: cfg.Clock}
	if rs, ok := store.(*RESTStore); ok {
		c.base = rs.BaseURL()
	}
	return c
}

// Store returns the backend.
func (c *Client) Store() Store { return c.store }

// SetExperiment returns the id of the named experiment, creating it if
// it does not exist.
func (c *Client) SetExperiment(ctx context.Context, name string) (string, error) {
	exp, err := c.store.GetExperimentByName(ctx, name)
	if err == nil {
		return exp.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("get experiment %q: %w", name, err)
	}
	id, err := c.store.CreateExperiment(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create experiment %q: %w", name, err)
	}
	c.log.Info("Created experiment", "name", name, "id", id)
	return id, nil
}

// GetExperimentByName looks an experiment up without creating it.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	return c.store.GetExperimentByName(ctx, name)
}

// GetRun fetches a run with its params, latest metrics and tags.
func (c *Client) GetRun(ctx context.Context, runID string) (*RunData, error) {
	return c.store.GetRun(ctx, runID)
}

// RunOptions configure StartRun.
type RunOptions struct {
	ExperimentID string // empty means the Default experiment
	RunName      string
	ParentRunID  string
	Tags         map[string]string
}

// StartRun creates a run in the RUNNING state. The caller must End it.
func (c *Client) StartRun(ctx context.Context, opts RunOptions) (*Run, error) {
	expID := opts.ExperimentID
	if expID == "" {
		expID = DefaultExperimentID
	}
	tags := map[string]string{TagSourceType: "LOCAL"}
	if exe, err := os.Executable(); err == nil {
		tags[TagSourceName] = exe
	}
	if user := os.Getenv("USER"); user != "" {
		tags[TagUser] = user
	}
	for k, v := range opts.Tags {
		tags[k] = v
	}
	if opts.ParentRunID != "" {
		tags[TagParentRunID] = opts.ParentRunID
	}

	info, err := c.store.CreateRun(ctx, expID, opts.RunName, c.clock.Now().UnixMilli(), tags)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	c.log.Debug("Started run", "run_id", info.RunID, "experiment_id", info.ExperimentID, "parent_run_id", opts.ParentRunID)
	return &Run{client: c, info: *info}, nil
}

// Run is a handle on one active run.
type Run struct {
	client *Client
	info   RunInfo

	mu        sync.Mutex
	ended     bool
	artifacts ArtifactRepo
}

func (r *Run) ID() string           { return r.info.RunID }
func (r *Run) ExperimentID() string { return r.info.ExperimentID }

func (r *Run) LogParam(ctx context.Context, key, value string) error {
	if err := r.client.store.LogParam(ctx, r.info.RunID, key, value); err != nil {
		return fmt.Errorf("log param %s: %w", key, err)
	}
	return nil
}

// LogParams logs params in key order.
func (r *Run) LogParams(ctx context.Context, params map[string]string) error {
	for _, k := range sortedKeys(params) {
		if err := r.LogParam(ctx, k, params[k]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Run) LogMetric(ctx context.Context, key string, value float64) error {
	return r.LogMetricStep(ctx, key, value, 0)
}

func (r *Run) LogMetricStep(ctx context.Context, key string, value float64, step int64) error {
	m := Metric{Key: key, Value: value, Timestamp: r.client.clock.Now().UnixMilli(), Step: step}
	if err := r.client.store.LogMetric(ctx, r.info.RunID, m); err != nil {
		return fmt.Errorf("log metric %s: %w", key, err)
	}
	return nil
}

func (r *Run) SetTag(ctx context.Context, key, value string) error {
	if err := r.client.store.SetTag(ctx, r.info.RunID, key, value); err != nil {
		return fmt.Errorf("set tag %s: %w", key, err)
	}
	return nil
}

// LogArtifact uploads a local file under artifactDir of the run's
// artifact root.
func (r *Run) LogArtifact(ctx context.Context, localPath, artifactDir string) error {
	repo, err := r.artifactRepo(ctx)
	if err != nil {
		return err
	}
	if err := repo.LogArtifact(ctx, localPath, artifactDir); err != nil {
		return fmt.Errorf("log artifact %s: %w", localPath, err)
	}
	return nil
}

func (r *Run) artifactRepo(ctx context.Context) (ArtifactRepo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.artifacts != nil {
		return r.artifacts, nil
	}
	cfg := r.client.cfg
	repo, err := NewArtifactRepo(ctx, r.info.ArtifactURI, ArtifactOptions{
		TrackingURL: r.client.base,
		HTTP:        cfg.HTTP,
		Creds:       cfg.Credentials,
		S3:          cfg.S3,
		S3Endpoint:  cfg.S3Endpoint,
	})
	if err != nil {
		return nil, err
	}
	r.artifacts = repo
	return repo, nil
}

// End marks the run FINISHED, or FAILED when runErr is non-nil. Calling End
// more than once is a no-op.
func (r *Run) End(ctx context.Context, runErr error) error {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return nil
	}
	r.ended = true
	r.mu.Unlock()

	status := StatusFinished
	if runErr != nil {
		status = StatusFailed
	}
	// record the final status even if the caller's context is already done
	ctx = context.WithoutCancel(ctx)
	if err := r.client.store.UpdateRun(ctx, r.info.RunID, status, r.client.clock.Now().UnixMilli()); err != nil {
		return fmt.Errorf("end run %s: %w", r.info.RunID, err)
	}
	r.info.Status = status
	r.client.log.Debug("Ended run", "run_id", r.info.RunID, "status", status)
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
