package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const apiPrefix = "/api/2.0/mlflow/"

// Credentials authenticate against a tracking server. Token wins over
// basic auth when both are set.
type Credentials struct {
	Token    string
	Username string
	Password string
}

func (c Credentials) apply(req *http.Request) {
	switch {
	case c.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case c.Username != "":
		req.SetBasicAuth(c.Username, c.Password)
	}
}

// RESTStore talks to an MLflow tracking server.
type RESTStore struct {
	base     *url.URL
	http     *http.Client
	creds    Credentials
	log      *slog.Logger
	maxTries uint
	maxWait  time.Duration
	backOff  func() backoff.BackOff
}

// NewRESTStore returns a store for the server at baseURL.
func NewRESTStore(baseURL string, httpClient *http.Client, creds Credentials, log *slog.Logger) (*RESTStore, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse tracking uri: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("tracking uri %q: want http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &RESTStore{base: u, http: httpClient, creds: creds, log: log, maxTries: 5, maxWait: 2 * time.Minute,
		backOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}, nil
}

// apiError is the MLflow error body.
type apiError struct {
	Status    int    `json:"-"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("mlflow: %d %s: %s", e.Status, e.ErrorCode, e.Message)
}

func (e *apiError) Unwrap() error {
	if e.Status == http.StatusNotFound || e.ErrorCode == "RESOURCE_DOES_NOT_EXIST" {
		return ErrNotFound
	}
	return nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// call performs one API request with retries on transport errors and
// 429/5xx responses. out may be nil.
func (s *RESTStore) call(ctx context.Context, method, endpoint string, query url.Values, in, out any) error {
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + apiPrefix + endpoint
	u.RawQuery = query.Encode()

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}

	attempt := 0
	raw, err := backoff.Retry(ctx, func() ([]byte, error) {
		if attempt > 0 {
			s.log.Warn("Tracking request failed, retrying", "endpoint", endpoint, "attempt", attempt)
		}
		attempt++

		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		s.creds.apply(req)

		resp, err := s.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode/100 == 2 {
			return b, nil
		}
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(b, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(b))
		}
		if retryable(resp.StatusCode) {
			return nil, apiErr
		}
		return nil, backoff.Permanent(apiErr)
	},
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithMaxElapsedTime(s.maxWait),
	)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, endpoint, err)
	}
	return nil
}

type restKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type restExperiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location"`
}

type restRunInfo struct {
	RunID          string `json:"run_id"`
	RunName        string `json:"run_name"`
	ExperimentID   string `json:"experiment_id"`
	Status         string `json:"status"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time"`
	ArtifactURI    string `json:"artifact_uri"`
	LifecycleStage string `json:"lifecycle_stage"`
}

func (r restRunInfo) info() *RunInfo {
	return &RunInfo{
		RunID:        r.RunID,
		RunName:      r.RunName,
		ExperimentID: r.ExperimentID,
		Status:       Status(r.Status),
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		ArtifactURI:  r.ArtifactURI,
	}
}

type restMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type restRun struct {
	Info restRunInfo `json:"info"`
	Data struct {
		Metrics []restMetric `json:"metrics"`
		Params  []restKV     `json:"params"`
		Tags    []restKV     `json:"tags"`
	} `json:"data"`
}

// BaseURL returns the server address.
func (s *RESTStore) BaseURL() *url.URL {
	u := *s.base
	return &u
}

func (s *RESTStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var out struct {
		Experiment restExperiment `json:"experiment"`
	}
	if err := s.call(ctx, http.MethodGet, "experiments/get-by-name", url.Values{"experiment_name": {name}}, nil, &out); err != nil {
		return nil, err
	}
	e := out.Experiment
	return &Experiment{ID: e.ExperimentID, Name: e.Name, ArtifactLocation: e.ArtifactLocation}, nil
}

func (s *RESTStore) CreateExperiment(ctx context.Context, name string) (string, error) {
	var out struct {
		ExperimentID string `json:"experiment_id"`
	}
	in := map[string]string{"name": name}
	if err := s.call(ctx, http.MethodPost, "experiments/create", nil, in, &out); err != nil {
		return "", err
	}
	return out.ExperimentID, nil
}

func (s *RESTStore) CreateRun(ctx context.Context, experimentID, runName string, startTime int64, tags map[string]string) (*RunInfo, error) {
	in := struct {
		ExperimentID string   `json:"experiment_id"`
		RunName      string   `json:"run_name,omitempty"`
		StartTime    int64    `json:"start_time"`
		Tags         []restKV `json:"tags,omitempty"`
	}{ExperimentID: experimentID, RunName: runName, StartTime: startTime}
	for _, k := range sortedKeys(tags) {
		in.Tags = append(in.Tags, restKV{Key: k, Value: tags[k]})
	}
	var out struct {
		Run restRun `json:"run"`
	}
	if err := s.call(ctx, http.MethodPost, "runs/create", nil, in, &out); err != nil {
		return nil, err
	}
	return out.Run.Info.info(), nil
}

func (s *RESTStore) UpdateRun(ctx context.Context, runID string, status Status, endTime int64) error {
	in := struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		EndTime int64  `json:"end_time,omitempty"`
	}{RunID: runID, Status: string(status)}
	if status != StatusRunning {
		in.EndTime = endTime
	}
	return s.call(ctx, http.MethodPost, "runs/update", nil, in, nil)
}

func (s *RESTStore) LogParam(ctx context.Context, runID, key, value string) error {
	in := map[string]string{"run_id": runID, "key": key, "value": value}
	return s.call(ctx, http.MethodPost, "runs/log-parameter", nil, in, nil)
}

func (s *RESTStore) LogMetric(ctx context.Context, runID string, m Metric) error {
	in := struct {
		RunID string `json:"run_id"`
		restMetric
	}{RunID: runID, restMetric: restMetric(m)}
	return s.call(ctx, http.MethodPost, "runs/log-metric", nil, in, nil)
}

func (s *RESTStore) SetTag(ctx context.Context, runID, key, value string) error {
	in := map[string]string{"run_id": runID, "key": key, "value": value}
	return s.call(ctx, http.MethodPost, "runs/set-tag", nil, in, nil)
}

func (s *RESTStore) GetRun(ctx context.Context, runID string) (*RunData, error) {
	var out struct {
		Run restRun `json:"run"`
	}
	if err := s.call(ctx, http.MethodGet, "runs/get", url.Values{"run_id": {runID}}, nil, &out); err != nil {
		return nil, err
	}
	rd := &RunData{
		Info:    *out.Run.Info.info(),
		Params:  map[string]string{},
		Metrics: map[string]float64{},
		Tags:    map[string]string{},
	}
	for _, p := range out.Run.Data.Params {
		rd.Params[p.Key] = p.Value
	}
	for _, t := range out.Run.Data.Tags {
		rd.Tags[t.Key] = t.Value
	}
	for _, m := range out.Run.Data.Metrics {
		rd.Metrics[m.Key] = m.Value
	}
	return rd, nil
}

// IsNotFound reports whether err means the resource does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
