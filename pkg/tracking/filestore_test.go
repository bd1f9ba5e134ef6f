package tracking

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newFileStore(t *testing.T) (*FileStore, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	s, err := NewFileStore(t.TempDir(), clock)
	require.NoError(t, err)
	return s, clock
}

func TestFileStore_Experiments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newFileStore(t)

	_, err := s.GetExperimentByName(ctx, "iris")
	require.ErrorIs(t, err, ErrNotFound)

	id, err := s.CreateExperiment(ctx, "iris")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	id2, err := s.CreateExperiment(ctx, "wine")
	require.NoError(t, err)
	assert.Equal(t, "2", id2)

	_, err = s.CreateExperiment(ctx, "iris")
	require.ErrorContains(t, err, "already exists")

	exp, err := s.GetExperimentByName(ctx, "wine")
	require.NoError(t, err)
	assert.Equal(t, "2", exp.ID)
	assert.True(t, strings.HasPrefix(exp.ArtifactLocation, "file://"))
}

func TestFileStore_RunLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, clock := newFileStore(t)

	start := clock.Now().UnixMilli()
	info, err := s.CreateRun(ctx, "", "featurize", start, map[string]string{TagParentRunID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, DefaultExperimentID, info.ExperimentID)
	assert.Equal(t, StatusRunning, info.Status)
	assert.Len(t, info.RunID, 32)

	require.NoError(t, s.LogParam(ctx, info.RunID, "n_rows", "150"))
	require.NoError(t, s.LogParam(ctx, info.RunID, "n_rows", "150"))
	require.Error(t, s.LogParam(ctx, info.RunID, "n_rows", "151"))
	require.Error(t, s.LogParam(ctx, info.RunID, "../escape", "x"))

	require.NoError(t, s.LogMetric(ctx, info.RunID, Metric{Key: "f1_score", Value: 0.5, Timestamp: start, Step: 0}))
	require.NoError(t, s.LogMetric(ctx, info.RunID, Metric{Key: "f1_score", Value: 0.75, Timestamp: start + 1, Step: 0}))
	require.NoError(t, s.SetTag(ctx, info.RunID, "stage", "featurize"))

	clock.Advance(time.Second)
	require.NoError(t, s.UpdateRun(ctx, info.RunID, StatusFinished, clock.Now().UnixMilli()))

	rd, err := s.GetRun(ctx, info.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, rd.Info.Status)
	assert.Equal(t, start+1000, rd.Info.EndTime)
	assert.Equal(t, map[string]string{"n_rows": "150"}, rd.Params)
	assert.Equal(t, map[string]float64{"f1_score": 0.75}, rd.Metrics)
	assert.Equal(t, "abc", rd.Tags[TagParentRunID])
	assert.Equal(t, "featurize", rd.Tags[TagRunName])
	assert.Equal(t, "featurize", rd.Tags["stage"])

	// mlruns layout
	raw, err := os.ReadFile(filepath.Join(s.Root(), "0", info.RunID, "meta.yaml"))
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &meta))
	assert.Equal(t, 3, meta["status"])
	assert.Equal(t, info.RunID, meta["run_uuid"])
	metric, err := os.ReadFile(filepath.Join(s.Root(), "0", info.RunID, "metrics", "f1_score"))
	require.NoError(t, err)
	assert.Equal(t, "1700000000000 0.5 0\n1700000000001 0.75 0\n", string(metric))
}

func TestFileStore_UnknownRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newFileStore(t)

	_, err := s.GetRun(ctx, "deadbeef")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.SetTag(ctx, "deadbeef", "k", "v"), ErrNotFound)

	_, err = s.CreateRun(ctx, "42", "", 0, nil)
	require.ErrorIs(t, err, ErrNotFound)
}
