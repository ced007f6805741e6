package processor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inferno/cache"
	"inferno/core/data"
	"inferno/diskcache"
	"inferno/jobstore"
	"inferno/modelstate"
	"inferno/progress"
)

func newTestPipeline(t *testing.T) (*Pipeline, *jobstore.Store) {
	t.Helper()

	db, err := data.OpenDB(":memory:")
	require.NoError(t, err)
	store, err := jobstore.Open(db)
	require.NoError(t, err)

	disk, err := diskcache.New(t.TempDir(), slog.Default())
	require.NoError(t, err)

	resolver := modelstate.New(store, disk, cache.NewVirtualLFU(2))

	deps := Deps{
		Store:             store,
		Resolver:          resolver,
		DiskStrategizer:   cache.New(time.Minute, time.Minute),
		MemoryStrategizer: cache.New(time.Minute, time.Minute),
		LFU:               cache.NewVirtualLFU(2),
		Disk:              disk,
		Progress:          progress.NewHub(nil),
		Hostname:          "test-host",
		LeaseDuration:     time.Minute,
		ScratchRoot:       t.TempDir(),
		Logger:            slog.Default(),
	}

	table := map[jobstore.JobType]JobTypeProcessor{}
	pipeline := New(deps, table)
	return pipeline, store
}

func TestPipeline_UnregisteredJobTypeIsPermanentlyDead(t *testing.T) {
	pipeline, store := newTestPipeline(t)

	job, err := store.Submit(&jobstore.Job{Type: jobstore.JobTypeTTS, Payload: map[string]interface{}{}})
	require.NoError(t, err)

	err = pipeline.Process(context.Background(), job)
	require.NoError(t, err)

	status, err := store.GetStatus(job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusPermanentlyDead, status)
}

func TestPipeline_MissingModelWeightIsPermanentlyDead(t *testing.T) {
	pipeline, store := newTestPipeline(t)
	pipeline.processors[jobstore.JobTypeTTS] = TTS{SynthesizerCommand: "true"}

	job, err := store.Submit(&jobstore.Job{
		Type: jobstore.JobTypeTTS,
		Payload: map[string]interface{}{
			"text":              "hello world",
			"synthesizer_token": "does-not-exist",
		},
	})
	require.NoError(t, err)

	err = pipeline.Process(context.Background(), job)
	require.NoError(t, err)

	status, err := store.GetStatus(job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusPermanentlyDead, status)
}
