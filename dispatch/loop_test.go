package dispatch

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
	"inferno/processor"
	"inferno/progress"
)

func newTestLoop(t *testing.T) (*Loop, *jobstore.Store) {
	t.Helper()

	db, err := data.OpenDB(":memory:")
	require.NoError(t, err)
	store, err := jobstore.Open(db)
	require.NoError(t, err)

	disk, err := diskcache.New(t.TempDir(), slog.Default())
	require.NoError(t, err)

	deps := processor.Deps{
		Store:             store,
		Resolver:          modelstate.New(store, disk, cache.NewVirtualLFU(2)),
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
	pipeline := processor.New(deps, map[jobstore.JobType]processor.JobTypeProcessor{})

	loop := New(store, pipeline, slog.Default())
	loop.BatchWait = time.Millisecond
	return loop, store
}

func TestLoop_EmptyBatchReturnsWithoutError(t *testing.T) {
	loop, _ := newTestLoop(t)
	err := loop.tick(context.Background())
	require.NoError(t, err)
}

func TestLoop_StarvationPreventionTogglesSort(t *testing.T) {
	loop, _ := newTestLoop(t)
	loop.StarvationPreventionEveryN = 2

	loop.iteration = 1
	sortA := loop.StarvationPreventionEveryN <= 0 || (loop.iteration+1)%loop.StarvationPreventionEveryN != 0
	require.False(t, sortA)
}

func TestLoop_DispatchesUnregisteredJobToPermanentlyDead(t *testing.T) {
	loop, store := newTestLoop(t)

	job, err := store.Submit(&jobstore.Job{Type: jobstore.JobTypeTTS, Payload: map[string]interface{}{}})
	require.NoError(t, err)

	err = loop.tick(context.Background())
	require.NoError(t, err)

	status, err := store.GetStatus(job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusPermanentlyDead, status)
}
