package jobstore

import (
	"testing"
	"time"

	"inferno/core/data"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := data.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := Open(db)
	require.NoError(t, err)
	return store
}

func TestStore_SubmitAndGet(t *testing.T) {
	s := openTestStore(t)

	job := &Job{
		Type:    JobTypeTTS,
		Payload: map[string]interface{}{"text": "hello world"},
	}
	submitted, err := s.Submit(job)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, submitted.Status)

	fetched, err := s.Get(submitted.ID)
	require.NoError(t, err)
	require.Equal(t, JobTypeTTS, fetched.Type)
	require.Equal(t, "hello world", fetched.Payload["text"])
}

func TestStore_LockAndMarkPendingIsExclusive(t *testing.T) {
	s := openTestStore(t)

	job, err := s.Submit(&Job{Type: JobTypeTTS, Payload: map[string]interface{}{}})
	require.NoError(t, err)

	gotA, err := s.LockAndMarkPending(job.ID, "worker-a", time.Minute)
	require.NoError(t, err)

	gotB, err := s.LockAndMarkPending(job.ID, "worker-b", time.Minute)
	require.NoError(t, err)

	require.True(t, gotA)
	require.False(t, gotB)
}

func TestStore_MarkFailureRetriesUntilMaxAttempts(t *testing.T) {
	s := openTestStore(t)

	job := &Job{Type: JobTypeTTS, Payload: map[string]interface{}{}, MaxAttempts: 2}
	job, err := s.Submit(job)
	require.NoError(t, err)

	_, err = s.LockAndMarkPending(job.ID, "worker-a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.MarkFailure(job.ID, "transient"))
	after1, err := s.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, after1.Status)
	require.Equal(t, 1, after1.Attempts)

	_, err = s.LockAndMarkPending(job.ID, "worker-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailure(job.ID, "transient again"))

	after2, err := s.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPermanentlyDead, after2.Status)
	require.Equal(t, 2, after2.Attempts)
}

func TestStore_ResetExpiredLeasesRequeues(t *testing.T) {
	s := openTestStore(t)

	job, err := s.Submit(&Job{Type: JobTypeTTS, Payload: map[string]interface{}{}})
	require.NoError(t, err)

	_, err = s.LockAndMarkPending(job.ID, "worker-a", -time.Minute) // already expired
	require.NoError(t, err)

	n, err := s.ResetExpiredLeases()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	after, err := s.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, after.Status)
}

func TestStore_FindByPromptHashAttachesDuplicate(t *testing.T) {
	s := openTestStore(t)

	job := &Job{Type: JobTypeTTS, Payload: map[string]interface{}{}, PromptHash: "hash-1"}
	job, err := s.Submit(job)
	require.NoError(t, err)

	_, err = s.LockAndMarkPending(job.ID, "worker-a", time.Minute)
	require.NoError(t, err)

	found, ok, err := s.FindByPromptHash("hash-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.ID, found.ID)
}

func TestStore_SubmitDuplicatePromptHashAttachesToExisting(t *testing.T) {
	s := openTestStore(t)

	first, err := s.Submit(&Job{Type: JobTypeTTS, Payload: map[string]interface{}{}, PromptHash: "hash-dup"})
	require.NoError(t, err)

	_, err = s.LockAndMarkPending(first.ID, "worker-a", time.Minute)
	require.NoError(t, err)

	second, err := s.Submit(&Job{Type: JobTypeTTS, Payload: map[string]interface{}{}, PromptHash: "hash-dup"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}
