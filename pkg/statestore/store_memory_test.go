package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		SubmissionTTL:    time.Hour,
		CompletedTTL:     24 * time.Hour,
		FileTTL:          time.Hour,
		LockoutThreshold: 3,
		LockoutWindow:    10 * time.Minute,
		LockoutDuration:  time.Hour,
	}
}

func TestSubmissionWorkflow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testOptions())

	require.NoError(t, store.CreateSubmission(ctx, 7, "sub-1", `{"dataset_id":1}`))
	err := store.CreateSubmission(ctx, 7, "sub-1", "again")
	assert.Error(t, err)

	t.Run("transitions are ordered", func(t *testing.T) {
		err := store.CompleteSubmission(ctx, "sub-1", 1)
		assert.Error(t, err, "pending cannot complete")

		require.NoError(t, store.StartSubmission(ctx, "sub-1"))
		err = store.StartSubmission(ctx, "sub-1")
		assert.Error(t, err)
	})

	t.Run("completion drops the payload", func(t *testing.T) {
		require.NoError(t, store.CompleteSubmission(ctx, "sub-1", 42))
		sub, err := store.GetSubmission(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, SubmissionCompleted, sub.Status)
		assert.Empty(t, sub.Data)
		assert.Equal(t, int64(42), sub.DatasetID)
	})

	t.Run("failure keeps payload and errors", func(t *testing.T) {
		require.NoError(t, store.CreateSubmission(ctx, 7, "sub-2", "payload"))
		require.NoError(t, store.StartSubmission(ctx, "sub-2"))
		require.NoError(t, store.FailSubmission(ctx, "sub-2", []string{"boom"}, []string{"record 0: bad"}))

		sub, err := store.GetSubmission(ctx, "sub-2")
		require.NoError(t, err)
		assert.Equal(t, SubmissionFailed, sub.Status)
		assert.Equal(t, "payload", sub.Data)
		assert.Equal(t, []string{"boom"}, sub.Errors)
		assert.Equal(t, []string{"record 0: bad"}, sub.ItemErrors)
	})

	ids, err := store.ListSubmissions(ctx, 7)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sub-1", "sub-2"}, ids)
}

func TestSubmissionExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(testOptions(), WithClock(func() time.Time { return now }))

	require.NoError(t, store.CreateSubmission(ctx, 7, "sub-1", "payload"))
	now = now.Add(2 * time.Hour)

	_, err := store.GetSubmission(ctx, "sub-1")
	assert.Error(t, err)
	ids, err := store.ListSubmissions(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFileLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testOptions())

	require.NoError(t, store.CreateFile(ctx, 7, "up-1", "trial.csv"))
	require.NoError(t, store.SetFileProgress(ctx, "up-1", 60))
	require.NoError(t, store.CompleteFile(ctx, "up-1", 9))

	rec, err := store.GetFile(ctx, "up-1")
	require.NoError(t, err)
	assert.Equal(t, FileStored, rec.Status)
	assert.Equal(t, int64(9), rec.FileID)
	assert.Equal(t, 100, rec.Progress)

	require.NoError(t, store.CreateFile(ctx, 7, "up-2", "broken.csv"))
	require.NoError(t, store.FailFile(ctx, "up-2", []string{"truncated"}))
	rec, err = store.GetFile(ctx, "up-2")
	require.NoError(t, err)
	assert.Equal(t, FileFailed, rec.Status)
	assert.Equal(t, []string{"truncated"}, rec.Errors)

	err = store.SetFileProgress(ctx, "missing", 10)
	assert.Error(t, err)
}

func TestLoginLockout(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(testOptions(), WithClock(func() time.Time { return now }))

	attempts, locked, err := store.RecordLoginFailure(ctx, "agent-7")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.False(t, locked)

	_, _, err = store.RecordLoginFailure(ctx, "agent-7")
	require.NoError(t, err)
	_, locked, err = store.RecordLoginFailure(ctx, "agent-7")
	require.NoError(t, err)
	assert.True(t, locked, "the third failure trips the threshold")

	out, err := store.IsLockedOut(ctx, "agent-7")
	require.NoError(t, err)
	assert.True(t, out)

	t.Run("lockout expires", func(t *testing.T) {
		now = now.Add(2 * time.Hour)
		out, err := store.IsLockedOut(ctx, "agent-7")
		require.NoError(t, err)
		assert.False(t, out)
	})

	t.Run("window resets the counter", func(t *testing.T) {
		_, _, err := store.RecordLoginFailure(ctx, "agent-8")
		require.NoError(t, err)
		now = now.Add(11 * time.Minute)
		attempts, _, err := store.RecordLoginFailure(ctx, "agent-8")
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("reset clears both keys", func(t *testing.T) {
		_, _, err := store.RecordLoginFailure(ctx, "agent-9")
		require.NoError(t, err)
		require.NoError(t, store.ResetLoginAttempts(ctx, "agent-9"))
		attempts, _, err := store.RecordLoginFailure(ctx, "agent-9")
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})
}
