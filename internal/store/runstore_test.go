package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunStore_CreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "payments", "spec body", "plan body")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "payments", got.ProjectID)
	assert.Equal(t, "running", got.Status)
	assert.Equal(t, "spec body", got.Spec)
	assert.Zero(t, got.Iterations)
	assert.False(t, got.StartedAt.IsZero())
	assert.True(t, got.FinishedAt.IsZero())
}

func TestRunStore_GetRun_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetRun(context.Background(), "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStore_RecordIterations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "payments", "s", "p")
	require.NoError(t, err)

	rates := []float64{80, 40, 10, 4}
	for i, rate := range rates {
		require.NoError(t, s.RecordIteration(ctx, run.ID, i+1, rate, 3))
	}

	records, err := s.ListIterations(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Iteration)
		assert.Equal(t, rates[i], rec.FailureRate)
		assert.Equal(t, 3, rec.Scenarios)
		assert.False(t, rec.RecordedAt.IsZero())
	}

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Iterations)
	assert.Equal(t, 4.0, got.FinalRate)
}

func TestRunStore_RecordIteration_UnknownRun(t *testing.T) {
	s := openTestStore(t)

	err := s.RecordIteration(context.Background(), "nope", 1, 50, 1)
	require.Error(t, err)
}

func TestRunStore_FinishRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "payments", "s", "p")
	require.NoError(t, err)

	require.NoError(t, s.FinishRun(ctx, run.ID, "completed", true, "s [revised]", "p [revised]"))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.True(t, got.Converged)
	assert.Equal(t, "s [revised]", got.Spec)
	assert.False(t, got.FinishedAt.IsZero())

	require.ErrorIs(t, s.FinishRun(ctx, "nope", "failed", false, "", ""), ErrRunNotFound)
}

func TestRunStore_ListRuns_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := s.CreateRun(ctx, "payments", "s", "p")
		require.NoError(t, err)
		ids = append(ids, run.ID)
		time.Sleep(2 * time.Millisecond) // distinct started_at ordering
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}

func TestRunStore_ReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	s, err := Open(path)
	require.NoError(t, err)
	run, err := s.CreateRun(context.Background(), "payments", "s", "p")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "payments", got.ProjectID)
}
