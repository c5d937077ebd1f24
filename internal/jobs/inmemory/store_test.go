package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	assert.Error(t, s.SaveJob(ctx, &jobs.IngestFileJob{}))

	job := &jobs.IngestFileJob{
		JobID:  "j1",
		Status: jobs.JobStatusPending,
		Result: &domain.IngestionResult{Processed: 1},
	}
	require.NoError(t, s.SaveJob(ctx, job))

	// Mutating the caller's copy does not leak into the store.
	job.Status = jobs.JobStatusFailed
	job.Result.Processed = 99

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Result.Processed)

	_, err = s.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, jobs.ErrJobNotFound))
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, st := range []jobs.JobStatus{jobs.JobStatusCompleted, jobs.JobStatusFailed, jobs.JobStatusCompleted} {
		require.NoError(t, s.SaveJob(ctx, &jobs.IngestFileJob{
			JobID:     string(rune('a' + i)),
			SourceURI: "gs://b/" + string(rune('a'+i)),
			Status:    st,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].JobID, "newest first")

	completed, err := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	bySource, err := s.ListJobs(ctx, jobs.JobFilter{SourceURI: "gs://b/b"})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "b", bySource[0].JobID)

	page, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].JobID)

	empty, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_UpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveJob(ctx, &jobs.IngestFileJob{JobID: "j1", Status: jobs.JobStatusRunning}))

	require.NoError(t, s.UpdateJobStatus(ctx, "j1", jobs.JobStatusFailed, "boom"))
	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	assert.True(t, errors.Is(s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, ""), jobs.ErrJobNotFound))
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Hour)

	require.NoError(t, s.SaveJob(ctx, &jobs.IngestFileJob{JobID: "old-done", Status: jobs.JobStatusCompleted, CreatedAt: old, CompletedAt: &old}))
	require.NoError(t, s.SaveJob(ctx, &jobs.IngestFileJob{JobID: "old-failed", Status: jobs.JobStatusFailed, CreatedAt: old}))
	require.NoError(t, s.SaveJob(ctx, &jobs.IngestFileJob{JobID: "old-retrying", Status: jobs.JobStatusRetrying, CreatedAt: old}))
	require.NoError(t, s.SaveJob(ctx, &jobs.IngestFileJob{JobID: "recent-done", Status: jobs.JobStatusCompleted, CreatedAt: old, CompletedAt: &recent}))

	removed := s.Prune(ctx, now.Add(-24*time.Hour))
	assert.Equal(t, 2, removed)

	_, err := s.GetJob(ctx, "old-done")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	_, err = s.GetJob(ctx, "old-failed")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	left, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestStore_PruneEvery(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := time.Now().Add(-time.Hour)
	require.NoError(t, s.SaveJob(ctx, &jobs.IngestFileJob{JobID: "j", Status: jobs.JobStatusCompleted, CreatedAt: done, CompletedAt: &done}))

	stopped := make(chan struct{})
	go func() {
		s.PruneEvery(ctx, 5*time.Millisecond, time.Minute)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		_, err := s.GetJob(context.Background(), "j")
		return errors.Is(err, jobs.ErrJobNotFound)
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
}
