package inmemory

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/jobs"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForStatus polls the store until the job reaches status.
func waitForStatus(t *testing.T, store *Store, jobID string, status jobs.JobStatus) *jobs.IngestFileJob {
	t.Helper()
	var job *jobs.IngestFileJob
	require.Eventually(t, func() bool {
		j, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestQueue_ProcessesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithWorkers(2))
	defer q.Close()

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.IngestFileJob)
		j.Result = &domain.IngestionResult{RunID: "run-1", Processed: 3}
		return nil
	}))

	job := &jobs.IngestFileJob{SourceURI: "gs://b/f.txt"}
	require.NoError(t, q.PublishIngestFile(ctx, job))
	require.NotEmpty(t, job.JobID)
	assert.Equal(t, jobs.DefaultMaxRetries, job.MaxRetries)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	require.NotNil(t, done.Result)
	assert.Equal(t, 3, done.Result.Processed)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Error)
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithRetryBackoff(time.Millisecond))
	defer q.Close()

	var attempts int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("store unavailable")
		}
		return nil
	}))

	job := &jobs.IngestFileJob{SourceURI: "gs://b/f.txt"}
	require.NoError(t, q.PublishIngestFile(ctx, job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 2, done.RetryCount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestQueue_FailsAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithRetryBackoff(time.Millisecond))
	defer q.Close()

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		return errors.New("boom")
	}))

	job := &jobs.IngestFileJob{SourceURI: "gs://b/f.txt", MaxRetries: 2}
	require.NoError(t, q.PublishIngestFile(ctx, job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 2, failed.RetryCount)
	assert.Equal(t, "boom", failed.Error)
}

func TestQueue_PermanentErrorNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithRetryBackoff(time.Millisecond))
	defer q.Close()

	var attempts int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		atomic.AddInt32(&attempts, 1)
		return jobs.Permanent(errors.New("invalid GCS URI"))
	}))

	job := &jobs.IngestFileJob{SourceURI: "nope"}
	require.NoError(t, q.PublishIngestFile(ctx, job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 0, failed.RetryCount)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(1, NewStore())
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.Error(t, q.PublishIngestFile(context.Background(), &jobs.IngestFileJob{SourceURI: "gs://b/f"}))
	assert.Error(t, q.Start(context.Background(), func(context.Context, jobs.Job) error { return nil }))
}

func TestQueue_PublishRespectsContext(t *testing.T) {
	q := NewQueue(0, nil)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// No consumer and no buffer: the send blocks until the context ends.
	err := q.PublishIngestFile(ctx, &jobs.IngestFileJob{SourceURI: "gs://b/f"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_WithMaxRetries(t *testing.T) {
	q := NewQueue(2, NewStore(), WithMaxRetries(1))
	defer q.Close()

	job := &jobs.IngestFileJob{SourceURI: "gs://b/f.txt"}
	require.NoError(t, q.PublishIngestFile(context.Background(), job))
	assert.Equal(t, 1, job.MaxRetries)

	// An explicit budget on the job wins.
	job = &jobs.IngestFileJob{SourceURI: "gs://b/g.txt", MaxRetries: 5}
	require.NoError(t, q.PublishIngestFile(context.Background(), job))
	assert.Equal(t, 5, job.MaxRetries)
}

// syncBuffer lets the test read log output written by worker goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// flakyJobStore accepts pending jobs and rejects every later state write.
type flakyJobStore struct {
	*Store
	failures int32
}

func (s *flakyJobStore) SaveJob(ctx context.Context, job *jobs.IngestFileJob) error {
	if job.Status != jobs.JobStatusPending {
		atomic.AddInt32(&s.failures, 1)
		return errors.New("disk full")
	}
	return s.Store.SaveJob(ctx, job)
}

func TestQueue_StateSaveFailureIsLogged(t *testing.T) {
	var out syncBuffer
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), logger.NewWithWriter(&out)))
	defer cancel()

	store := &flakyJobStore{Store: NewStore()}
	q := NewQueue(10, store)
	defer q.Close()

	var handled int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}))

	job := &jobs.IngestFileJob{SourceURI: "gs://b/f.txt"}
	require.NoError(t, q.PublishIngestFile(ctx, job))

	// Both the running and the completed writes fail; the job still runs once.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&store.failures) == 2 &&
			strings.Count(out.String(), "Failed to save job state") == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&handled))

	logs := out.String()
	assert.Contains(t, logs, `"level":"warn"`)
	assert.Contains(t, logs, "disk full")
	assert.Contains(t, logs, job.JobID)

	// The store still reports the last state it accepted.
	saved, err := store.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, saved.Status)
}
