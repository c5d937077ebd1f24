package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/jobs"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Defaults used by NewQueue.
const (
	DefaultWorkers      = 5
	DefaultRetryBackoff = time.Second
)

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithRetryBackoff sets the base retry delay. Retry n waits n times the base.
func WithRetryBackoff(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.backoff = d
		}
	}
}

// WithMaxRetries sets the retry budget of published jobs that carry none.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// Queue hands ingestion jobs to a fixed pool of workers over a buffered
// channel. Job state is mirrored into a JobStore when one is given. It only
// serves a single process.
type Queue struct {
	jobChan   chan *jobs.IngestFileJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	workers    int
	backoff    time.Duration
	maxRetries int
}

// NewQueue returns a stopped queue; call Start to run workers.
// bufferSize determines how many jobs can be queued before PublishIngestFile blocks.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...Option) *Queue {
	q := &Queue{
		jobChan:   make(chan *jobs.IngestFileJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   DefaultWorkers,
		backoff:   DefaultRetryBackoff,

		maxRetries: jobs.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// PublishIngestFile implements the Publisher interface.
// It enqueues a file ingestion job for asynchronous processing.
func (q *Queue) PublishIngestFile(ctx context.Context, job *jobs.IngestFileJob) error {
	if q.isClosed() {
		return fmt.Errorf("queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}

	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.maxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	// The queue owns its own copy from here on.
	queued := *job

	select {
	case q.jobChan <- &queued:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start launches the workers. They exit when ctx is done or the queue is
// closed.
// The handler is called concurrently, up to the configured number of workers.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	if q.isClosed() {
		return fmt.Errorf("queue is closed")
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

// worker drains jobChan.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// processJob runs one attempt and records its outcome. Failed attempts
// with budget left are re-published after RetryCount times the backoff.
func (q *Queue) processJob(ctx context.Context, job *jobs.IngestFileJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().Str("job_id", job.JobID).Str("source_uri", job.SourceURI).Logger()

	job.Status = jobs.JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	job.CompletedAt = nil

	q.saveState(ctx, log, job)

	err := handler(logger.WithContext(ctx, log), job)

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt

	var retry *jobs.IngestFileJob
	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case !jobs.IsPermanent(err) && job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying

		next := *job
		next.Status = jobs.JobStatusPending
		next.StartedAt = nil
		next.CompletedAt = nil
		retry = &next
	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
	}

	q.saveState(ctx, log, job)

	if err != nil {
		log.Error().Err(err).Str("status", string(job.Status)).Int("retry_count", job.RetryCount).Msg("Job failed")
	}

	if retry != nil {
		// Linear backoff between attempts.
		backoff := time.Duration(retry.RetryCount) * q.backoff
		time.AfterFunc(backoff, func() {
			if err := q.PublishIngestFile(ctx, retry); err != nil {
				log.Warn().Err(err).Msg("Failed to re-enqueue job")
			}
		})
	}
}

// saveState mirrors job into the store. A failed write is logged and the
// job carries on; status queries just lag behind.
func (q *Queue) saveState(ctx context.Context, log zerolog.Logger, job *jobs.IngestFileJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		log.Warn().Err(err).Str("status", string(job.Status)).Msg("Failed to save job state")
	}
}

// Stop closes the queue and waits for in-flight jobs until ctx is done.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs. Safe to call more than once.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
