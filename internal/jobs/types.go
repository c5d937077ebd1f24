// Package jobs describes asynchronous ingestion work and the queue
// contracts that carry it.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/domain"
)

type JobType string

// JobTypeIngestFile ingests one record file stored in GCS.
const JobTypeIngestFile JobType = "ingest_file"

// JobStatus moves pending → running → completed | failed, passing through
// retrying between failed attempts.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// DefaultMaxRetries is used when a published job has no MaxRetries set.
const DefaultMaxRetries = 3

// ErrJobNotFound is returned by JobStore lookups of unknown ids.
var ErrJobNotFound = errors.New("job not found")

// IngestFileJob asks a worker to ingest the file at SourceURI (gs://...).
// Ingestion skips recorded transaction ids, so a retried job never
// duplicates rows.
type IngestFileJob struct {
	JobID     string    `json:"job_id"`
	SourceURI string    `json:"source_uri"`
	Status    JobStatus `json:"status"`

	// Result holds the counters of the last attempt, partial ones included.
	Result *domain.IngestionResult `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error is the message of the last failed attempt.
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// Job is what a JobHandler receives.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *IngestFileJob) GetID() string        { return j.JobID }
func (j *IngestFileJob) GetType() JobType     { return JobTypeIngestFile }
func (j *IngestFileJob) GetStatus() JobStatus { return j.Status }

// Publisher enqueues ingestion jobs. PublishIngestFile fills in the id,
// status, creation time and retry budget when they are unset.
type Publisher interface {
	PublishIngestFile(ctx context.Context, job *IngestFileJob) error
	Close() error
}

// Consumer runs a handler over queued jobs. Stop waits for in-flight jobs.
type Consumer interface {
	Start(ctx context.Context, handler JobHandler) error
	Stop(ctx context.Context) error
}

// JobHandler processes one job. A returned error schedules a retry while
// the budget lasts, unless it was wrapped with Permanent.
type JobHandler func(ctx context.Context, job Job) error

// JobStore keeps job state for status queries.
type JobStore interface {
	SaveJob(ctx context.Context, job *IngestFileJob) error

	// GetJob returns ErrJobNotFound for unknown ids.
	GetJob(ctx context.Context, jobID string) (*IngestFileJob, error)

	// ListJobs returns matching jobs, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestFileJob, error)

	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter selects jobs by exact source URI and status. Zero fields match
// everything; Limit <= 0 means no limit.
type JobFilter struct {
	SourceURI string
	Status    JobStatus
	Limit     int
	Offset    int
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
