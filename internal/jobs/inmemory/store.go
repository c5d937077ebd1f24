package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/jobs"
	"github.com/dvloznov/txn-reconciler/internal/logger"
)

// Store keeps ingestion jobs in process memory. Jobs are lost on restart;
// the ingestion runs recorded by the main store are the durable trail.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.IngestFileJob
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*jobs.IngestFileJob),
	}
}

func copyJob(job *jobs.IngestFileJob) *jobs.IngestFileJob {
	c := *job
	if job.Result != nil {
		res := *job.Result
		c.Result = &res
	}
	return &c
}

// SaveJob stores a copy of job, replacing any job with the same id.
func (s *Store) SaveJob(ctx context.Context, job *jobs.IngestFileJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.JobID] = copyJob(job)
	return nil
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.IngestFileJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("GetJob: %s: %w", jobID, jobs.ErrJobNotFound)
	}
	return copyJob(job), nil
}

// ListJobs returns matching jobs, newest first, with ties broken by id.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.IngestFileJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.IngestFileJob{}
	for _, job := range s.jobs {
		if filter.SourceURI != "" && job.SourceURI != filter.SourceURI {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		result = append(result, copyJob(job))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].JobID < result[j].JobID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.IngestFileJob{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// UpdateJobStatus sets the status of a job. An empty errorMsg keeps the
// previous error text.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("UpdateJobStatus: %s: %w", jobID, jobs.ErrJobNotFound)
	}

	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}

	return nil
}

// Prune drops completed and failed jobs that finished before cutoff and
// returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.Status != jobs.JobStatusCompleted && job.Status != jobs.JobStatusFailed {
			continue
		}
		finished := job.CreatedAt
		if job.CompletedAt != nil {
			finished = *job.CompletedAt
		}
		if finished.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// PruneEvery calls Prune with a cutoff of now minus retention on every tick
// until ctx is done.
func (s *Store) PruneEvery(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Prune(ctx, now.Add(-retention)); n > 0 {
				log := logger.FromContext(ctx)
				log.Debug().Int("removed", n).Msg("Pruned finished jobs")
			}
		}
	}
}

var _ jobs.JobStore = (*Store)(nil)
