package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dvloznov/txn-reconciler/internal/api/middleware"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/gcsuploader"
	"github.com/dvloznov/txn-reconciler/internal/jobs"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/store"
)

// DefaultRunsLimit is the number of runs returned when no limit is given.
const DefaultRunsLimit = 20

// IngestionsHandler handles asynchronous ingestion and run history.
type IngestionsHandler struct {
	publisher jobs.Publisher
	runs      store.RunStore
}

// NewIngestionsHandler creates a new ingestions handler.
func NewIngestionsHandler(publisher jobs.Publisher, runs store.RunStore) *IngestionsHandler {
	return &IngestionsHandler{
		publisher: publisher,
		runs:      runs,
	}
}

// Enqueue handles POST /api/ingestions
func (h *IngestionsHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req struct {
		GCSURI string `json:"gcs_uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.GCSURI == "" {
		middleware.WriteError(w, http.StatusBadRequest, "gcs_uri is required")
		return
	}
	if _, _, err := gcsuploader.ParseURI(req.GCSURI); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &jobs.IngestFileJob{SourceURI: req.GCSURI}
	if err := h.publisher.PublishIngestFile(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue ingestion job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue ingestion job")
		return
	}

	log.Info().Str("job_id", job.JobID).Str("gcs_uri", req.GCSURI).Msg("Ingestion job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  job.JobID,
		"gcs_uri": req.GCSURI,
		"status":  string(job.Status),
	})
}

// ListRuns handles GET /api/ingestions/runs
func (h *IngestionsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, ok := intParam(r, "limit", DefaultRunsLimit, 1)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	runs, err := h.runs.ListIngestionRuns(ctx, limit)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list ingestion runs")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	if runs == nil {
		runs = []*domain.IngestionRun{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := r.PathValue("id")

	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		SourceURI: query.Get("source_uri"),
		Status:    jobs.JobStatus(query.Get("status")),
	}

	var ok bool
	if filter.Limit, ok = intParam(r, "limit", 0, 1); !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	if filter.Offset, ok = intParam(r, "offset", 0, 0); !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.IngestFileJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
