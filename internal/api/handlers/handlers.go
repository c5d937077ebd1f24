// Package handlers implements the HTTP endpoints of the reconciliation API.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/api/middleware"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/pipeline"
)

// Ingester reconciles one input into the store.
type Ingester interface {
	Ingest(ctx context.Context, source string, r io.Reader) (*domain.IngestionResult, error)
}

// StatsComputer produces statistics snapshots.
type StatsComputer interface {
	Compute(ctx context.Context) (*domain.Statistics, error)
}

// Archiver stores raw uploads in cloud storage and returns their URI.
type Archiver interface {
	UploadReader(ctx context.Context, bucketName, objectName string, r io.Reader) (string, error)
}

// Register mounts every endpoint on mux.
func Register(mux *http.ServeMux, transactions *TransactionsHandler, ingestions *IngestionsHandler, jobs *JobsHandler) {
	mux.HandleFunc("POST /api/transactions/upload", transactions.Upload)
	mux.HandleFunc("GET /api/transactions", transactions.ListTransactions)
	mux.HandleFunc("GET /api/transactions/stats", transactions.Stats)

	mux.HandleFunc("POST /api/ingestions", ingestions.Enqueue)
	mux.HandleFunc("GET /api/ingestions/runs", ingestions.ListRuns)

	mux.HandleFunc("GET /api/jobs", jobs.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", jobs.GetJob)

	mux.HandleFunc("GET /health", Health)
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// errorStatus maps a processing error to an HTTP status and message.
func errorStatus(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Store unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Processing timed out"
	default:
		return http.StatusInternalServerError, fallback
	}
}

// intParam reads an integer query parameter of at least minValue. ok is
// false when the parameter is present but invalid.
func intParam(r *http.Request, name string, def, minValue int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < minValue {
		return 0, false
	}
	return n, true
}
