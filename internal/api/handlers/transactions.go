package handlers

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-reconciler/internal/api/middleware"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/gcsuploader"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/store"
)

// Listing limits for GET /api/transactions.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// UploadOptions configures the upload endpoint.
type UploadOptions struct {
	// MaxBytes bounds the request body.
	MaxBytes int64

	// Bucket and Prefix select where raw uploads are archived. Archiving is
	// disabled when Bucket is empty or no Archiver is set.
	Bucket string
	Prefix string
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	ingester     Ingester
	transactions store.TransactionStore
	stats        StatsComputer
	archiver     Archiver
	opts         UploadOptions
}

// NewTransactionsHandler creates a new transactions handler. archiver may be nil.
func NewTransactionsHandler(ingester Ingester, transactions store.TransactionStore, stats StatsComputer, archiver Archiver, opts UploadOptions) *TransactionsHandler {
	return &TransactionsHandler{
		ingester:     ingester,
		transactions: transactions,
		stats:        stats,
		archiver:     archiver,
		opts:         opts,
	}
}

// Upload handles POST /api/transactions/upload
func (h *TransactionsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if h.opts.MaxBytes > 0 {
		if r.ContentLength > h.opts.MaxBytes {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	source := header.Filename
	if source == "" {
		source = "upload"
	}

	if h.archiver != nil && h.opts.Bucket != "" {
		object := gcsuploader.ArchiveObjectName(h.opts.Prefix, source, time.Now())
		uri, err := h.archiver.UploadReader(ctx, h.opts.Bucket, object, file)
		if err != nil {
			// Archiving is best effort; ingestion continues from the upload.
			log.Warn().Err(err).Str("filename", source).Msg("Failed to archive upload")
		} else {
			source = uri
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			log.Error().Err(err).Msg("Failed to rewind upload")
			middleware.WriteError(w, http.StatusBadRequest, "failed to read uploaded file")
			return
		}
	}

	result, err := h.ingester.Ingest(ctx, source, file)
	if err != nil {
		log.Error().Err(err).Str("source", source).Msg("Failed to process upload")
		status, msg := errorStatus(err, "Failed to process file")
		middleware.WriteError(w, status, msg)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "File processed successfully",
		"stats":   result,
	})
}

// Pagination describes one page of a listing.
type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int64 `json:"pages"`
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	query := r.URL.Query()

	page, ok := intParam(r, "page", 1, 1)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid page")
		return
	}
	limit, ok := intParam(r, "limit", DefaultPageSize, 1)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	limit = min(limit, MaxPageSize)
	// The skip offset (page-1)*limit must fit in an int.
	if page-1 > math.MaxInt/limit {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid page")
		return
	}

	filter := store.TransactionFilter{ClientName: query.Get("clientName")}
	var err error
	if filter.StartDate, err = dateParam(query.Get("startDate")); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid startDate format")
		return
	}
	if filter.EndDate, err = dateParam(query.Get("endDate")); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid endDate format")
		return
	}

	total, err := h.transactions.CountTransactions(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count transactions")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	sort := store.Sort{Field: store.SortByDate, Direction: store.Desc}
	transactions, err := h.transactions.FindTransactionsPaged(ctx, filter, sort, (page-1)*limit, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	// Return an empty array rather than null
	if transactions == nil {
		transactions = []*domain.Transaction{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"pagination": Pagination{
			Total: total,
			Page:  page,
			Limit: limit,
			Pages: (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// Stats handles GET /api/transactions/stats
func (h *TransactionsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.stats.Compute(ctx)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to compute statistics")
		status, msg := errorStatus(err, "Failed to compute statistics")
		middleware.WriteError(w, status, msg)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"stats": stats,
	})
}

func dateParam(raw string) (civil.Date, error) {
	if raw == "" {
		return civil.Date{}, nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, fmt.Errorf("dateParam: %w", err)
	}
	return d, nil
}
