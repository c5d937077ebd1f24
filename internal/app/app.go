// Package app builds the service components from configuration. It is shared
// by the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dvloznov/txn-reconciler/internal/config"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/gcsuploader"
	infraBQ "github.com/dvloznov/txn-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/txn-reconciler/internal/jobs"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/pipeline"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"github.com/dvloznov/txn-reconciler/internal/store/inmemory"
	"github.com/dvloznov/txn-reconciler/internal/store/sqlite"
	"github.com/rs/zerolog"
)

// NewLogger creates the process logger writing to stdout.
func NewLogger(cfg config.LogConfig) (zerolog.Logger, error) {
	return logger.NewWithConfig(os.Stdout, cfg.Level, cfg.Format)
}

// OpenStore opens the configured store backend. The caller closes it.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.DriverMemory:
		return inmemory.NewStore(), nil
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return st, nil
	case config.DriverBigQuery:
		st, err := infraBQ.Open(ctx, cfg.ProjectID, cfg.Dataset)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("OpenStore: unknown store driver %q", cfg.Driver)
}

// NewIngestor creates an ingestor writing to st.
func NewIngestor(st store.Store, cfg config.IngestConfig) *pipeline.Ingestor {
	return pipeline.NewIngestor(st, pipeline.NewParser(cfg.DateLayouts...), pipeline.Options{
		Timeout:         cfg.Timeout,
		MaxRejections:   cfg.MaxRejections,
		MaxLineBytes:    cfg.MaxLineBytes,
		Charset:         cfg.Charset,
		ResolveAttempts: cfg.ResolveAttempts,
	})
}

// SourceIngester ingests a file named by path or gs:// URI.
type SourceIngester interface {
	IngestSource(ctx context.Context, source string, objects pipeline.ObjectReader) (*domain.IngestionResult, error)
}

// IngestJobHandler processes IngestFileJobs. Jobs whose source can never be
// read fail without retries; everything else is retried by the queue, which
// is safe because ingestion is idempotent.
func IngestJobHandler(ingester SourceIngester, objects pipeline.ObjectReader) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		ingestJob, ok := job.(*jobs.IngestFileJob)
		if !ok {
			return jobs.Permanent(fmt.Errorf("unexpected job type: %T", job))
		}

		log := logger.FromContext(ctx)
		log.Info().Int("attempt", ingestJob.RetryCount+1).Msg("Processing ingestion job")

		if _, _, err := gcsuploader.ParseURI(ingestJob.SourceURI); err != nil {
			return jobs.Permanent(err)
		}
		if objects == nil {
			return jobs.Permanent(fmt.Errorf("no storage client configured for %s", ingestJob.SourceURI))
		}

		result, err := ingester.IngestSource(ctx, ingestJob.SourceURI, objects)
		ingestJob.Result = result
		if err != nil {
			if gcsuploader.IsNotExist(err) {
				return jobs.Permanent(err)
			}
			return err
		}

		log.Info().
			Str("run_id", result.RunID).
			Int("processed", result.Processed).
			Int("skipped", result.Skipped).
			Int("rejected", result.Rejected).
			Msg("Ingestion job completed")
		return nil
	}
}
