package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"google.golang.org/api/iterator"
)

// StartIngestionRun inserts a new row into ingestion_runs with the run's
// initial status.
func (s *Store) StartIngestionRun(ctx context.Context, run *domain.IngestionRun) error {
	if run.ID == "" {
		return fmt.Errorf("StartIngestionRun: run ID is required")
	}

	query := fmt.Sprintf(`
		INSERT %s (
			ingestion_run_id,
			source,
			filename,
			status,
			started_ts,
			processed,
			skipped,
			rejected
		)
		VALUES (
			@ingestion_run_id,
			@source,
			@filename,
			@status,
			@started_ts,
			0,
			0,
			0
		)
	`, s.table(ingestionRunsTable))

	_, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "ingestion_run_id", Value: run.ID},
		{Name: "source", Value: run.Source},
		{Name: "filename", Value: run.Filename},
		{Name: "status", Value: string(run.Status)},
		{Name: "started_ts", Value: run.StartedAt},
	})
	if err != nil {
		return fmt.Errorf("StartIngestionRun: %w", err)
	}
	return nil
}

// FinishIngestionRun sets the terminal status, finished_ts, counters,
// checksum and error_message of a run.
func (s *Store) FinishIngestionRun(ctx context.Context, run *domain.IngestionRun) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    checksum_sha256 = @checksum_sha256,
		    processed = @processed,
		    skipped = @skipped,
		    rejected = @rejected,
		    error_message = @error_message
		WHERE ingestion_run_id = @ingestion_run_id
	`, s.table(ingestionRunsTable))

	affected, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "status", Value: string(run.Status)},
		{Name: "finished_ts", Value: nullTimestamp(run.FinishedAt)},
		{Name: "checksum_sha256", Value: nullString(run.ChecksumSHA256)},
		{Name: "processed", Value: run.Processed},
		{Name: "skipped", Value: run.Skipped},
		{Name: "rejected", Value: run.Rejected},
		{Name: "error_message", Value: nullString(run.ErrorMessage)},
		{Name: "ingestion_run_id", Value: run.ID},
	})
	if err != nil {
		return fmt.Errorf("FinishIngestionRun: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("FinishIngestionRun: run not found: %s", run.ID)
	}
	return nil
}

// ListIngestionRuns returns the most recent runs first. limit <= 0 returns
// all runs.
func (s *Store) ListIngestionRuns(ctx context.Context, limit int) ([]*domain.IngestionRun, error) {
	query := fmt.Sprintf(`
		SELECT
			ingestion_run_id,
			source,
			filename,
			checksum_sha256,
			status,
			started_ts,
			finished_ts,
			processed,
			skipped,
			rejected,
			error_message
		FROM %s
		ORDER BY started_ts DESC
	`, s.table(ingestionRunsTable))

	var params []bigquery.QueryParameter
	if limit > 0 {
		query += "LIMIT @limit"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: limit})
	}

	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListIngestionRuns: reading query: %w", err)
	}

	runs := []*domain.IngestionRun{}
	for {
		var row IngestionRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListIngestionRuns: iterating: %w", err)
		}
		runs = append(runs, row.toDomain())
	}

	return runs, nil
}
