// Package bigquery implements store.Store on a BigQuery dataset with the
// tables clients, transactions and ingestion_runs.
package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	clientsTable          = "clients"
	transactionsTable     = "transactions"
	ingestionRunsTable    = "ingestion_runs"
	schemaMigrationsTable = "schema_migrations"
)

// Store is a store.Store backed by BigQuery. Uniqueness of tax ids and
// external ids is enforced with MERGE statements.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// Open creates a BigQuery client for projectID and returns a store over
// datasetID. The dataset must already be migrated (see cmd/migrate).
func Open(ctx context.Context, projectID, datasetID string, opts ...option.ClientOption) (*Store, error) {
	if projectID == "" || datasetID == "" {
		return nil, fmt.Errorf("Open: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("Open: creating client: %w", err)
	}
	return NewWithClient(client, projectID, datasetID), nil
}

// NewWithClient returns a store using an existing client. Close closes it.
func NewWithClient(client *bigquery.Client, projectID, datasetID string) *Store {
	return &Store{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// table returns the quoted, fully qualified name of a table.
func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, name)
}

// runDML runs a DML statement and returns the number of affected rows.
func (s *Store) runDML(ctx context.Context, sql string, params []bigquery.QueryParameter) (int64, error) {
	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

// readOne reads the first row of a query into dst. It reports false when the
// query returned no rows.
func (s *Store) readOne(ctx context.Context, sql string, params []bigquery.QueryParameter, dst interface{}) (bool, error) {
	q := s.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("reading query: %w", err)
	}
	err = it.Next(dst)
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("iterating: %w", err)
	}
	return true, nil
}

// whereClause renders filter as a condition over the transactions (t) and
// clients (c) aliases.
func whereClause(filter store.TransactionFilter) (string, []bigquery.QueryParameter) {
	var conds []string
	var params []bigquery.QueryParameter

	if filter.ClientName != "" {
		conds = append(conds, "STRPOS(LOWER(c.name), LOWER(@client_name)) > 0")
		params = append(params, bigquery.QueryParameter{Name: "client_name", Value: filter.ClientName})
	}
	if filter.StartDate.IsValid() {
		conds = append(conds, "t.transaction_date >= @start_date")
		params = append(params, bigquery.QueryParameter{Name: "start_date", Value: filter.StartDate})
	}
	if filter.EndDate.IsValid() {
		conds = append(conds, "t.transaction_date <= @end_date")
		params = append(params, bigquery.QueryParameter{Name: "end_date", Value: filter.EndDate})
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "\n\t\tWHERE " + strings.Join(conds, "\n\t\t  AND "), params
}

func orderClause(sort store.Sort) string {
	col := "t.transaction_date"
	if sort.Field == store.SortByValue {
		col = "t.value"
	}
	dir := "ASC"
	if sort.Direction == store.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf("\n\t\tORDER BY %s %s, t.external_id ASC", col, dir)
}

var _ store.Store = (*Store)(nil)
