package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
)

const transactionColumns = `
			t.transaction_id,
			t.external_id,
			t.client_id,
			t.transaction_date,
			t.value,
			t.ingestion_run_id,
			t.created_ts,
			t.updated_ts,
			c.name AS client_name,
			c.tax_id AS client_tax_id,
			c.created_ts AS client_created_ts,
			c.updated_ts AS client_updated_ts`

func (s *Store) transactionFrom() string {
	return fmt.Sprintf(`
		FROM %s t
		LEFT JOIN %s c
		  ON t.client_id = c.client_id`, s.table(transactionsTable), s.table(clientsTable))
}

// FindTransactionByExternalID implements store.TransactionStore. Returns nil
// if the external id is not recorded.
func (s *Store) FindTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	query := "SELECT" + transactionColumns + s.transactionFrom() + `
		WHERE t.external_id = @external_id
		LIMIT 1`

	var row TransactionRow
	found, err := s.readOne(ctx, query, []bigquery.QueryParameter{
		{Name: "external_id", Value: externalID},
	}, &row)
	if err != nil {
		return nil, fmt.Errorf("FindTransactionByExternalID: %w", err)
	}
	if !found {
		return nil, nil
	}
	tx, err := row.toDomain()
	if err != nil {
		return nil, fmt.Errorf("FindTransactionByExternalID: %w", err)
	}
	return tx, nil
}

// CreateTransaction implements store.TransactionStore. The insert only
// happens when the external id is not recorded yet; otherwise
// store.ErrDuplicate is returned.
func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	if tx.ClientID == "" {
		return nil, fmt.Errorf("CreateTransaction: client ID is required")
	}
	value, err := ratFromDecimal(tx.Value)
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}

	now := time.Now().UTC()
	created := *tx
	created.ID = uuid.NewString()
	created.Client = nil
	created.CreatedAt = now
	created.UpdatedAt = now

	query := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @external_id AS external_id) S
		ON T.external_id = S.external_id
		WHEN NOT MATCHED THEN
			INSERT (transaction_id, external_id, client_id, transaction_date, value, ingestion_run_id, created_ts, updated_ts)
			VALUES (@transaction_id, @external_id, @client_id, @transaction_date, @value, @ingestion_run_id, @now, @now)
	`, s.table(transactionsTable))

	affected, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "transaction_id", Value: created.ID},
		{Name: "external_id", Value: created.ExternalID},
		{Name: "client_id", Value: created.ClientID},
		{Name: "transaction_date", Value: created.Date},
		{Name: "value", Value: value},
		{Name: "ingestion_run_id", Value: nullString(created.IngestionRunID)},
		{Name: "now", Value: now},
	})
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("CreateTransaction: external id %s: %w", tx.ExternalID, store.ErrDuplicate)
	}
	return &created, nil
}

// CountTransactions implements store.TransactionStore.
func (s *Store) CountTransactions(ctx context.Context, filter store.TransactionFilter) (int64, error) {
	where, params := whereClause(filter)
	query := "SELECT COUNT(*) AS n" + s.transactionFrom() + where

	var row struct {
		N int64 `bigquery:"n"`
	}
	if _, err := s.readOne(ctx, query, params, &row); err != nil {
		return 0, fmt.Errorf("CountTransactions: %w", err)
	}
	return row.N, nil
}

// SumTransactionValues implements store.TransactionStore. NUMERIC sums are
// exact.
func (s *Store) SumTransactionValues(ctx context.Context, filter store.TransactionFilter) (decimal.Decimal, error) {
	where, params := whereClause(filter)
	query := "SELECT IFNULL(SUM(t.value), 0) AS total" + s.transactionFrom() + where

	var row struct {
		Total *big.Rat `bigquery:"total"`
	}
	if _, err := s.readOne(ctx, query, params, &row); err != nil {
		return decimal.Zero, fmt.Errorf("SumTransactionValues: %w", err)
	}
	total, err := decimalFromRat(row.Total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumTransactionValues: %w", err)
	}
	return total, nil
}

// FindTransactionExtremum implements store.TransactionStore.
func (s *Store) FindTransactionExtremum(ctx context.Context, field store.SortField, dir store.Direction, filter store.TransactionFilter) (*domain.Transaction, error) {
	txs, err := s.FindTransactionsPaged(ctx, filter, store.Sort{Field: field, Direction: dir}, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("FindTransactionExtremum: %w", err)
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return txs[0], nil
}

// FindTransactionsPaged implements store.TransactionStore. A limit <= 0
// returns every row after skip.
func (s *Store) FindTransactionsPaged(ctx context.Context, filter store.TransactionFilter, sort store.Sort, skip, limit int) ([]*domain.Transaction, error) {
	where, params := whereClause(filter)
	query := "SELECT" + transactionColumns + s.transactionFrom() + where + orderClause(sort)

	if limit > 0 {
		query += "\n\t\tLIMIT @limit OFFSET @skip"
		params = append(params,
			bigquery.QueryParameter{Name: "limit", Value: limit},
			bigquery.QueryParameter{Name: "skip", Value: skip},
		)
	} else if skip > 0 {
		// BigQuery has no OFFSET without LIMIT.
		query += "\n\t\tLIMIT 9223372036854775807 OFFSET @skip"
		params = append(params, bigquery.QueryParameter{Name: "skip", Value: skip})
	}

	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindTransactionsPaged: query read: %w", err)
	}

	txs := []*domain.Transaction{}
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("FindTransactionsPaged: iter next: %w", err)
		}
		tx, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("FindTransactionsPaged: %w", err)
		}
		txs = append(txs, tx)
	}

	return txs, nil
}
