package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"github.com/google/uuid"
)

// FindClientByTaxID implements store.ClientStore. Returns nil if no client
// has the tax id.
func (s *Store) FindClientByTaxID(ctx context.Context, taxID string) (*domain.Client, error) {
	query := fmt.Sprintf(`
		SELECT
			client_id,
			name,
			tax_id,
			created_ts,
			updated_ts
		FROM %s
		WHERE tax_id = @tax_id
		LIMIT 1
	`, s.table(clientsTable))

	var row ClientRow
	found, err := s.readOne(ctx, query, []bigquery.QueryParameter{
		{Name: "tax_id", Value: taxID},
	}, &row)
	if err != nil {
		return nil, fmt.Errorf("FindClientByTaxID: %w", err)
	}
	if !found {
		return nil, nil
	}
	return row.toDomain(), nil
}

// CreateClient implements store.ClientStore. The insert only happens when no
// row has the tax id; otherwise store.ErrDuplicate is returned.
func (s *Store) CreateClient(ctx context.Context, name, taxID string) (*domain.Client, error) {
	now := time.Now().UTC()
	row := &ClientRow{
		ClientID:  uuid.NewString(),
		Name:      name,
		TaxID:     taxID,
		CreatedTS: now,
		UpdatedTS: now,
	}

	query := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @tax_id AS tax_id) S
		ON T.tax_id = S.tax_id
		WHEN NOT MATCHED THEN
			INSERT (client_id, name, tax_id, created_ts, updated_ts)
			VALUES (@client_id, @name, @tax_id, @now, @now)
	`, s.table(clientsTable))

	affected, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "client_id", Value: row.ClientID},
		{Name: "name", Value: row.Name},
		{Name: "tax_id", Value: row.TaxID},
		{Name: "now", Value: now},
	})
	if err != nil {
		return nil, fmt.Errorf("CreateClient: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("CreateClient: tax id %s: %w", taxID, store.ErrDuplicate)
	}
	return row.toDomain(), nil
}

// CountClients implements store.ClientStore.
func (s *Store) CountClients(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) AS n FROM %s`, s.table(clientsTable))

	var row struct {
		N int64 `bigquery:"n"`
	}
	if _, err := s.readOne(ctx, query, nil, &row); err != nil {
		return 0, fmt.Errorf("CountClients: %w", err)
	}
	return row.N, nil
}
