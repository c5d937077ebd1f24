package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/shopspring/decimal"
)

// numericScale is the number of decimal digits of the BigQuery NUMERIC type.
const numericScale = 9

type ClientRow struct {
	ClientID  string    `bigquery:"client_id"`  // REQUIRED
	Name      string    `bigquery:"name"`       // REQUIRED
	TaxID     string    `bigquery:"tax_id"`     // REQUIRED, unique by MERGE
	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
	UpdatedTS time.Time `bigquery:"updated_ts"` // REQUIRED
}

// TransactionRow is a transactions row joined with its client.
type TransactionRow struct {
	TransactionID   string              `bigquery:"transaction_id"`   // REQUIRED
	ExternalID      string              `bigquery:"external_id"`      // REQUIRED, unique by MERGE
	ClientID        string              `bigquery:"client_id"`        // REQUIRED
	TransactionDate civil.Date          `bigquery:"transaction_date"` // REQUIRED
	Value           *big.Rat            `bigquery:"value"`            // REQUIRED NUMERIC
	IngestionRunID  bigquery.NullString `bigquery:"ingestion_run_id"` // NULLABLE
	CreatedTS       time.Time           `bigquery:"created_ts"`       // REQUIRED
	UpdatedTS       time.Time           `bigquery:"updated_ts"`       // REQUIRED

	// From the clients join.
	ClientName      bigquery.NullString    `bigquery:"client_name"`
	ClientTaxID     bigquery.NullString    `bigquery:"client_tax_id"`
	ClientCreatedTS bigquery.NullTimestamp `bigquery:"client_created_ts"`
	ClientUpdatedTS bigquery.NullTimestamp `bigquery:"client_updated_ts"`
}

type IngestionRunRow struct {
	IngestionRunID string                 `bigquery:"ingestion_run_id"` // REQUIRED
	Source         string                 `bigquery:"source"`           // REQUIRED
	Filename       string                 `bigquery:"filename"`         // REQUIRED
	ChecksumSHA256 bigquery.NullString    `bigquery:"checksum_sha256"`  // NULLABLE
	Status         string                 `bigquery:"status"`           // REQUIRED
	StartedTS      time.Time              `bigquery:"started_ts"`       // REQUIRED
	FinishedTS     bigquery.NullTimestamp `bigquery:"finished_ts"`      // NULLABLE
	Processed      int64                  `bigquery:"processed"`
	Skipped        int64                  `bigquery:"skipped"`
	Rejected       int64                  `bigquery:"rejected"`
	ErrorMessage   bigquery.NullString    `bigquery:"error_message"` // NULLABLE
}

func (r *ClientRow) toDomain() *domain.Client {
	return &domain.Client{
		ID:        r.ClientID,
		Name:      r.Name,
		TaxID:     r.TaxID,
		CreatedAt: r.CreatedTS,
		UpdatedAt: r.UpdatedTS,
	}
}

func (r *TransactionRow) toDomain() (*domain.Transaction, error) {
	value, err := decimalFromRat(r.Value)
	if err != nil {
		return nil, fmt.Errorf("toDomain: transaction %s: %w", r.ExternalID, err)
	}

	tx := &domain.Transaction{
		ID:             r.TransactionID,
		ExternalID:     r.ExternalID,
		ClientID:       r.ClientID,
		Date:           r.TransactionDate,
		Value:          value,
		IngestionRunID: r.IngestionRunID.StringVal,
		CreatedAt:      r.CreatedTS,
		UpdatedAt:      r.UpdatedTS,
	}
	if r.ClientName.Valid {
		tx.Client = &domain.Client{
			ID:        r.ClientID,
			Name:      r.ClientName.StringVal,
			TaxID:     r.ClientTaxID.StringVal,
			CreatedAt: r.ClientCreatedTS.Timestamp,
			UpdatedAt: r.ClientUpdatedTS.Timestamp,
		}
	}
	return tx, nil
}

func (r *IngestionRunRow) toDomain() *domain.IngestionRun {
	run := &domain.IngestionRun{
		ID:             r.IngestionRunID,
		Source:         r.Source,
		Filename:       r.Filename,
		ChecksumSHA256: r.ChecksumSHA256.StringVal,
		Status:         domain.RunStatus(r.Status),
		StartedAt:      r.StartedTS,
		Processed:      int(r.Processed),
		Skipped:        int(r.Skipped),
		Rejected:       int(r.Rejected),
		ErrorMessage:   r.ErrorMessage.StringVal,
	}
	if r.FinishedTS.Valid {
		finished := r.FinishedTS.Timestamp
		run.FinishedAt = &finished
	}
	return run
}

// ratFromDecimal converts a value for a NUMERIC parameter. Values with more
// than nine fractional digits do not fit the column.
func ratFromDecimal(d decimal.Decimal) (*big.Rat, error) {
	if d.Exponent() < -numericScale && !d.Equal(d.Truncate(numericScale)) {
		return nil, fmt.Errorf("ratFromDecimal: %s exceeds NUMERIC scale", d)
	}
	return d.Rat(), nil
}

func decimalFromRat(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(r.FloatString(numericScale))
	if err != nil {
		return decimal.Zero, fmt.Errorf("decimalFromRat: %w", err)
	}
	// Drop the padding zeros of FloatString.
	return decimal.RequireFromString(d.String()), nil
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullTimestamp(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: *t, Valid: true}
}
