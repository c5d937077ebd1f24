package store

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrDuplicate is returned by create operations when a record with the same
// unique key (transaction external id or client tax id) already exists.
var ErrDuplicate = errors.New("duplicate key")

// SortField selects the column used for ordering and extremum lookups.
type SortField string

const (
	SortByDate  SortField = "date"
	SortByValue SortField = "value"
)

// Direction is an ordering direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Sort describes the ordering of a listing.
type Sort struct {
	Field     SortField
	Direction Direction
}

// TransactionFilter narrows reads over transactions. Zero values disable the
// corresponding condition. ClientName is a case-insensitive substring match,
// StartDate and EndDate are inclusive.
type TransactionFilter struct {
	ClientName string
	StartDate  civil.Date
	EndDate    civil.Date
}

// Matches reports whether tx satisfies the filter. tx.Client must be set when
// the filter has a client name.
func (f TransactionFilter) Matches(tx *domain.Transaction) bool {
	if f.ClientName != "" {
		if tx.Client == nil || !strings.Contains(strings.ToLower(tx.Client.Name), strings.ToLower(f.ClientName)) {
			return false
		}
	}
	if f.StartDate.IsValid() && tx.Date.Before(f.StartDate) {
		return false
	}
	if f.EndDate.IsValid() && tx.Date.After(f.EndDate) {
		return false
	}
	return true
}

// TransactionStore holds ingested transactions.
type TransactionStore interface {
	// FindTransactionByExternalID returns nil, nil when no transaction exists.
	FindTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error)

	// CreateTransaction inserts tx and returns the stored copy. It returns
	// ErrDuplicate when the external id is already recorded.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)

	CountTransactions(ctx context.Context, filter TransactionFilter) (int64, error)
	SumTransactionValues(ctx context.Context, filter TransactionFilter) (decimal.Decimal, error)

	// FindTransactionExtremum returns the first transaction ordered by field in
	// the given direction, or nil, nil when no transaction matches.
	FindTransactionExtremum(ctx context.Context, field SortField, dir Direction, filter TransactionFilter) (*domain.Transaction, error)

	FindTransactionsPaged(ctx context.Context, filter TransactionFilter, sort Sort, skip, limit int) ([]*domain.Transaction, error)
}

// ClientStore holds clients keyed by tax id.
type ClientStore interface {
	// FindClientByTaxID returns nil, nil when no client exists.
	FindClientByTaxID(ctx context.Context, taxID string) (*domain.Client, error)

	// CreateClient returns ErrDuplicate when the tax id is already recorded.
	CreateClient(ctx context.Context, name, taxID string) (*domain.Client, error)

	CountClients(ctx context.Context) (int64, error)
}

// RunStore records ingestion runs.
type RunStore interface {
	StartIngestionRun(ctx context.Context, run *domain.IngestionRun) error
	FinishIngestionRun(ctx context.Context, run *domain.IngestionRun) error
	ListIngestionRuns(ctx context.Context, limit int) ([]*domain.IngestionRun, error)
}

// Store is the full persistence contract used by the service.
type Store interface {
	TransactionStore
	ClientStore
	RunStore
	Close() error
}
