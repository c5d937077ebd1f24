package notionsync

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"github.com/jomei/notionapi"
)

// NotionService defines the interface for interacting with Notion API.
// This interface enables mocking and testing of Notion operations.
type NotionService interface {
	// CreatePage creates a new page in a Notion database with the given properties.
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)

	// QueryDatabase queries a Notion database with the given filter.
	QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

// TransactionSource is the read side of the transaction store used by the sync.
type TransactionSource interface {
	FindTransactionsPaged(ctx context.Context, filter store.TransactionFilter, sort store.Sort, skip, limit int) ([]*domain.Transaction, error)
}

// Options selects what is exported and where.
type Options struct {
	DatabaseID string

	// StartDate and EndDate bound the exported transactions, inclusive.
	// Zero values leave the range open.
	StartDate civil.Date
	EndDate   civil.Date

	ClientName string
	DryRun     bool
}

// Result counts what a sync did.
type Result struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}
