// Package notionsync exports reconciled transactions to a Notion database.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"github.com/jomei/notionapi"
)

// BatchSize is how many stored transactions are read per store query.
const BatchSize = 100

// SyncTransactions creates a Notion page for every stored transaction in the
// selected range that the database does not hold yet. Pages are matched by
// transaction ID. Stored transactions never change, so existing pages are
// left as they are.
func SyncTransactions(ctx context.Context, source TransactionSource, notionClient NotionService, opts Options) (*Result, error) {
	log := logger.FromContext(ctx)

	if opts.DatabaseID == "" {
		return nil, fmt.Errorf("SyncTransactions: database ID is required")
	}

	log.Info().
		Str("start_date", opts.StartDate.String()).
		Str("end_date", opts.EndDate.String()).
		Bool("dry_run", opts.DryRun).
		Msg("Starting transaction sync to Notion")

	notionPages, err := queryAllNotionPages(ctx, notionClient, opts.DatabaseID)
	if err != nil {
		return nil, fmt.Errorf("SyncTransactions: querying Notion pages: %w", err)
	}

	existing := make(map[string]bool, len(notionPages))
	for _, page := range notionPages {
		if txID := extractTransactionID(page); txID != "" {
			existing[txID] = true
		}
	}

	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	filter := store.TransactionFilter{
		ClientName: opts.ClientName,
		StartDate:  opts.StartDate,
		EndDate:    opts.EndDate,
	}
	sort := store.Sort{Field: store.SortByDate, Direction: store.Asc}

	result := &Result{}
	for skip := 0; ; skip += BatchSize {
		batch, err := source.FindTransactionsPaged(ctx, filter, sort, skip, BatchSize)
		if err != nil {
			return result, fmt.Errorf("SyncTransactions: reading transactions: %w", err)
		}

		log.Debug().
			Int("batch_start", skip).
			Int("batch_size", len(batch)).
			Msg("Processing batch")

		for _, tx := range batch {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			if existing[tx.ExternalID] {
				result.Skipped++
				continue
			}

			if opts.DryRun {
				log.Info().
					Str("transaction_id", tx.ExternalID).
					Msg("[DRY RUN] Would create new Notion page")
				result.Created++
				existing[tx.ExternalID] = true
				continue
			}

			page, err := notionClient.CreatePage(ctx, opts.DatabaseID, TransactionToNotionProperties(tx))
			if err != nil {
				log.Warn().
					Err(err).
					Str("transaction_id", tx.ExternalID).
					Msg("Failed to create Notion page")
				// Continue processing other transactions
				result.Failed++
				continue
			}

			log.Debug().
				Str("transaction_id", tx.ExternalID).
				Str("page_id", string(page.ID)).
				Msg("Created Notion page")
			result.Created++
			existing[tx.ExternalID] = true
		}

		if len(batch) < BatchSize {
			break
		}
	}

	log.Info().
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("Transaction sync completed")

	return result, nil
}

// queryAllNotionPages follows the database cursor until every page is read.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}

		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
