package notionsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jomei/notionapi"
)

// DefaultRequestInterval keeps the client under Notion's average limit of
// three requests per second per integration.
const DefaultRequestInterval = 350 * time.Millisecond

// NotionClient talks to the Notion API through notionapi, spacing requests
// at least one interval apart.
type NotionClient struct {
	api      *notionapi.Client
	interval time.Duration

	mu   sync.Mutex
	next time.Time
}

// ClientOption configures a NotionClient.
type ClientOption func(*NotionClient)

// WithRequestInterval sets the minimum gap between two requests. Zero
// disables pacing.
func WithRequestInterval(d time.Duration) ClientOption {
	return func(n *NotionClient) {
		n.interval = d
	}
}

// NewNotionClient returns a client authenticated with an integration token.
func NewNotionClient(token string, opts ...ClientOption) *NotionClient {
	n := &NotionClient{
		api:      notionapi.NewClient(notionapi.Token(token)),
		interval: DefaultRequestInterval,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// wait blocks until the next request slot or ctx is done.
func (n *NotionClient) wait(ctx context.Context) error {
	if n.interval <= 0 {
		return nil
	}

	n.mu.Lock()
	now := time.Now()
	slot := n.next
	if slot.Before(now) {
		slot = now
	}
	n.next = slot.Add(n.interval)
	n.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreatePage adds a page with the given properties to a database.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if err := n.wait(ctx); err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}

	page, err := n.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: database %s: %w", databaseID, err)
	}
	return page, nil
}

// QueryDatabase fetches one page of database results.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := n.wait(ctx); err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}

	resp, err := n.api.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: database %s: %w", databaseID, err)
	}
	return resp, nil
}

var _ NotionService = (*NotionClient)(nil)
