// Package storetest holds behaviour tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a new, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full behaviour suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ClientCreateAndFind", func(t *testing.T) { testClientCreateAndFind(t, newStore(t)) })
	t.Run("ClientDuplicate", func(t *testing.T) { testClientDuplicate(t, newStore(t)) })
	t.Run("ConcurrentClientCreate", func(t *testing.T) { testConcurrentClientCreate(t, newStore(t)) })
	t.Run("TransactionCreateAndFind", func(t *testing.T) { testTransactionCreateAndFind(t, newStore(t)) })
	t.Run("TransactionDuplicate", func(t *testing.T) { testTransactionDuplicate(t, newStore(t)) })
	t.Run("Aggregates", func(t *testing.T) { testAggregates(t, newStore(t)) })
	t.Run("ExactValueOrder", func(t *testing.T) { testExactValueOrder(t, newStore(t)) })
	t.Run("AggregatesEmpty", func(t *testing.T) { testAggregatesEmpty(t, newStore(t)) })
	t.Run("Paging", func(t *testing.T) { testPaging(t, newStore(t)) })
	t.Run("Filters", func(t *testing.T) { testFilters(t, newStore(t)) })
	t.Run("IngestionRuns", func(t *testing.T) { testIngestionRuns(t, newStore(t)) })
}

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seed(t *testing.T, s store.Store, taxID, name, externalID, day, value string) *domain.Transaction {
	t.Helper()
	ctx := context.Background()

	c, err := s.FindClientByTaxID(ctx, taxID)
	require.NoError(t, err)
	if c == nil {
		c, err = s.CreateClient(ctx, name, taxID)
		require.NoError(t, err)
	}

	tx, err := s.CreateTransaction(ctx, &domain.Transaction{
		ExternalID: externalID,
		ClientID:   c.ID,
		Date:       date(day),
		Value:      decimal.RequireFromString(value),
	})
	require.NoError(t, err)
	return tx
}

func testClientCreateAndFind(t *testing.T, s store.Store) {
	ctx := context.Background()

	missing, err := s.FindClientByTaxID(ctx, "111")
	require.NoError(t, err)
	assert.Nil(t, missing)

	created, err := s.CreateClient(ctx, "Alice", "111")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Alice", created.Name)

	found, err := s.FindClientByTaxID(ctx, "111")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "111", found.TaxID)

	n, err := s.CountClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testClientDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CreateClient(ctx, "Alice", "111")
	require.NoError(t, err)

	_, err = s.CreateClient(ctx, "Alice Again", "111")
	assert.True(t, errors.Is(err, store.ErrDuplicate), "got %v", err)

	found, err := s.FindClientByTaxID(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, "Alice", found.Name)
}

func testConcurrentClientCreate(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, duplicates := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateClient(ctx, fmt.Sprintf("Worker %d", i), "222")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, store.ErrDuplicate):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, duplicates)

	n, err := s.CountClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testTransactionCreateAndFind(t *testing.T, s store.Store) {
	ctx := context.Background()

	missing, err := s.FindTransactionByExternalID(ctx, "TX1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	created := seed(t, s, "111", "Alice", "TX1", "2024-05-01", "250.00")
	assert.NotEmpty(t, created.ID)

	found, err := s.FindTransactionByExternalID(ctx, "TX1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "TX1", found.ExternalID)
	assert.Equal(t, date("2024-05-01"), found.Date)
	assert.True(t, decimal.RequireFromString("250").Equal(found.Value))
	require.NotNil(t, found.Client)
	assert.Equal(t, "Alice", found.Client.Name)
	assert.Equal(t, "111", found.Client.TaxID)
}

func testTransactionDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()

	first := seed(t, s, "111", "Alice", "TX1", "2024-05-01", "250.00")

	_, err := s.CreateTransaction(ctx, &domain.Transaction{
		ExternalID: "TX1",
		ClientID:   first.ClientID,
		Date:       date("2024-06-01"),
		Value:      decimal.RequireFromString("1"),
	})
	assert.True(t, errors.Is(err, store.ErrDuplicate), "got %v", err)

	n, err := s.CountTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := s.FindTransactionByExternalID(ctx, "TX1")
	require.NoError(t, err)
	assert.Equal(t, date("2024-05-01"), found.Date)
}

func testAggregates(t *testing.T, s store.Store) {
	ctx := context.Background()

	seed(t, s, "111", "Alice", "A", "2024-01-15", "100")
	seed(t, s, "222", "Bob", "B", "2024-03-01", "300")
	seed(t, s, "111", "Alice", "C", "2023-12-01", "-50")

	n, err := s.CountTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	sum, err := s.SumTransactionValues(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(350).Equal(sum), "sum = %s", sum)

	highest, err := s.FindTransactionExtremum(ctx, store.SortByValue, store.Desc, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, "B", highest.ExternalID)
	assert.Equal(t, "Bob", highest.Client.Name)

	lowest, err := s.FindTransactionExtremum(ctx, store.SortByValue, store.Asc, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, "C", lowest.ExternalID)

	oldest, err := s.FindTransactionExtremum(ctx, store.SortByDate, store.Asc, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, date("2023-12-01"), oldest.Date)

	latest, err := s.FindTransactionExtremum(ctx, store.SortByDate, store.Desc, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, date("2024-03-01"), latest.Date)
}

// testExactValueOrder uses values that collapse to the same float64, so only
// decimal comparison tells them apart.
func testExactValueOrder(t *testing.T, s store.Store) {
	ctx := context.Background()

	seed(t, s, "111", "Alice", "A", "2024-01-01", "100000000000000000.01")
	seed(t, s, "111", "Alice", "B", "2024-01-02", "100000000000000000.02")
	seed(t, s, "111", "Alice", "C", "2024-01-03", "100000000000000000.00")

	highest, err := s.FindTransactionExtremum(ctx, store.SortByValue, store.Desc, store.TransactionFilter{})
	require.NoError(t, err)
	require.NotNil(t, highest)
	assert.Equal(t, "B", highest.ExternalID)

	lowest, err := s.FindTransactionExtremum(ctx, store.SortByValue, store.Asc, store.TransactionFilter{})
	require.NoError(t, err)
	require.NotNil(t, lowest)
	assert.Equal(t, "C", lowest.ExternalID)

	byValueDesc := store.Sort{Field: store.SortByValue, Direction: store.Desc}
	page, err := s.FindTransactionsPaged(ctx, store.TransactionFilter{}, byValueDesc, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "A", page[0].ExternalID)

	all, err := s.FindTransactionsPaged(ctx, store.TransactionFilter{}, byValueDesc, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"B", "A", "C"}, []string{all[0].ExternalID, all[1].ExternalID, all[2].ExternalID})
}

func testAggregatesEmpty(t *testing.T, s store.Store) {
	ctx := context.Background()

	n, err := s.CountTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)

	sum, err := s.SumTransactionValues(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.True(t, sum.IsZero())

	ext, err := s.FindTransactionExtremum(ctx, store.SortByValue, store.Desc, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Nil(t, ext)

	page, err := s.FindTransactionsPaged(ctx, store.TransactionFilter{}, store.Sort{Field: store.SortByDate, Direction: store.Desc}, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func testPaging(t *testing.T, s store.Store) {
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		seed(t, s, "111", "Alice", fmt.Sprintf("TX%d", i), fmt.Sprintf("2024-01-0%d", i), "10")
	}

	byDateDesc := store.Sort{Field: store.SortByDate, Direction: store.Desc}

	first, err := s.FindTransactionsPaged(ctx, store.TransactionFilter{}, byDateDesc, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "TX5", first[0].ExternalID)
	assert.Equal(t, "TX4", first[1].ExternalID)

	last, err := s.FindTransactionsPaged(ctx, store.TransactionFilter{}, byDateDesc, 4, 2)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "TX1", last[0].ExternalID)

	beyond, err := s.FindTransactionsPaged(ctx, store.TransactionFilter{}, byDateDesc, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func testFilters(t *testing.T, s store.Store) {
	ctx := context.Background()

	seed(t, s, "111", "Alice Souza", "A1", "2024-01-10", "100")
	seed(t, s, "111", "Alice Souza", "A2", "2024-02-10", "200")
	seed(t, s, "222", "Bob", "B1", "2024-02-15", "50")

	tests := []struct {
		name   string
		filter store.TransactionFilter
		count  int64
		sum    string
	}{
		{"client substring case insensitive", store.TransactionFilter{ClientName: "SOUZA"}, 2, "300"},
		{"start date inclusive", store.TransactionFilter{StartDate: date("2024-02-10")}, 2, "250"},
		{"end date inclusive", store.TransactionFilter{EndDate: date("2024-02-10")}, 2, "300"},
		{"combined", store.TransactionFilter{ClientName: "alice", StartDate: date("2024-02-01"), EndDate: date("2024-02-28")}, 1, "200"},
		{"like wildcard is literal", store.TransactionFilter{ClientName: "%"}, 0, "0"},
		{"no match", store.TransactionFilter{ClientName: "carol"}, 0, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := s.CountTransactions(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.count, n)

			sum, err := s.SumTransactionValues(ctx, tt.filter)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.sum).Equal(sum), "sum = %s", sum)
		})
	}
}

func testIngestionRuns(t *testing.T, s store.Store) {
	ctx := context.Background()

	older := &domain.IngestionRun{
		ID:        "run-1",
		Source:    "upload",
		Filename:  "a.txt",
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now().Add(-time.Hour).UTC(),
	}
	newer := &domain.IngestionRun{
		ID:        "run-2",
		Source:    "gs://bucket/b.txt",
		Filename:  "b.txt",
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, s.StartIngestionRun(ctx, older))
	require.NoError(t, s.StartIngestionRun(ctx, newer))

	older.ChecksumSHA256 = "abc"
	older.Finish(domain.RunStatusSuccess, &domain.IngestionResult{Processed: 3, Skipped: 1, Rejected: 2}, nil)
	require.NoError(t, s.FinishIngestionRun(ctx, older))

	runs, err := s.ListIngestionRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, domain.RunStatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)

	assert.Equal(t, "run-1", runs[1].ID)
	assert.Equal(t, domain.RunStatusSuccess, runs[1].Status)
	assert.Equal(t, "abc", runs[1].ChecksumSHA256)
	assert.Equal(t, 3, runs[1].Processed)
	assert.Equal(t, 1, runs[1].Skipped)
	assert.Equal(t, 2, runs[1].Rejected)
	assert.NotNil(t, runs[1].FinishedAt)

	limited, err := s.ListIngestionRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	err = s.FinishIngestionRun(ctx, &domain.IngestionRun{ID: "missing", Status: domain.RunStatusFailed})
	assert.Error(t, err)
}
