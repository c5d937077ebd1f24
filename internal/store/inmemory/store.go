package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is an in-memory implementation of store.Store.
// It is safe for concurrent use. Data is lost when the process exits.
type Store struct {
	mu           sync.RWMutex
	clients      map[string]*domain.Client      // by id
	clientsByTax map[string]string              // tax id -> client id
	transactions map[string]*domain.Transaction // by external id
	runs         map[string]*domain.IngestionRun
	closed       bool
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		clients:      make(map[string]*domain.Client),
		clientsByTax: make(map[string]string),
		transactions: make(map[string]*domain.Transaction),
		runs:         make(map[string]*domain.IngestionRun),
	}
}

func (s *Store) checkOpen() error {
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// FindClientByTaxID implements store.ClientStore.
func (s *Store) FindClientByTaxID(ctx context.Context, taxID string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	id, ok := s.clientsByTax[taxID]
	if !ok {
		return nil, nil
	}
	c := *s.clients[id]
	return &c, nil
}

// CreateClient implements store.ClientStore.
func (s *Store) CreateClient(ctx context.Context, name, taxID string) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if _, exists := s.clientsByTax[taxID]; exists {
		return nil, fmt.Errorf("CreateClient: tax id %s: %w", taxID, store.ErrDuplicate)
	}

	now := time.Now().UTC()
	c := &domain.Client{
		ID:        uuid.NewString(),
		Name:      name,
		TaxID:     taxID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.clients[c.ID] = c
	s.clientsByTax[taxID] = c.ID

	out := *c
	return &out, nil
}

// CountClients implements store.ClientStore.
func (s *Store) CountClients(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return int64(len(s.clients)), nil
}

// FindTransactionByExternalID implements store.TransactionStore.
func (s *Store) FindTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	tx, ok := s.transactions[externalID]
	if !ok {
		return nil, nil
	}
	return s.withClient(tx), nil
}

// CreateTransaction implements store.TransactionStore.
func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if _, exists := s.transactions[tx.ExternalID]; exists {
		return nil, fmt.Errorf("CreateTransaction: external id %s: %w", tx.ExternalID, store.ErrDuplicate)
	}
	if _, ok := s.clients[tx.ClientID]; !ok {
		return nil, fmt.Errorf("CreateTransaction: unknown client %s", tx.ClientID)
	}

	now := time.Now().UTC()
	stored := *tx
	stored.ID = uuid.NewString()
	stored.Client = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.transactions[stored.ExternalID] = &stored

	return s.withClient(&stored), nil
}

// withClient returns a copy of tx with its client attached. Callers must hold
// the lock.
func (s *Store) withClient(tx *domain.Transaction) *domain.Transaction {
	out := *tx
	if c, ok := s.clients[tx.ClientID]; ok {
		cc := *c
		out.Client = &cc
	}
	return &out
}

// filtered returns copies of all transactions matching filter. Callers must
// hold the lock.
func (s *Store) filtered(filter store.TransactionFilter) []*domain.Transaction {
	var out []*domain.Transaction
	for _, tx := range s.transactions {
		t := s.withClient(tx)
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}

// CountTransactions implements store.TransactionStore.
func (s *Store) CountTransactions(ctx context.Context, filter store.TransactionFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return int64(len(s.filtered(filter))), nil
}

// SumTransactionValues implements store.TransactionStore.
func (s *Store) SumTransactionValues(ctx context.Context, filter store.TransactionFilter) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	for _, tx := range s.filtered(filter) {
		sum = sum.Add(tx.Value)
	}
	return sum, nil
}

// FindTransactionExtremum implements store.TransactionStore.
func (s *Store) FindTransactionExtremum(ctx context.Context, field store.SortField, dir store.Direction, filter store.TransactionFilter) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	txs := s.filtered(filter)
	if len(txs) == 0 {
		return nil, nil
	}
	sortTransactions(txs, store.Sort{Field: field, Direction: dir})
	return txs[0], nil
}

// FindTransactionsPaged implements store.TransactionStore.
func (s *Store) FindTransactionsPaged(ctx context.Context, filter store.TransactionFilter, sortBy store.Sort, skip, limit int) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	txs := s.filtered(filter)
	sortTransactions(txs, sortBy)

	if skip > 0 {
		if skip >= len(txs) {
			return []*domain.Transaction{}, nil
		}
		txs = txs[skip:]
	}
	if limit > 0 && limit < len(txs) {
		txs = txs[:limit]
	}
	if txs == nil {
		txs = []*domain.Transaction{}
	}
	return txs, nil
}

// sortTransactions orders txs by the requested field. Ties are broken by
// external id so results are deterministic.
func sortTransactions(txs []*domain.Transaction, by store.Sort) {
	sort.SliceStable(txs, func(i, j int) bool {
		var cmp int
		switch by.Field {
		case store.SortByValue:
			cmp = txs[i].Value.Cmp(txs[j].Value)
		default:
			cmp = compareDates(txs[i], txs[j])
		}
		if cmp == 0 {
			return txs[i].ExternalID < txs[j].ExternalID
		}
		if by.Direction == store.Desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareDates(a, b *domain.Transaction) int {
	switch {
	case a.Date.Before(b.Date):
		return -1
	case a.Date.After(b.Date):
		return 1
	}
	return 0
}

// StartIngestionRun implements store.RunStore.
func (s *Store) StartIngestionRun(ctx context.Context, run *domain.IngestionRun) error {
	if run.ID == "" {
		return fmt.Errorf("StartIngestionRun: run ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	runCopy := *run
	s.runs[run.ID] = &runCopy
	return nil
}

// FinishIngestionRun implements store.RunStore.
func (s *Store) FinishIngestionRun(ctx context.Context, run *domain.IngestionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("FinishIngestionRun: run not found: %s", run.ID)
	}
	runCopy := *run
	s.runs[run.ID] = &runCopy
	return nil
}

// ListIngestionRuns implements store.RunStore. Runs are returned newest first.
func (s *Store) ListIngestionRuns(ctx context.Context, limit int) ([]*domain.IngestionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	runs := make([]*domain.IngestionRun, 0, len(s.runs))
	for _, r := range s.runs {
		rc := *r
		runs = append(runs, &rc)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close marks the store closed. Further calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
