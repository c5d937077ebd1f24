package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"github.com/dvloznov/txn-reconciler/internal/store/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClientStore is a mock of store.ClientStore with overridable functions.
type mockClientStore struct {
	FindClientByTaxIDFunc func(ctx context.Context, taxID string) (*domain.Client, error)
	CreateClientFunc      func(ctx context.Context, name, taxID string) (*domain.Client, error)

	mu          sync.Mutex
	findCalls   int
	createCalls int
}

func (m *mockClientStore) FindClientByTaxID(ctx context.Context, taxID string) (*domain.Client, error) {
	m.mu.Lock()
	m.findCalls++
	m.mu.Unlock()
	return m.FindClientByTaxIDFunc(ctx, taxID)
}

func (m *mockClientStore) CreateClient(ctx context.Context, name, taxID string) (*domain.Client, error) {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	return m.CreateClientFunc(ctx, name, taxID)
}

func (m *mockClientStore) CountClients(ctx context.Context) (int64, error) {
	return 0, nil
}

func TestClientResolver_CreatesOnFirstSight(t *testing.T) {
	ctx := context.Background()
	st := inmemory.NewStore()
	resolver := NewClientResolver(st, 0)

	c1, err := resolver.Resolve(ctx, "111", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", c1.Name)
	assert.Equal(t, "111", c1.TaxID)

	// An existing client keeps its stored name.
	c2, err := resolver.Resolve(ctx, "111", "Alice Renamed")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, "Alice", c2.Name)

	n, err := st.CountClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClientResolver_ConcurrentResolveCreatesOneClient(t *testing.T) {
	ctx := context.Background()
	st := inmemory.NewStore()

	// Separate resolvers do not share a singleflight group, so the store's
	// uniqueness check decides.
	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := NewClientResolver(st, 0).Resolve(ctx, "999", "Zed")
			if assert.NoError(t, err) {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	n, err := st.CountClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClientResolver_RereadsAfterDuplicate(t *testing.T) {
	winner := &domain.Client{ID: "c-1", Name: "Alice", TaxID: "111"}
	finds := 0
	mock := &mockClientStore{
		FindClientByTaxIDFunc: func(ctx context.Context, taxID string) (*domain.Client, error) {
			finds++
			if finds == 1 {
				return nil, nil
			}
			return winner, nil
		},
		CreateClientFunc: func(ctx context.Context, name, taxID string) (*domain.Client, error) {
			return nil, store.ErrDuplicate
		},
	}

	c, err := NewClientResolver(mock, 3).Resolve(context.Background(), "111", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
	assert.Equal(t, 2, mock.findCalls)
	assert.Equal(t, 1, mock.createCalls)
}

func TestClientResolver_RaceExhausted(t *testing.T) {
	mock := &mockClientStore{
		FindClientByTaxIDFunc: func(ctx context.Context, taxID string) (*domain.Client, error) {
			return nil, nil
		},
		CreateClientFunc: func(ctx context.Context, name, taxID string) (*domain.Client, error) {
			return nil, store.ErrDuplicate
		},
	}

	_, err := NewClientResolver(mock, 2).Resolve(context.Background(), "111", "Alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClientResolutionRace))
	assert.False(t, errors.Is(err, ErrStoreUnavailable))
	assert.Equal(t, 2, mock.createCalls)
}

func TestClientResolver_StoreFailure(t *testing.T) {
	boom := errors.New("connection refused")
	mock := &mockClientStore{
		FindClientByTaxIDFunc: func(ctx context.Context, taxID string) (*domain.Client, error) {
			return nil, boom
		},
	}

	_, err := NewClientResolver(mock, 0).Resolve(context.Background(), "111", "Alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(err, boom))

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "FindClientByTaxID", storeErr.Op)
}

func TestClientResolver_CancelledCallerDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	clients := &mockClientStore{
		FindClientByTaxIDFunc: func(ctx context.Context, taxID string) (*domain.Client, error) {
			once.Do(func() { close(started) })
			select {
			case <-release:
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
		CreateClientFunc: func(ctx context.Context, name, taxID string) (*domain.Client, error) {
			return &domain.Client{ID: "c-1", Name: name, TaxID: taxID}, nil
		},
	}
	resolver := NewClientResolver(clients, 0)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := resolver.Resolve(ctxA, "111", "Alice")
		errA <- err
	}()
	<-started

	type outcome struct {
		client *domain.Client
		err    error
	}
	resB := make(chan outcome, 1)
	go func() {
		c, err := resolver.Resolve(context.Background(), "111", "Alice")
		resB <- outcome{c, err}
	}()

	// Let B join the in-flight lookup, then cancel A.
	time.Sleep(50 * time.Millisecond)
	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "c-1", b.client.ID)

	clients.mu.Lock()
	defer clients.mu.Unlock()
	assert.Equal(t, 1, clients.findCalls)
	assert.Equal(t, 1, clients.createCalls)
}
