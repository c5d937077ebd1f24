package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"golang.org/x/sync/singleflight"
)

// DefaultResolveAttempts bounds the find-or-create loop of ClientResolver.
const DefaultResolveAttempts = 3

// ClientResolver finds a client by tax id or creates it on first sight.
// Concurrent resolutions of the same tax id within the process share one
// lookup; across processes the store's unique constraint decides the winner
// and the loser re-reads.
type ClientResolver struct {
	clients     store.ClientStore
	group       singleflight.Group
	maxAttempts int
}

// NewClientResolver creates a resolver over clients. maxAttempts <= 0 selects
// DefaultResolveAttempts.
func NewClientResolver(clients store.ClientStore, maxAttempts int) *ClientResolver {
	if maxAttempts <= 0 {
		maxAttempts = DefaultResolveAttempts
	}
	return &ClientResolver{clients: clients, maxAttempts: maxAttempts}
}

// Resolve returns the client with taxID, creating it with name if absent.
// An existing client keeps its stored name.
//
// The shared lookup does not inherit the caller's cancellation: a caller
// whose context ends gets its own ctx error, while the other callers
// waiting on the same tax id still receive the client.
func (r *ClientResolver) Resolve(ctx context.Context, taxID, name string) (*domain.Client, error) {
	ch := r.group.DoChan(taxID, func() (interface{}, error) {
		return r.resolve(context.WithoutCancel(ctx), taxID, name)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		c := *res.Val.(*domain.Client)
		return &c, nil
	}
}

func (r *ClientResolver) resolve(ctx context.Context, taxID, name string) (*domain.Client, error) {
	log := logger.FromContext(ctx)

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		c, err := r.clients.FindClientByTaxID(ctx, taxID)
		if err != nil {
			return nil, &StoreError{Op: "FindClientByTaxID", Err: err}
		}
		if c != nil {
			return c, nil
		}

		c, err = r.clients.CreateClient(ctx, name, taxID)
		if err == nil {
			log.Debug().Str("client_id", c.ID).Str("tax_id", taxID).Msg("Created client")
			return c, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, &StoreError{Op: "CreateClient", Err: err}
		}

		log.Debug().Str("tax_id", taxID).Int("attempt", attempt).Msg("Client created concurrently, re-reading")
	}

	return nil, fmt.Errorf("Resolve: tax id %s after %d attempts: %w", taxID, r.maxAttempts, ErrClientResolutionRace)
}
