// Package stats computes aggregate statistics over stored transactions.
package stats

import (
	"context"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/pipeline"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"github.com/shopspring/decimal"
)

// AveragePlaces is the number of decimal places of the mean value.
const AveragePlaces = 2

// Source is the read side of the store used by the aggregator.
type Source interface {
	CountTransactions(ctx context.Context, filter store.TransactionFilter) (int64, error)
	CountClients(ctx context.Context) (int64, error)
	SumTransactionValues(ctx context.Context, filter store.TransactionFilter) (decimal.Decimal, error)
	FindTransactionExtremum(ctx context.Context, field store.SortField, dir store.Direction, filter store.TransactionFilter) (*domain.Transaction, error)
}

// Aggregator computes statistics snapshots on demand. It never writes.
type Aggregator struct {
	source Source
}

// NewAggregator creates an aggregator reading from source.
func NewAggregator(source Source) *Aggregator {
	return &Aggregator{source: source}
}

// totalsAttempts bounds how often Compute re-reads the count and sum while
// ingestion keeps changing them.
const totalsAttempts = 3

// Compute returns a snapshot over the whole transaction set. On an empty set
// all totals are zero and the extremums and date range are nil.
//
// The figures come from separate store reads, not one transaction. The
// transaction count and total value are re-read until they agree, so the
// mean always matches them. The client count, extremums and date range may
// already include rows from an ingestion that finished while Compute ran.
func (a *Aggregator) Compute(ctx context.Context) (*domain.Statistics, error) {
	start := time.Now()
	all := store.TransactionFilter{}

	count, total, err := a.totals(ctx, all)
	if err != nil {
		return nil, err
	}
	clients, err := a.source.CountClients(ctx)
	if err != nil {
		return nil, &pipeline.StoreError{Op: "CountClients", Err: err}
	}

	s := &domain.Statistics{
		TotalTransactions: count,
		TotalClients:      clients,
		TotalValue:        decimal.Zero,
		AverageValue:      decimal.Zero,
	}

	if count > 0 {
		s.TotalValue = total
		s.AverageValue = total.DivRound(decimal.NewFromInt(count), AveragePlaces)

		if s.HighestTransaction, err = a.extremum(ctx, store.SortByValue, store.Desc); err != nil {
			return nil, err
		}
		if s.LowestTransaction, err = a.extremum(ctx, store.SortByValue, store.Asc); err != nil {
			return nil, err
		}

		oldest, err := a.extremum(ctx, store.SortByDate, store.Asc)
		if err != nil {
			return nil, err
		}
		latest, err := a.extremum(ctx, store.SortByDate, store.Desc)
		if err != nil {
			return nil, err
		}
		if oldest != nil && latest != nil {
			s.DateRange = domain.DateRange{Oldest: &oldest.Date, Latest: &latest.Date}
		}
	}

	s.Duration = time.Since(start)
	log := logger.FromContext(ctx)
	log.Debug().
		Int64("transactions", s.TotalTransactions).
		Int64("clients", s.TotalClients).
		Str("processing_time", domain.FormatDuration(s.Duration)).
		Msg("Computed statistics")
	return s, nil
}

// totals reads the transaction count and value sum. The count is read again
// after the sum; when it moved, the pair is read again so both describe the
// same rows. After totalsAttempts the last pair is used as is.
func (a *Aggregator) totals(ctx context.Context, filter store.TransactionFilter) (int64, decimal.Decimal, error) {
	count, err := a.source.CountTransactions(ctx, filter)
	if err != nil {
		return 0, decimal.Zero, &pipeline.StoreError{Op: "CountTransactions", Err: err}
	}
	for attempt := 1; ; attempt++ {
		if count == 0 {
			return 0, decimal.Zero, nil
		}
		total, err := a.source.SumTransactionValues(ctx, filter)
		if err != nil {
			return 0, decimal.Zero, &pipeline.StoreError{Op: "SumTransactionValues", Err: err}
		}
		after, err := a.source.CountTransactions(ctx, filter)
		if err != nil {
			return 0, decimal.Zero, &pipeline.StoreError{Op: "CountTransactions", Err: err}
		}
		if after == count || attempt == totalsAttempts {
			return count, total, nil
		}
		count = after
	}
}

func (a *Aggregator) extremum(ctx context.Context, field store.SortField, dir store.Direction) (*domain.Extremum, error) {
	tx, err := a.source.FindTransactionExtremum(ctx, field, dir, store.TransactionFilter{})
	if err != nil {
		return nil, &pipeline.StoreError{Op: "FindTransactionExtremum", Err: err}
	}
	if tx == nil {
		return nil, nil
	}

	e := &domain.Extremum{
		ExternalID: tx.ExternalID,
		Value:      tx.Value,
		Date:       tx.Date,
	}
	if tx.Client != nil {
		e.ClientName = tx.Client.Name
	}
	return e, nil
}
