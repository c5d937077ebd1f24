package pipeline

import (
	"context"
	"errors"

	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/store"
)

// Outcome is the final classification of one input line.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeProcessed
	OutcomeSkipped
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRejected:
		return "rejected"
	}
	return "pending"
}

// PipelineStep represents a single step in the per-line ingestion pipeline.
// A step either decides the line outcome, enriches the state for the next
// step, or returns an error that aborts the ingestion call.
type PipelineStep interface {
	Execute(ctx context.Context, state *LineState) error
}

// LineState holds the shared state of one line across all pipeline steps.
type LineState struct {
	LineNo int
	Line   string
	RunID  string

	Record      *domain.Record
	Client      *domain.Client
	Transaction *domain.Transaction

	Outcome Outcome
	Reason  string
}

// Step 1: ParseStep parses the raw line. Malformed lines are rejected.
type ParseStep struct {
	Parser *Parser
}

func (s *ParseStep) Execute(ctx context.Context, state *LineState) error {
	rec, err := s.Parser.ParseLine(state.LineNo, state.Line)
	if err != nil {
		var malformed *domain.MalformedRecordError
		if errors.As(err, &malformed) {
			state.Outcome = OutcomeRejected
			state.Reason = malformed.Error()
			log := logger.FromContext(ctx)
			log.Debug().Int("line", state.LineNo).Err(err).Msg("Rejected malformed line")
			return nil
		}
		return err
	}
	state.Record = rec
	return nil
}

// Step 2: DedupStep skips records whose external id is already stored.
type DedupStep struct {
	Transactions store.TransactionStore
}

func (s *DedupStep) Execute(ctx context.Context, state *LineState) error {
	existing, err := s.Transactions.FindTransactionByExternalID(ctx, state.Record.ExternalID)
	if err != nil {
		return &StoreError{Op: "FindTransactionByExternalID", Err: err}
	}
	if existing != nil {
		state.Outcome = OutcomeSkipped
		state.Reason = "transaction already recorded"
	}
	return nil
}

// Step 3: ResolveClientStep finds or creates the client of the record.
type ResolveClientStep struct {
	Resolver *ClientResolver
}

func (s *ResolveClientStep) Execute(ctx context.Context, state *LineState) error {
	client, err := s.Resolver.Resolve(ctx, state.Record.TaxID, state.Record.ClientName)
	if err != nil {
		return err
	}
	state.Client = client
	return nil
}

// Step 4: PersistStep stores the transaction. A concurrent insert of the
// same external id counts as skipped.
type PersistStep struct {
	Transactions store.TransactionStore
}

func (s *PersistStep) Execute(ctx context.Context, state *LineState) error {
	rec := state.Record
	created, err := s.Transactions.CreateTransaction(ctx, &domain.Transaction{
		ExternalID:     rec.ExternalID,
		ClientID:       state.Client.ID,
		Date:           rec.Date,
		Value:          rec.Value,
		IngestionRunID: state.RunID,
	})
	if errors.Is(err, store.ErrDuplicate) {
		state.Outcome = OutcomeSkipped
		state.Reason = "transaction recorded concurrently"
		return nil
	}
	if err != nil {
		return &StoreError{Op: "CreateTransaction", Err: err}
	}

	state.Transaction = created
	state.Outcome = OutcomeProcessed
	return nil
}
