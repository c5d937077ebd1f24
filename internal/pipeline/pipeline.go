package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/txn-reconciler/internal/store"
)

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs the steps sequentially until one of them decides the line
// outcome or fails.
func (p *Pipeline) Execute(ctx context.Context, state *LineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
		if state.Outcome != OutcomePending {
			return nil
		}
	}
	return nil
}

// NewLinePipeline creates the standard 4-step pipeline for one record line:
// parse, dedup, resolve client, persist.
func NewLinePipeline(parser *Parser, resolver *ClientResolver, transactions store.TransactionStore) *Pipeline {
	return NewPipeline(
		&ParseStep{Parser: parser},
		&DedupStep{Transactions: transactions},
		&ResolveClientStep{Resolver: resolver},
		&PersistStep{Transactions: transactions},
	)
}
