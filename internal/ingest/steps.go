package ingest

import (
	"context"
	"fmt"

	"github.com/jstachowiak/opsledger/internal/dedupe"
	"github.com/jstachowiak/opsledger/internal/statement"
)

// ParseStep sniffs the statement dialect and parses raw rows.
type ParseStep struct {
	Parser *statement.Parser
}

func (s *ParseStep) Execute(ctx context.Context, state *State) error {
	rows, dialect, err := s.Parser.Parse(state.Data)
	if err != nil {
		return err
	}
	state.Rows = rows
	state.Dialect = dialect
	return nil
}

// NormalizeStep maps raw rows to transactions. A batch where every row is
// invalid fails the run; partial invalidity does not.
type NormalizeStep struct {
	Normalizer Normalizer
}

func (s *NormalizeStep) Execute(ctx context.Context, state *State) error {
	res := s.Normalizer.Normalize(state.Org, state.SourceDocumentID, state.Rows)
	state.Transactions = res.Transactions
	state.Invalid = res.Invalid
	if len(res.Transactions) == 0 {
		return &stepError{
			step: StepMapZeroValid,
			err:  fmt.Errorf("no valid transactions among %d parsed rows", len(state.Rows)),
		}
	}
	return nil
}

// CategorizeStep assigns advisory categories before persistence.
type CategorizeStep struct {
	Categorizer Categorizer
}

func (s *CategorizeStep) Execute(ctx context.Context, state *State) error {
	for _, tx := range state.Transactions {
		tx.Category, tx.Subcategory = s.Categorizer.Categorize(tx.Description)
	}
	return nil
}

// UpsertStep writes the batch through the deduplicating upserter. On a chunk
// failure the committed counts still land in the state.
type UpsertStep struct {
	Upserter *dedupe.Upserter
}

func (s *UpsertStep) Execute(ctx context.Context, state *State) error {
	inserted, skipped, err := s.Upserter.Upsert(ctx, state.Org, state.Transactions)
	state.Inserted = inserted
	state.Skipped = skipped
	if err != nil {
		return &stepError{step: StepInsert, err: err}
	}
	return nil
}
