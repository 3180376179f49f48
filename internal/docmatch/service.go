package docmatch

import (
	"context"
	"fmt"

	"github.com/jstachowiak/opsledger/internal/ledger"
	"github.com/jstachowiak/opsledger/internal/logger"
)

// DocumentSource supplies the candidate documents a suggestion run considers
// and the set already linked to transactions.
type DocumentSource interface {
	ListRecentDocuments(ctx context.Context, org ledger.OrgContext, limit int) ([]*ledger.Document, error)
	LinkedDocumentIDs(ctx context.Context, org ledger.OrgContext) (map[string]bool, error)
}

// candidatePool bounds how many recent documents one run considers.
const candidatePool = 200

// Service wires the matcher to document storage.
type Service struct {
	matcher *Matcher
	docs    DocumentSource
}

func NewService(matcher *Matcher, docs DocumentSource) *Service {
	return &Service{matcher: matcher, docs: docs}
}

// SuggestForTransaction returns ranked candidate documents for tx, skipping
// documents already linked to some transaction.
func (s *Service) SuggestForTransaction(ctx context.Context, org ledger.OrgContext, tx *ledger.Transaction) ([]Suggestion, error) {
	log := logger.FromContext(ctx)

	docs, err := s.docs.ListRecentDocuments(ctx, org, candidatePool)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	linked, err := s.docs.LinkedDocumentIDs(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("listing linked documents: %w", err)
	}

	unlinked := docs[:0:0]
	for _, d := range docs {
		if !linked[d.DocumentID] {
			unlinked = append(unlinked, d)
		}
	}

	suggestions := s.matcher.Suggest(tx, unlinked)
	log.Debug().
		Str("org_id", org.OrgID).
		Str("transaction_id", tx.TransactionID).
		Int("candidates", len(unlinked)).
		Int("suggestions", len(suggestions)).
		Msg("document suggestions computed")
	return suggestions, nil
}
