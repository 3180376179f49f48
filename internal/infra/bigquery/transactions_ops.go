package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/jstachowiak/opsledger/internal/ledger"
	"github.com/jstachowiak/opsledger/internal/store"
)

// UpsertTransactions inserts the transactions whose (org_id, transaction_hash)
// is not yet present and returns how many were new.
func (r *Repository) UpsertTransactions(ctx context.Context, org ledger.OrgContext, txs []*ledger.Transaction) (int, error) {
	return UpsertTransactionsWithClient(ctx, r.client, r.cfg, org, txs)
}

// UpsertTransactionsWithClient is the shared-client variant of
// UpsertTransactions. It looks up the hashes already stored for the batch and
// streams only the new rows.
func UpsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, cfg Config, org ledger.OrgContext, txs []*ledger.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	hashes := make([]string, 0, len(txs))
	for _, t := range txs {
		hashes = append(hashes, t.TransactionHash)
	}
	existing, err := existingHashesWithClient(ctx, client, cfg, org, hashes)
	if err != nil {
		return 0, err
	}

	var rows []*store.TransactionRow
	for _, t := range txs {
		if existing[t.TransactionHash] {
			continue
		}
		// Within one batch the first occurrence wins.
		existing[t.TransactionHash] = true
		rows = append(rows, store.TransactionToRow(t))
	}
	if len(rows) == 0 {
		return 0, nil
	}

	inserter := client.DatasetInProject(cfg.ProjectID, cfg.DatasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return 0, fmt.Errorf("UpsertTransactions: inserting rows: %w", err)
	}
	return len(rows), nil
}

func existingHashesWithClient(ctx context.Context, client *bigquery.Client, cfg Config, org ledger.OrgContext, hashes []string) (map[string]bool, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT transaction_hash
		FROM %s
		WHERE org_id = @org_id
		  AND transaction_hash IN UNNEST(@hashes)
	`, cfg.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "org_id", Value: org.OrgID},
		{Name: "hashes", Value: hashes},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("UpsertTransactions: reading existing hashes: %w", err)
	}
	existing := make(map[string]bool)
	for {
		var row struct {
			TransactionHash string `bigquery:"transaction_hash"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("UpsertTransactions: iterating hashes: %w", err)
		}
		existing[row.TransactionHash] = true
	}
	return existing, nil
}

// GetTransaction returns one transaction by id, or nil when absent.
func (r *Repository) GetTransaction(ctx context.Context, org ledger.OrgContext, transactionID string) (*ledger.Transaction, error) {
	return GetTransactionWithClient(ctx, r.client, r.cfg, org, transactionID)
}

// GetTransactionWithClient is the shared-client variant of GetTransaction.
func GetTransactionWithClient(ctx context.Context, client *bigquery.Client, cfg Config, org ledger.OrgContext, transactionID string) (*ledger.Transaction, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			org_id,
			source_document_id,
			booking_date,
			value_date,
			amount,
			currency,
			direction,
			description,
			counterparty_name,
			counterparty_account,
			category,
			subcategory,
			transaction_hash,
			created_ts
		FROM %s
		WHERE org_id = @org_id
		  AND transaction_id = @transaction_id
		LIMIT 1
	`, cfg.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "org_id", Value: org.OrgID},
		{Name: "transaction_id", Value: transactionID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: reading query: %w", err)
	}

	var row store.TransactionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: reading row: %w", err)
	}
	return store.TransactionFromRow(&row), nil
}

// ListTransactions returns the organisation's transactions matching the
// filter, newest booking date first.
func (r *Repository) ListTransactions(ctx context.Context, org ledger.OrgContext, f ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	return ListTransactionsWithClient(ctx, r.client, r.cfg, org, f)
}

// ListTransactionsWithClient is the shared-client variant of
// ListTransactions.
func ListTransactionsWithClient(ctx context.Context, client *bigquery.Client, cfg Config, org ledger.OrgContext, f ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	conds := []string{"org_id = @org_id"}
	params := []bigquery.QueryParameter{{Name: "org_id", Value: org.OrgID}}

	if f.From != nil {
		conds = append(conds, "booking_date >= @from_date")
		params = append(params, bigquery.QueryParameter{Name: "from_date", Value: *f.From})
	}
	if f.To != nil {
		conds = append(conds, "booking_date <= @to_date")
		params = append(params, bigquery.QueryParameter{Name: "to_date", Value: *f.To})
	}
	if f.Direction != "" {
		conds = append(conds, "direction = @direction")
		params = append(params, bigquery.QueryParameter{Name: "direction", Value: string(f.Direction)})
	}
	if f.Category != "" {
		conds = append(conds, "category = @category")
		params = append(params, bigquery.QueryParameter{Name: "category", Value: f.Category})
	}
	if f.Search != "" {
		conds = append(conds, "(LOWER(description) LIKE @search OR LOWER(counterparty_name) LIKE @search)")
		params = append(params, bigquery.QueryParameter{
			Name:  "search",
			Value: "%" + strings.ToLower(f.Search) + "%",
		})
	}

	query := fmt.Sprintf(`
		SELECT
			transaction_id,
			org_id,
			source_document_id,
			booking_date,
			value_date,
			amount,
			currency,
			direction,
			description,
			counterparty_name,
			counterparty_account,
			category,
			subcategory,
			transaction_hash,
			created_ts
		FROM %s
		WHERE %s
		ORDER BY booking_date DESC, created_ts DESC
	`, cfg.table(transactionsTable), strings.Join(conds, "\n\t\t  AND "))
	if f.Limit > 0 {
		query += fmt.Sprintf("\n\t\tLIMIT %d", f.Limit)
	}

	q := client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: reading query: %w", err)
	}

	var txs []*ledger.Transaction
	for {
		var row store.TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: iterating: %w", err)
		}
		txs = append(txs, store.TransactionFromRow(&row))
	}
	return txs, nil
}
