package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/jstachowiak/opsledger/internal/ledger"
	"github.com/jstachowiak/opsledger/internal/store"
)

const documentColumns = `
	document_id,
	org_id,
	original_filename,
	gcs_uri,
	checksum_sha256,
	upload_ts,
	invoice_no,
	issuer_name,
	total_gross,
	issue_date,
	due_date,
	currency`

// InsertDocument inserts a single document record.
func (r *Repository) InsertDocument(ctx context.Context, doc *ledger.Document) error {
	return InsertDocumentWithClient(ctx, r.client, r.cfg, doc)
}

// InsertDocumentWithClient is the shared-client variant of InsertDocument.
func InsertDocumentWithClient(ctx context.Context, client *bigquery.Client, cfg Config, doc *ledger.Document) error {
	row := store.DocumentToRow(doc)
	inserter := client.DatasetInProject(cfg.ProjectID, cfg.DatasetID).Table(documentsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertDocument: inserting row: %w", err)
	}
	return nil
}

// FindDocumentByChecksum returns the organisation's document with the given
// SHA-256 checksum, or nil when none exists. Used to short-circuit duplicate
// uploads.
func (r *Repository) FindDocumentByChecksum(ctx context.Context, org ledger.OrgContext, checksum string) (*ledger.Document, error) {
	return FindDocumentByChecksumWithClient(ctx, r.client, r.cfg, org, checksum)
}

// FindDocumentByChecksumWithClient is the shared-client variant of
// FindDocumentByChecksum.
func FindDocumentByChecksumWithClient(ctx context.Context, client *bigquery.Client, cfg Config, org ledger.OrgContext, checksum string) (*ledger.Document, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE org_id = @org_id
		  AND checksum_sha256 = @checksum
		LIMIT 1
	`, documentColumns, cfg.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "org_id", Value: org.OrgID},
		{Name: "checksum", Value: checksum},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindDocumentByChecksum: reading query: %w", err)
	}

	var row store.DocumentRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindDocumentByChecksum: reading row: %w", err)
	}
	return store.DocumentFromRow(&row), nil
}

// ListRecentDocuments returns the organisation's newest documents.
func (r *Repository) ListRecentDocuments(ctx context.Context, org ledger.OrgContext, limit int) ([]*ledger.Document, error) {
	return ListRecentDocumentsWithClient(ctx, r.client, r.cfg, org, limit)
}

// ListRecentDocumentsWithClient is the shared-client variant of
// ListRecentDocuments.
func ListRecentDocumentsWithClient(ctx context.Context, client *bigquery.Client, cfg Config, org ledger.OrgContext, limit int) ([]*ledger.Document, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE org_id = @org_id
		ORDER BY upload_ts DESC
		LIMIT @limit
	`, documentColumns, cfg.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "org_id", Value: org.OrgID},
		{Name: "limit", Value: int64(limit)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecentDocuments: reading query: %w", err)
	}

	var docs []*ledger.Document
	for {
		var row store.DocumentRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecentDocuments: iterating: %w", err)
		}
		docs = append(docs, store.DocumentFromRow(&row))
	}
	return docs, nil
}

// LinkedDocumentIDs returns the ids of documents already linked to some
// transaction.
func (r *Repository) LinkedDocumentIDs(ctx context.Context, org ledger.OrgContext) (map[string]bool, error) {
	return LinkedDocumentIDsWithClient(ctx, r.client, r.cfg, org)
}

// LinkedDocumentIDsWithClient is the shared-client variant of
// LinkedDocumentIDs.
func LinkedDocumentIDsWithClient(ctx context.Context, client *bigquery.Client, cfg Config, org ledger.OrgContext) (map[string]bool, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT DISTINCT document_id
		FROM %s
		WHERE org_id = @org_id
	`, cfg.table(linksTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "org_id", Value: org.OrgID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LinkedDocumentIDs: reading query: %w", err)
	}

	linked := make(map[string]bool)
	for {
		var row struct {
			DocumentID string `bigquery:"document_id"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LinkedDocumentIDs: iterating: %w", err)
		}
		linked[row.DocumentID] = true
	}
	return linked, nil
}

// LinkTransactionDocument records a confirmed transaction/document link.
func (r *Repository) LinkTransactionDocument(ctx context.Context, org ledger.OrgContext, transactionID, documentID, source string) error {
	return LinkTransactionDocumentWithClient(ctx, r.client, r.cfg, org, transactionID, documentID, source)
}

// LinkTransactionDocumentWithClient is the shared-client variant of
// LinkTransactionDocument.
func LinkTransactionDocumentWithClient(ctx context.Context, client *bigquery.Client, cfg Config, org ledger.OrgContext, transactionID, documentID, source string) error {
	row := &store.TransactionDocumentLinkRow{
		OrgID:         org.OrgID,
		TransactionID: transactionID,
		DocumentID:    documentID,
		Source:        source,
		LinkedTS:      time.Now(),
	}
	inserter := client.DatasetInProject(cfg.ProjectID, cfg.DatasetID).Table(linksTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("LinkTransactionDocument: inserting row: %w", err)
	}
	return nil
}
