// Package store defines the repository interfaces the core packages persist
// through, plus the BigQuery row shapes shared by the infra implementations
// and tests.
package store

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/jstachowiak/opsledger/internal/ledger"
)

// LedgerRepository provides transaction persistence and queries.
type LedgerRepository interface {
	// UpsertTransactions inserts the rows not already present under
	// (org_id, transaction_hash) and returns how many were new.
	UpsertTransactions(ctx context.Context, org ledger.OrgContext, txs []*ledger.Transaction) (int, error)

	// ListTransactions returns the organisation's transactions matching the
	// filter, newest booking date first.
	ListTransactions(ctx context.Context, org ledger.OrgContext, f ledger.TransactionFilter) ([]*ledger.Transaction, error)

	// GetTransaction returns nil when the transaction does not exist.
	GetTransaction(ctx context.Context, org ledger.OrgContext, transactionID string) (*ledger.Transaction, error)
}

// SubscriptionRepository persists the derived subscription set.
type SubscriptionRepository interface {
	// ReplaceSubscriptions swaps the organisation's stored set wholesale.
	ReplaceSubscriptions(ctx context.Context, org ledger.OrgContext, subs []*ledger.DetectedSubscription) error

	// ListSubscriptions returns the stored set, vendor key order.
	ListSubscriptions(ctx context.Context, org ledger.OrgContext) ([]*ledger.DetectedSubscription, error)
}

// DocumentRepository provides document persistence, lookup and linking.
type DocumentRepository interface {
	InsertDocument(ctx context.Context, doc *ledger.Document) error

	// FindDocumentByChecksum returns nil when no document matches.
	FindDocumentByChecksum(ctx context.Context, org ledger.OrgContext, checksum string) (*ledger.Document, error)

	ListRecentDocuments(ctx context.Context, org ledger.OrgContext, limit int) ([]*ledger.Document, error)

	// LinkedDocumentIDs returns the ids of documents already linked to some
	// transaction.
	LinkedDocumentIDs(ctx context.Context, org ledger.OrgContext) (map[string]bool, error)

	// LinkTransactionDocument records a confirmed transaction/document link.
	LinkTransactionDocument(ctx context.Context, org ledger.OrgContext, transactionID, documentID, source string) error
}

// ImportRunOutcome is what FinishImportRun records about a completed run.
type ImportRunOutcome struct {
	Status       string // SUCCESS or FAILED
	Step         string // failing step for FAILED runs
	ErrorMessage string
	Dialect      string

	RowsParsed   int
	RowsValid    int
	RowsInvalid  int
	RowsInserted int
	RowsSkipped  int
}

// ImportRunRepository tracks statement import runs for audit.
type ImportRunRepository interface {
	// StartImportRun records a RUNNING run and returns its id.
	StartImportRun(ctx context.Context, org ledger.OrgContext, documentID string) (string, error)

	// FinishImportRun records the outcome of a run.
	FinishImportRun(ctx context.Context, importRunID string, out ImportRunOutcome) error
}

// TransactionRow is the transactions table shape.
type TransactionRow struct {
	TransactionID    string `bigquery:"transaction_id"` // REQUIRED
	OrgID            string `bigquery:"org_id"`         // REQUIRED
	SourceDocumentID string `bigquery:"source_document_id"`

	BookingDate civil.Date        `bigquery:"booking_date"` // REQUIRED
	ValueDate   bigquery.NullDate `bigquery:"value_date"`

	Amount    float64 `bigquery:"amount"`   // REQUIRED, non-negative magnitude
	Currency  string  `bigquery:"currency"` // REQUIRED
	Direction string  `bigquery:"direction"`

	Description         string `bigquery:"description"`
	CounterpartyName    string `bigquery:"counterparty_name"`
	CounterpartyAccount string `bigquery:"counterparty_account"`

	Category    string `bigquery:"category"`
	Subcategory string `bigquery:"subcategory"`

	TransactionHash string `bigquery:"transaction_hash"` // REQUIRED, unique per org

	Raw bigquery.NullJSON `bigquery:"raw"`

	CreatedTS time.Time `bigquery:"created_ts"`
}

// SubscriptionRow is the detected_subscriptions table shape.
type SubscriptionRow struct {
	SubscriptionID string `bigquery:"subscription_id"` // REQUIRED
	OrgID          string `bigquery:"org_id"`          // REQUIRED

	VendorKey   string `bigquery:"vendor_key"` // REQUIRED
	DisplayName string `bigquery:"display_name"`
	Cadence     string `bigquery:"cadence"`

	AvgAmount       float64 `bigquery:"avg_amount"`
	AmountTolerance float64 `bigquery:"amount_tolerance"`
	Currency        string  `bigquery:"currency"`

	FirstSeenDate    civil.Date `bigquery:"first_seen_date"`
	LastChargeDate   civil.Date `bigquery:"last_charge_date"`
	NextExpectedDate civil.Date `bigquery:"next_expected_date"`

	Active     bool   `bigquery:"active"`
	Confidence int64  `bigquery:"confidence"` // 0-100
	Source     string `bigquery:"source"`

	TransactionIDs []string `bigquery:"transaction_ids"` // REPEATED

	DetectedTS time.Time `bigquery:"detected_ts"`
}

// DocumentRow is the documents table shape.
type DocumentRow struct {
	DocumentID string `bigquery:"document_id"` // REQUIRED
	OrgID      string `bigquery:"org_id"`      // REQUIRED

	OriginalFilename string    `bigquery:"original_filename"`
	GCSURI           string    `bigquery:"gcs_uri"`
	ChecksumSHA256   string    `bigquery:"checksum_sha256"`
	UploadTS         time.Time `bigquery:"upload_ts"`

	InvoiceNo  string               `bigquery:"invoice_no"`
	IssuerName string               `bigquery:"issuer_name"`
	TotalGross bigquery.NullFloat64 `bigquery:"total_gross"`
	IssueDate  bigquery.NullDate    `bigquery:"issue_date"`
	DueDate    bigquery.NullDate    `bigquery:"due_date"`
	Currency   string               `bigquery:"currency"`
}

// ImportRunRow is the import_runs table shape.
type ImportRunRow struct {
	ImportRunID string `bigquery:"import_run_id"` // REQUIRED
	OrgID       string `bigquery:"org_id"`        // REQUIRED
	DocumentID  string `bigquery:"document_id"`

	StartedTS  time.Time              `bigquery:"started_ts"` // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"`

	Dialect string `bigquery:"dialect"`

	Status       string `bigquery:"status"` // RUNNING, SUCCESS, FAILED
	Step         string `bigquery:"step"`
	ErrorMessage string `bigquery:"error_message"`

	RowsParsed   bigquery.NullInt64 `bigquery:"rows_parsed"`
	RowsValid    bigquery.NullInt64 `bigquery:"rows_valid"`
	RowsInvalid  bigquery.NullInt64 `bigquery:"rows_invalid"`
	RowsInserted bigquery.NullInt64 `bigquery:"rows_inserted"`
	RowsSkipped  bigquery.NullInt64 `bigquery:"rows_skipped"`
}

// TransactionDocumentLinkRow is the transaction_documents table shape.
type TransactionDocumentLinkRow struct {
	OrgID         string    `bigquery:"org_id"`         // REQUIRED
	TransactionID string    `bigquery:"transaction_id"` // REQUIRED
	DocumentID    string    `bigquery:"document_id"`    // REQUIRED
	Source        string    `bigquery:"source"`         // manual or suggested
	LinkedTS      time.Time `bigquery:"linked_ts"`
}
