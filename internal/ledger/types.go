// Package ledger defines the domain model for the transaction ledger:
// normalized transactions, detected subscriptions, supporting documents,
// and the organisation scope every operation runs under.
package ledger

import (
	"time"

	"cloud.google.com/go/civil"
)

// Direction is the sign of a transaction, carried separately from the
// stored amount which is always a non-negative magnitude.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// OrgContext scopes every core operation to one organisation. It is passed
// explicitly; nothing in the core reads an ambient org id.
type OrgContext struct {
	OrgID string
}

// Transaction is one normalized ledger row owned by an organisation.
type Transaction struct {
	TransactionID    string `json:"transaction_id"`
	OrgID            string `json:"org_id"`
	SourceDocumentID string `json:"source_document_id,omitempty"` // origin statement document, empty for manual entries

	BookingDate civil.Date  `json:"booking_date"`
	ValueDate   *civil.Date `json:"value_date,omitempty"`

	Amount    float64   `json:"amount"` // non-negative magnitude; sign lives in Direction
	Currency  string    `json:"currency"`
	Direction Direction `json:"direction"`

	Description         string `json:"description"`
	CounterpartyName    string `json:"counterparty_name,omitempty"`
	CounterpartyAccount string `json:"counterparty_account,omitempty"`

	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`

	// TransactionHash is the content-derived uniqueness key per organisation.
	// Derived once at normalization time, immutable afterwards.
	TransactionHash string `json:"transaction_hash"`

	// Raw is the verbatim source row, kept for audit and dialect debugging.
	Raw map[string]string `json:"-"`

	CreatedTS time.Time `json:"created_ts"`
}

// Cadence classifies the recurrence interval of a detected subscription.
type Cadence string

const (
	CadenceWeekly    Cadence = "weekly"
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceYearly    Cadence = "yearly"
	CadenceOneTime   Cadence = "one_time"
)

// DetectedSubscription is derived state, recomputed wholesale on every
// detection run. It is never authored or patched incrementally.
type DetectedSubscription struct {
	SubscriptionID string `json:"subscription_id"`
	OrgID          string `json:"org_id"`

	// VendorKey is the stable grouping identity: the same vendor/amount pair
	// maps to the same key across detection runs.
	VendorKey   string  `json:"vendor_key"`
	DisplayName string  `json:"display_name"`
	Cadence     Cadence `json:"cadence"`

	AvgAmount       float64 `json:"avg_amount"`
	AmountTolerance float64 `json:"amount_tolerance"`
	Currency        string  `json:"currency"`

	FirstSeenDate    civil.Date `json:"first_seen_date"`
	LastChargeDate   civil.Date `json:"last_charge_date"`
	NextExpectedDate civil.Date `json:"next_expected_date"`

	Active     bool   `json:"active"`
	Confidence int    `json:"confidence"` // 0-100
	Source     string `json:"source"`

	TransactionIDs []string `json:"transaction_ids"`
}

// DocumentMeta is the extracted metadata of a supporting document (invoice,
// receipt). All fields are optional; absent values simply contribute no
// matching signal.
type DocumentMeta struct {
	InvoiceNo  string      `json:"invoice_no,omitempty"`
	IssuerName string      `json:"issuer_name,omitempty"`
	TotalGross *float64    `json:"total_gross,omitempty"`
	IssueDate  *civil.Date `json:"issue_date,omitempty"`
	DueDate    *civil.Date `json:"due_date,omitempty"`
	Currency   string      `json:"currency,omitempty"`
}

// Document references a stored supporting document. The file itself lives in
// object storage; only identity and metadata matter to matching.
type Document struct {
	DocumentID       string `json:"document_id"`
	OrgID            string `json:"org_id"`
	OriginalFilename string `json:"original_filename"`
	// StorageURI locates the stored file (a gs:// URI).
	StorageURI string `json:"storage_uri"`
	// ChecksumSHA256 is the hex digest of the file content, used to reject
	// duplicate uploads.
	ChecksumSHA256 string       `json:"checksum_sha256"`
	UploadTS       time.Time    `json:"upload_ts"`
	Meta           DocumentMeta `json:"meta"`
}

// TransactionFilter narrows a ledger query. Zero values mean "no constraint".
type TransactionFilter struct {
	From      *civil.Date
	To        *civil.Date
	Direction Direction
	Category  string
	// Search is matched case-insensitively against description and
	// counterparty name.
	Search string
	Limit  int
}
