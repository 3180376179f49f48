package store

import (
	"encoding/json"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/jstachowiak/opsledger/internal/ledger"
)

func nullDate(d *civil.Date) bigquery.NullDate {
	if d == nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: *d, Valid: true}
}

func datePtr(d bigquery.NullDate) *civil.Date {
	if !d.Valid {
		return nil
	}
	v := d.Date
	return &v
}

// TransactionToRow converts a domain transaction to its table shape.
func TransactionToRow(t *ledger.Transaction) *TransactionRow {
	row := &TransactionRow{
		TransactionID:       t.TransactionID,
		OrgID:               t.OrgID,
		SourceDocumentID:    t.SourceDocumentID,
		BookingDate:         t.BookingDate,
		ValueDate:           nullDate(t.ValueDate),
		Amount:              t.Amount,
		Currency:            t.Currency,
		Direction:           string(t.Direction),
		Description:         t.Description,
		CounterpartyName:    t.CounterpartyName,
		CounterpartyAccount: t.CounterpartyAccount,
		Category:            t.Category,
		Subcategory:         t.Subcategory,
		TransactionHash:     t.TransactionHash,
		CreatedTS:           t.CreatedTS,
	}
	if len(t.Raw) > 0 {
		// NullJSON carries the serialized value.
		if data, err := json.Marshal(t.Raw); err == nil {
			row.Raw = bigquery.NullJSON{JSONVal: string(data), Valid: true}
		}
	}
	return row
}

// TransactionFromRow converts a table row back to the domain shape. The raw
// source row is not restored; queries do not need it.
func TransactionFromRow(r *TransactionRow) *ledger.Transaction {
	return &ledger.Transaction{
		TransactionID:       r.TransactionID,
		OrgID:               r.OrgID,
		SourceDocumentID:    r.SourceDocumentID,
		BookingDate:         r.BookingDate,
		ValueDate:           datePtr(r.ValueDate),
		Amount:              r.Amount,
		Currency:            r.Currency,
		Direction:           ledger.Direction(r.Direction),
		Description:         r.Description,
		CounterpartyName:    r.CounterpartyName,
		CounterpartyAccount: r.CounterpartyAccount,
		Category:            r.Category,
		Subcategory:         r.Subcategory,
		TransactionHash:     r.TransactionHash,
		CreatedTS:           r.CreatedTS,
	}
}

// SubscriptionToRow converts a detected subscription to its table shape.
func SubscriptionToRow(s *ledger.DetectedSubscription) *SubscriptionRow {
	return &SubscriptionRow{
		SubscriptionID:   s.SubscriptionID,
		OrgID:            s.OrgID,
		VendorKey:        s.VendorKey,
		DisplayName:      s.DisplayName,
		Cadence:          string(s.Cadence),
		AvgAmount:        s.AvgAmount,
		AmountTolerance:  s.AmountTolerance,
		Currency:         s.Currency,
		FirstSeenDate:    s.FirstSeenDate,
		LastChargeDate:   s.LastChargeDate,
		NextExpectedDate: s.NextExpectedDate,
		Active:           s.Active,
		Confidence:       int64(s.Confidence),
		Source:           s.Source,
		TransactionIDs:   s.TransactionIDs,
	}
}

// SubscriptionFromRow converts a table row back to the domain shape.
func SubscriptionFromRow(r *SubscriptionRow) *ledger.DetectedSubscription {
	return &ledger.DetectedSubscription{
		SubscriptionID:   r.SubscriptionID,
		OrgID:            r.OrgID,
		VendorKey:        r.VendorKey,
		DisplayName:      r.DisplayName,
		Cadence:          ledger.Cadence(r.Cadence),
		AvgAmount:        r.AvgAmount,
		AmountTolerance:  r.AmountTolerance,
		Currency:         r.Currency,
		FirstSeenDate:    r.FirstSeenDate,
		LastChargeDate:   r.LastChargeDate,
		NextExpectedDate: r.NextExpectedDate,
		Active:           r.Active,
		Confidence:       int(r.Confidence),
		Source:           r.Source,
		TransactionIDs:   r.TransactionIDs,
	}
}

// DocumentToRow converts a domain document to its table shape.
func DocumentToRow(d *ledger.Document) *DocumentRow {
	row := &DocumentRow{
		DocumentID:       d.DocumentID,
		OrgID:            d.OrgID,
		OriginalFilename: d.OriginalFilename,
		GCSURI:           d.StorageURI,
		ChecksumSHA256:   d.ChecksumSHA256,
		UploadTS:         d.UploadTS,
		InvoiceNo:        d.Meta.InvoiceNo,
		IssuerName:       d.Meta.IssuerName,
		IssueDate:        nullDate(d.Meta.IssueDate),
		DueDate:          nullDate(d.Meta.DueDate),
		Currency:         d.Meta.Currency,
	}
	if d.Meta.TotalGross != nil {
		row.TotalGross = bigquery.NullFloat64{Float64: *d.Meta.TotalGross, Valid: true}
	}
	return row
}

// DocumentFromRow converts a table row back to the domain shape.
func DocumentFromRow(r *DocumentRow) *ledger.Document {
	doc := &ledger.Document{
		DocumentID:       r.DocumentID,
		OrgID:            r.OrgID,
		OriginalFilename: r.OriginalFilename,
		StorageURI:       r.GCSURI,
		ChecksumSHA256:   r.ChecksumSHA256,
		UploadTS:         r.UploadTS,
		Meta: ledger.DocumentMeta{
			InvoiceNo:  r.InvoiceNo,
			IssuerName: r.IssuerName,
			IssueDate:  datePtr(r.IssueDate),
			DueDate:    datePtr(r.DueDate),
			Currency:   r.Currency,
		},
	}
	if r.TotalGross.Valid {
		v := r.TotalGross.Float64
		doc.Meta.TotalGross = &v
	}
	return doc
}
