package docmatch

import (
	"context"
	"fmt"
	"testing"

	"cloud.google.com/go/civil"

	"github.com/jstachowiak/opsledger/internal/ledger"
)

func fptr(f float64) *float64 { return &f }

func testTx() *ledger.Transaction {
	return &ledger.Transaction{
		TransactionID:    "tx-1",
		BookingDate:      civil.Date{Year: 2024, Month: 3, Day: 15},
		Amount:           1230.00,
		Currency:         "PLN",
		Direction:        ledger.DirectionOut,
		Description:      "PRZELEW FV/12/2024 ACME SOFTWARE",
		CounterpartyName: "ACME Software Sp. z o.o.",
	}
}

func testDoc(id string, meta ledger.DocumentMeta) *ledger.Document {
	return &ledger.Document{DocumentID: id, Meta: meta}
}

func TestScore_InvoiceNumberSignal(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	doc := testDoc("d1", ledger.DocumentMeta{InvoiceNo: "FV 12 2024"})
	score, reasons := m.Score(testTx(), doc)
	if score < 0.40 {
		t.Errorf("score = %v, want >= 0.40 for invoice number hit", score)
	}
	if len(reasons) == 0 {
		t.Error("invoice number hit must produce a reason")
	}
}

func TestScore_SeparatorInsensitiveInvoiceNumber(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	variants := []string{"FV/12/2024", "fv-12-2024", "FV 12 2024", "fv122024"}
	for _, inv := range variants {
		score, _ := m.Score(testTx(), testDoc("d", ledger.DocumentMeta{InvoiceNo: inv}))
		if score < 0.40 {
			t.Errorf("InvoiceNo %q: score = %v, want >= 0.40", inv, score)
		}
	}
}

func TestScore_AmountTolerance(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	tests := []struct {
		total    float64
		currency string
		want     bool
	}{
		// PLN floor is 5, relative tolerance 1% of the 1230 charge = 12.30
		{1230.00, "PLN", true},
		{1240.00, "PLN", true},  // off by 10, inside 12.30
		{1250.00, "PLN", false}, // off by 20
		// EUR floor is the 1-unit default, so the 12.30 relative band applies
		{1232.00, "EUR", true},
		{1260.00, "EUR", false},
	}
	for _, tt := range tests {
		doc := testDoc("d", ledger.DocumentMeta{TotalGross: fptr(tt.total), Currency: tt.currency})
		got := m.amountMatches(testTx(), doc.Meta)
		if got != tt.want {
			t.Errorf("amountMatches(total=%v, %s) = %v, want %v", tt.total, tt.currency, got, tt.want)
		}
	}
}

func TestScore_SmallAmountUsesFloor(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	tx := testTx()
	tx.Amount = 12.00
	// 1% of 12 is 0.12, but the PLN floor of 5 dominates.
	meta := ledger.DocumentMeta{TotalGross: fptr(15.00), Currency: "PLN"}
	if !m.amountMatches(tx, meta) {
		t.Error("difference of 3 must be inside the PLN floor of 5")
	}
}

func TestScore_ToleranceScalesWithTransaction(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	tx := testTx()
	tx.Amount = 1010.05
	tx.Currency = "EUR"
	// 1% of the 1010.05 charge is 10.1005; the 10.05 gap to the document
	// total fits, while 1% of the total alone (10.00) would not.
	meta := ledger.DocumentMeta{TotalGross: fptr(1000.00), Currency: "EUR"}
	if !m.amountMatches(tx, meta) {
		t.Error("tolerance must scale with the transaction amount")
	}
}

func TestScore_IssuerMatchesEitherDirection(t *testing.T) {
	m := NewMatcher(DefaultConfig())

	// The bank truncates the counterparty to a short brand name while the
	// invoice carries the full legal name.
	tx := testTx()
	tx.Description = "PLATNOSC KARTA 1234"
	tx.CounterpartyName = "ACME"
	score, _ := m.Score(tx, testDoc("d", ledger.DocumentMeta{IssuerName: "ACME Corporation Sp. z o.o."}))
	if score < 0.25 {
		t.Errorf("score = %v, want >= 0.25 when the counterparty is a prefix of the issuer", score)
	}

	// Full issuer contained in the counterparty still fires.
	tx2 := testTx()
	score, _ = m.Score(tx2, testDoc("d", ledger.DocumentMeta{IssuerName: "ACME Software"}))
	if score < 0.25 {
		t.Errorf("score = %v, want >= 0.25 when the issuer is inside the counterparty", score)
	}

	// An empty counterparty must not match every issuer.
	tx3 := testTx()
	tx3.CounterpartyName = ""
	tx3.Description = "PLATNOSC KARTA 1234"
	score, _ = m.Score(tx3, testDoc("d", ledger.DocumentMeta{IssuerName: "Unrelated Vendor"}))
	if score != 0 {
		t.Errorf("score = %v, want 0 with no counterparty and no description hit", score)
	}
}

func TestScore_DateWindows(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	tx := testTx() // booked 2024-03-15

	issue := civil.Date{Year: 2024, Month: 2, Day: 20} // 24 days before booking
	score, _ := m.Score(tx, testDoc("d", ledger.DocumentMeta{IssueDate: &issue}))
	if score < 0.10 {
		t.Errorf("score = %v, want >= 0.10 for issue date inside window", score)
	}

	farIssue := civil.Date{Year: 2023, Month: 3, Day: 15}
	score, _ = m.Score(tx, testDoc("d", ledger.DocumentMeta{IssueDate: &farIssue}))
	if score != 0 {
		t.Errorf("score = %v, want 0 for issue date a year away", score)
	}

	due := civil.Date{Year: 2024, Month: 3, Day: 30} // 15 days after booking
	issue2 := civil.Date{Year: 2024, Month: 3, Day: 1}
	score, _ = m.Score(tx, testDoc("d", ledger.DocumentMeta{IssueDate: &issue2, DueDate: &due}))
	if score < 0.20 {
		t.Errorf("score = %v, want >= 0.20 when both date windows hit", score)
	}
}

func TestScore_CapAtOne(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	issue := civil.Date{Year: 2024, Month: 3, Day: 1}
	due := civil.Date{Year: 2024, Month: 3, Day: 20}
	doc := testDoc("d", ledger.DocumentMeta{
		InvoiceNo:  "FV/12/2024",
		IssuerName: "ACME Software",
		TotalGross: fptr(1230.00),
		IssueDate:  &issue,
		DueDate:    &due,
		Currency:   "PLN",
	})
	score, _ := m.Score(testTx(), doc)
	if score > 1.0 {
		t.Errorf("score = %v, want capped at 1.0", score)
	}
	if score != 1.0 {
		t.Errorf("score = %v, want exactly 1.0 when every signal fires", score)
	}
}

func TestSuggest_ThresholdAndOrder(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	tx := testTx()

	full := testDoc("full", ledger.DocumentMeta{
		InvoiceNo:  "FV/12/2024",
		IssuerName: "ACME Software",
		TotalGross: fptr(1230.00),
		Currency:   "PLN",
	})
	// invoice number + currency only: 0.45, below threshold
	weak := testDoc("weak", ledger.DocumentMeta{InvoiceNo: "FV/12/2024", Currency: "PLN"})
	// issuer + amount + currency: 0.50, still below threshold
	mid := testDoc("mid", ledger.DocumentMeta{
		IssuerName: "ACME Software",
		TotalGross: fptr(1230.00),
		Currency:   "PLN",
	})
	// invoice + amount: 0.60, crosses
	ok := testDoc("ok", ledger.DocumentMeta{InvoiceNo: "FV/12/2024", TotalGross: fptr(1230.00)})

	got := m.Suggest(tx, []*ledger.Document{weak, ok, mid, full})
	if len(got) != 2 {
		t.Fatalf("suggestions = %d, want 2 (threshold 0.55)", len(got))
	}
	if got[0].DocumentID != "full" || got[1].DocumentID != "ok" {
		t.Errorf("order = [%s %s], want [full ok]", got[0].DocumentID, got[1].DocumentID)
	}
}

func TestSuggest_ConfidenceLabels(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	tx := testTx()

	full := testDoc("full", ledger.DocumentMeta{
		InvoiceNo:  "FV/12/2024",
		IssuerName: "ACME Software",
		TotalGross: fptr(1230.00),
		Currency:   "PLN",
	}) // 0.90
	ok := testDoc("ok", ledger.DocumentMeta{InvoiceNo: "FV/12/2024", TotalGross: fptr(1230.00)}) // 0.60

	got := m.Suggest(tx, []*ledger.Document{full, ok})
	if len(got) != 2 {
		t.Fatalf("suggestions = %d, want 2", len(got))
	}
	if got[0].Confidence != "high" {
		t.Errorf("confidence = %q, want high at score %.2f", got[0].Confidence, got[0].Score)
	}
	if got[1].Confidence != "low" {
		t.Errorf("confidence = %q, want low at score %.2f", got[1].Confidence, got[1].Score)
	}
}

func TestSuggest_MaxSuggestions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSuggestions = 3
	m := NewMatcher(cfg)
	tx := testTx()

	var docs []*ledger.Document
	for i := 0; i < 8; i++ {
		docs = append(docs, testDoc(fmt.Sprintf("d%d", i), ledger.DocumentMeta{
			InvoiceNo:  "FV/12/2024",
			TotalGross: fptr(1230.00),
		}))
	}
	got := m.Suggest(tx, docs)
	if len(got) != 3 {
		t.Errorf("suggestions = %d, want 3", len(got))
	}
}

func TestExplain_FallbackWithoutReasons(t *testing.T) {
	got := explain(0.62, nil)
	want := "partial match (score: 62%)"
	if got != want {
		t.Errorf("explain = %q, want %q", got, want)
	}
}

type fakeDocSource struct {
	docs   []*ledger.Document
	linked map[string]bool
}

func (f *fakeDocSource) ListRecentDocuments(ctx context.Context, org ledger.OrgContext, limit int) ([]*ledger.Document, error) {
	return f.docs, nil
}

func (f *fakeDocSource) LinkedDocumentIDs(ctx context.Context, org ledger.OrgContext) (map[string]bool, error) {
	return f.linked, nil
}

func TestService_SkipsLinkedDocuments(t *testing.T) {
	meta := ledger.DocumentMeta{InvoiceNo: "FV/12/2024", TotalGross: fptr(1230.00), Currency: "PLN"}
	src := &fakeDocSource{
		docs: []*ledger.Document{
			testDoc("linked", meta),
			testDoc("free", meta),
		},
		linked: map[string]bool{"linked": true},
	}
	svc := NewService(NewMatcher(DefaultConfig()), src)

	got, err := svc.SuggestForTransaction(context.Background(), ledger.OrgContext{OrgID: "org-1"}, testTx())
	if err != nil {
		t.Fatalf("SuggestForTransaction: %v", err)
	}
	if len(got) != 1 || got[0].DocumentID != "free" {
		t.Errorf("suggestions = %+v, want only the unlinked document", got)
	}
}
