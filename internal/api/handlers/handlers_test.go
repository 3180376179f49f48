package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/jstachowiak/opsledger/internal/docmatch"
	"github.com/jstachowiak/opsledger/internal/jobs"
	"github.com/jstachowiak/opsledger/internal/ledger"
)

type fakeDocRepo struct {
	byChecksum map[string]*ledger.Document
	inserted   []*ledger.Document
	linked     []string
}

func (f *fakeDocRepo) InsertDocument(ctx context.Context, doc *ledger.Document) error {
	f.inserted = append(f.inserted, doc)
	return nil
}

func (f *fakeDocRepo) FindDocumentByChecksum(ctx context.Context, org ledger.OrgContext, checksum string) (*ledger.Document, error) {
	return f.byChecksum[checksum], nil
}

func (f *fakeDocRepo) ListRecentDocuments(ctx context.Context, org ledger.OrgContext, limit int) ([]*ledger.Document, error) {
	return nil, nil
}

func (f *fakeDocRepo) LinkedDocumentIDs(ctx context.Context, org ledger.OrgContext) (map[string]bool, error) {
	return nil, nil
}

func (f *fakeDocRepo) LinkTransactionDocument(ctx context.Context, org ledger.OrgContext, transactionID, documentID, source string) error {
	f.linked = append(f.linked, fmt.Sprintf("%s:%s:%s", transactionID, documentID, source))
	return nil
}

type fakeStorage struct {
	uploads map[string][]byte
}

func (f *fakeStorage) UploadBytes(ctx context.Context, objectName string, data []byte) (string, error) {
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[objectName] = data
	return "gs://test-bucket/" + objectName, nil
}

func (f *fakeStorage) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}

type fakePublisher struct {
	tasks []*jobs.Task
}

func (f *fakePublisher) Publish(ctx context.Context, task *jobs.Task) error {
	if task.JobID == "" {
		task.JobID = fmt.Sprintf("job-%d", len(f.tasks)+1)
	}
	if task.Status == "" {
		task.Status = jobs.JobStatusPending
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

// mutatingPublisher stands in for a queue whose worker starts the task
// before the handler writes its response.
type mutatingPublisher struct {
	fakePublisher
}

func (m *mutatingPublisher) Publish(ctx context.Context, task *jobs.Task) error {
	if err := m.fakePublisher.Publish(ctx, task); err != nil {
		return err
	}
	task.Status = jobs.JobStatusCompleted
	return nil
}

type fakeLedgerRepo struct {
	byID map[string]*ledger.Transaction
	txs  []*ledger.Transaction
}

func (f *fakeLedgerRepo) UpsertTransactions(ctx context.Context, org ledger.OrgContext, txs []*ledger.Transaction) (int, error) {
	return 0, nil
}

func (f *fakeLedgerRepo) ListTransactions(ctx context.Context, org ledger.OrgContext, filter ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	return f.txs, nil
}

func (f *fakeLedgerRepo) GetTransaction(ctx context.Context, org ledger.OrgContext, transactionID string) (*ledger.Transaction, error) {
	return f.byID[transactionID], nil
}

type fakeSuggester struct {
	suggestions []docmatch.Suggestion
}

func (f *fakeSuggester) SuggestForTransaction(ctx context.Context, org ledger.OrgContext, tx *ledger.Transaction) ([]docmatch.Suggestion, error) {
	return f.suggestions, nil
}

type fakeSubsRepo struct {
	subs []*ledger.DetectedSubscription
}

func (f *fakeSubsRepo) ReplaceSubscriptions(ctx context.Context, org ledger.OrgContext, subs []*ledger.DetectedSubscription) error {
	f.subs = subs
	return nil
}

func (f *fakeSubsRepo) ListSubscriptions(ctx context.Context, org ledger.OrgContext) ([]*ledger.DetectedSubscription, error) {
	return f.subs, nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestUploadStatement_StoresFileAndDocument(t *testing.T) {
	docs := &fakeDocRepo{}
	storage := &fakeStorage{}
	h := NewStatementsHandler(docs, storage, &fakePublisher{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/statements/upload?filename=jan.csv", strings.NewReader("Date;Amount\n"))
	rec := httptest.NewRecorder()
	h.UploadStatement(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["document_id"] == "" {
		t.Error("response must carry a document_id")
	}
	if !strings.HasPrefix(resp["gcs_uri"], "gs://test-bucket/statements/") {
		t.Errorf("gcs_uri = %q", resp["gcs_uri"])
	}
	if len(docs.inserted) != 1 {
		t.Fatalf("inserted %d documents, want 1", len(docs.inserted))
	}
	if docs.inserted[0].ChecksumSHA256 == "" {
		t.Error("stored document must carry the content checksum")
	}
	if docs.inserted[0].OriginalFilename != "jan.csv" {
		t.Errorf("filename = %q", docs.inserted[0].OriginalFilename)
	}
}

func TestUploadStatement_DuplicateIsConflict(t *testing.T) {
	body := []byte("Date;Amount\n2024-01-05;-19,99\n")

	docs := &fakeDocRepo{}
	storage := &fakeStorage{}
	h := NewStatementsHandler(docs, storage, &fakePublisher{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/statements/upload", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.UploadStatement(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first upload status = %d", rec.Code)
	}

	docs.byChecksum = map[string]*ledger.Document{
		docs.inserted[0].ChecksumSHA256: docs.inserted[0],
	}

	req = httptest.NewRequest(http.MethodPost, "/api/statements/upload", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	h.UploadStatement(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate upload status = %d, want 409", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["document_id"] != docs.inserted[0].DocumentID {
		t.Errorf("conflict must report the existing document id, got %q", resp["document_id"])
	}
	if len(docs.inserted) != 1 {
		t.Errorf("duplicate upload must not insert a second document")
	}
}

func TestUploadStatement_EmptyBodyRejected(t *testing.T) {
	h := NewStatementsHandler(&fakeDocRepo{}, &fakeStorage{}, &fakePublisher{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/statements/upload", strings.NewReader(""))
	rec := httptest.NewRecorder()
	h.UploadStatement(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEnqueueIngest_PublishesTask(t *testing.T) {
	pub := &fakePublisher{}
	h := NewStatementsHandler(&fakeDocRepo{}, &fakeStorage{}, pub, testLogger())

	body := `{"document_id":"doc-1","gcs_uri":"gs://b/statements/doc-1.csv"}`
	req := httptest.NewRequest(http.MethodPost, "/api/statements/ingest", strings.NewReader(body))
	req.Header.Set("X-Org-ID", "org-7")
	rec := httptest.NewRecorder()
	h.EnqueueIngest(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(pub.tasks) != 1 {
		t.Fatalf("published %d tasks, want 1", len(pub.tasks))
	}
	task := pub.tasks[0]
	if task.Type != jobs.JobTypeIngestStatement {
		t.Errorf("task type = %q", task.Type)
	}
	if task.DocumentID != "doc-1" || task.GCSURI != "gs://b/statements/doc-1.csv" {
		t.Errorf("task = %+v", task)
	}
}

func TestEnqueueIngest_ResponseIndependentOfWorker(t *testing.T) {
	pub := &mutatingPublisher{}
	h := NewStatementsHandler(&fakeDocRepo{}, &fakeStorage{}, pub, testLogger())

	body := `{"document_id":"doc-1","gcs_uri":"gs://b/statements/doc-1.csv"}`
	req := httptest.NewRequest(http.MethodPost, "/api/statements/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.EnqueueIngest(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != string(jobs.JobStatusPending) {
		t.Errorf("status = %q, want pending regardless of worker progress", resp["status"])
	}
	if resp["job_id"] == "" || resp["job_id"] != pub.tasks[0].JobID {
		t.Errorf("job_id = %q, want the id the task was enqueued with (%q)", resp["job_id"], pub.tasks[0].JobID)
	}
}

func TestEnqueueIngest_MissingFieldsRejected(t *testing.T) {
	pub := &fakePublisher{}
	h := NewStatementsHandler(&fakeDocRepo{}, &fakeStorage{}, pub, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/statements/ingest", strings.NewReader(`{"document_id":"doc-1"}`))
	rec := httptest.NewRecorder()
	h.EnqueueIngest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(pub.tasks) != 0 {
		t.Error("invalid request must not publish a task")
	}
}

func TestListTransactions_InvalidDateRejected(t *testing.T) {
	h := NewTransactionsHandler(&fakeLedgerRepo{}, &fakeDocRepo{}, &fakeSuggester{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/transactions?from=05.01.2024", nil)
	rec := httptest.NewRecorder()
	h.ListTransactions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListTransactions_EmptyResultIsEmptyArray(t *testing.T) {
	h := NewTransactionsHandler(&fakeLedgerRepo{}, &fakeDocRepo{}, &fakeSuggester{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	rec := httptest.NewRecorder()
	h.ListTransactions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestGetSuggestions_UnknownTransactionIs404(t *testing.T) {
	h := NewTransactionsHandler(&fakeLedgerRepo{}, &fakeDocRepo{}, &fakeSuggester{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/transactions/tx-missing/suggestions", nil)
	rec := httptest.NewRecorder()
	h.GetSuggestions(rec, req, "tx-missing")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetSuggestions_ReturnsRankedMatches(t *testing.T) {
	repo := &fakeLedgerRepo{byID: map[string]*ledger.Transaction{
		"tx-1": {
			TransactionID: "tx-1",
			BookingDate:   civil.Date{Year: 2024, Month: 3, Day: 15},
			Amount:        1230.00,
			Currency:      "PLN",
			Direction:     ledger.DirectionOut,
		},
	}}
	sugg := &fakeSuggester{suggestions: []docmatch.Suggestion{
		{DocumentID: "doc-1", Score: 0.85, Confidence: "high"},
		{DocumentID: "doc-2", Score: 0.60, Confidence: "low"},
	}}
	h := NewTransactionsHandler(repo, &fakeDocRepo{}, sugg, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/transactions/tx-1/suggestions", nil)
	rec := httptest.NewRecorder()
	h.GetSuggestions(rec, req, "tx-1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		TransactionID string                `json:"transaction_id"`
		Suggestions   []docmatch.Suggestion `json:"suggestions"`
		Count         int                   `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 2 || len(resp.Suggestions) != 2 {
		t.Fatalf("count = %d, suggestions = %d", resp.Count, len(resp.Suggestions))
	}
	if resp.Suggestions[0].DocumentID != "doc-1" {
		t.Errorf("first suggestion = %q", resp.Suggestions[0].DocumentID)
	}
}

func TestLinkDocument_RecordsManualLink(t *testing.T) {
	repo := &fakeLedgerRepo{byID: map[string]*ledger.Transaction{
		"tx-1": {TransactionID: "tx-1"},
	}}
	docs := &fakeDocRepo{}
	h := NewTransactionsHandler(repo, docs, &fakeSuggester{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/transactions/tx-1/documents", strings.NewReader(`{"document_id":"doc-9"}`))
	rec := httptest.NewRecorder()
	h.LinkDocument(rec, req, "tx-1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(docs.linked) != 1 || docs.linked[0] != "tx-1:doc-9:manual" {
		t.Errorf("linked = %v", docs.linked)
	}
}

func TestListSubscriptions_MonthlyTotalCountsActiveOnly(t *testing.T) {
	subs := &fakeSubsRepo{subs: []*ledger.DetectedSubscription{
		{VendorKey: "netflix:43.00", Cadence: ledger.CadenceMonthly, AvgAmount: 43.00, Active: true},
		{VendorKey: "spotify:19.99", Cadence: ledger.CadenceMonthly, AvgAmount: 19.99, Active: true},
		{VendorKey: "old gym:120.00", Cadence: ledger.CadenceMonthly, AvgAmount: 120.00, Active: false},
	}}
	h := NewSubscriptionsHandler(subs, &fakePublisher{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
	rec := httptest.NewRecorder()
	h.ListSubscriptions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Count        int     `json:"count"`
		MonthlyTotal float64 `json:"monthly_total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("count = %d, want 3", resp.Count)
	}
	if diff := resp.MonthlyTotal - 62.99; diff > 0.001 || diff < -0.001 {
		t.Errorf("monthly_total = %v, want 62.99", resp.MonthlyTotal)
	}
}

func TestEnqueueDetect_PublishesTaskForOrg(t *testing.T) {
	pub := &mutatingPublisher{}
	h := NewSubscriptionsHandler(&fakeSubsRepo{}, pub, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/subscriptions/detect", nil)
	rec := httptest.NewRecorder()
	h.EnqueueDetect(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(pub.tasks) != 1 || pub.tasks[0].Type != jobs.JobTypeDetectRecurring {
		t.Errorf("tasks = %+v", pub.tasks)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != string(jobs.JobStatusPending) {
		t.Errorf("status = %q, want pending regardless of worker progress", resp["status"])
	}
	if resp["job_id"] != pub.tasks[0].JobID {
		t.Errorf("job_id = %q, want %q", resp["job_id"], pub.tasks[0].JobID)
	}
}

func TestCleanFilename(t *testing.T) {
	cases := []struct {
		raw, want string
	}{
		{"", "statement.csv"},
		{"jan.csv", "jan.csv"},
		{"../../etc/passwd", "passwd"},
		{"folder/report.csv?v=2", "report.csv"},
	}
	for _, c := range cases {
		if got := cleanFilename(c.raw, "statement.csv"); got != c.want {
			t.Errorf("cleanFilename(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestMetaFromQuery(t *testing.T) {
	meta, err := metaFromQuery("FV/12/2024", "ACME", "1230.00", "2024-03-01", "2024-03-15", "pln")
	if err != nil {
		t.Fatalf("metaFromQuery: %v", err)
	}
	if meta.InvoiceNo != "FV/12/2024" || meta.IssuerName != "ACME" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.TotalGross == nil || *meta.TotalGross != 1230.00 {
		t.Errorf("total = %v", meta.TotalGross)
	}
	if meta.IssueDate == nil || meta.IssueDate.Month != time.March {
		t.Errorf("issue date = %v", meta.IssueDate)
	}
	if meta.Currency != "PLN" {
		t.Errorf("currency = %q, want PLN", meta.Currency)
	}

	if _, err := metaFromQuery("", "", "abc", "", "", ""); err == nil {
		t.Error("invalid total_gross must be rejected")
	}
	if _, err := metaFromQuery("", "", "", "01.03.2024", "", ""); err == nil {
		t.Error("invalid issue_date must be rejected")
	}
}
