// Package handlers implements the HTTP API: statement uploads, transaction
// queries, subscription detection and document matching suggestions.
package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jstachowiak/opsledger/internal/api/middleware"
	"github.com/jstachowiak/opsledger/internal/docmatch"
	"github.com/jstachowiak/opsledger/internal/gcs"
	"github.com/jstachowiak/opsledger/internal/jobs"
	"github.com/jstachowiak/opsledger/internal/ledger"
	"github.com/jstachowiak/opsledger/internal/store"
)

// maxUploadBytes bounds statement and document uploads.
const maxUploadBytes = 32 << 20

// StatementsHandler handles statement upload and ingestion endpoints.
type StatementsHandler struct {
	docs      store.DocumentRepository
	storage   gcs.StorageService
	publisher jobs.Publisher
	log       zerolog.Logger
}

func NewStatementsHandler(docs store.DocumentRepository, storage gcs.StorageService, publisher jobs.Publisher, log zerolog.Logger) *StatementsHandler {
	return &StatementsHandler{
		docs:      docs,
		storage:   storage,
		publisher: publisher,
		log:       log,
	}
}

// UploadStatement handles POST /api/statements/upload?filename=...
// The request body is the raw statement file. A file already uploaded (same
// checksum) is reported as a conflict with the existing document id.
func (h *StatementsHandler) UploadStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	org := middleware.OrgFromContext(ctx)

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(data) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Empty file")
		return
	}

	filename := cleanFilename(r.URL.Query().Get("filename"), "statement.csv")

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	existing, err := h.docs.FindDocumentByChecksum(ctx, org, checksum)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to check for duplicate upload")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to check for duplicate upload")
		return
	}
	if existing != nil {
		middleware.WriteJSON(w, http.StatusConflict, map[string]string{
			"error":       "File already uploaded",
			"document_id": existing.DocumentID,
		})
		return
	}

	documentID := uuid.NewString()
	objectName := fmt.Sprintf("statements/%s/%s/%s-%s", org.OrgID, time.Now().Format("2006/01/02"), documentID, filename)

	gcsURI, err := h.storage.UploadBytes(ctx, objectName, data)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upload statement to storage")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}

	doc := &ledger.Document{
		DocumentID:       documentID,
		OrgID:            org.OrgID,
		OriginalFilename: filename,
		StorageURI:       gcsURI,
		ChecksumSHA256:   checksum,
		UploadTS:         time.Now(),
	}
	if err := h.docs.InsertDocument(ctx, doc); err != nil {
		h.log.Error().Err(err).Msg("Failed to insert statement document")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save document metadata")
		return
	}

	h.log.Info().
		Str("org_id", org.OrgID).
		Str("document_id", documentID).
		Str("gcs_uri", gcsURI).
		Int("bytes", len(data)).
		Msg("Statement uploaded")

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"document_id": documentID,
		"gcs_uri":     gcsURI,
		"status":      "uploaded",
	})
}

// EnqueueIngest handles POST /api/statements/ingest. It queues the import of
// an uploaded statement.
func (h *StatementsHandler) EnqueueIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string `json:"document_id"`
		GCSURI     string `json:"gcs_uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DocumentID == "" || req.GCSURI == "" {
		middleware.WriteError(w, http.StatusBadRequest, "document_id and gcs_uri are required")
		return
	}

	ctx := r.Context()
	org := middleware.OrgFromContext(ctx)

	// The id is assigned here, not read back from the task: once Publish
	// returns, a worker may already be mutating it.
	jobID := uuid.NewString()
	task := &jobs.Task{
		JobID:      jobID,
		Type:       jobs.JobTypeIngestStatement,
		OrgID:      org.OrgID,
		DocumentID: req.DocumentID,
		GCSURI:     req.GCSURI,
	}
	if err := h.publisher.Publish(ctx, task); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue ingest task")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue ingest task")
		return
	}

	h.log.Info().Str("job_id", jobID).Str("document_id", req.DocumentID).Msg("Ingest task enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":      jobID,
		"document_id": req.DocumentID,
		"status":      string(jobs.JobStatusPending),
	})
}

// DocumentsHandler handles supporting document endpoints (invoices,
// receipts).
type DocumentsHandler struct {
	docs    store.DocumentRepository
	storage gcs.StorageService
	log     zerolog.Logger
}

func NewDocumentsHandler(docs store.DocumentRepository, storage gcs.StorageService, log zerolog.Logger) *DocumentsHandler {
	return &DocumentsHandler{docs: docs, storage: storage, log: log}
}

// ListDocuments handles GET /api/documents.
func (h *DocumentsHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	org := middleware.OrgFromContext(ctx)

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	docs, err := h.docs.ListRecentDocuments(ctx, org, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list documents")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}
	if docs == nil {
		docs = []*ledger.Document{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
	})
}

// UploadDocument handles POST /api/documents/upload. The body is the raw
// file; invoice metadata comes in query parameters so the file needs no
// parsing here.
func (h *DocumentsHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	org := middleware.OrgFromContext(ctx)

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil || len(data) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Empty or unreadable file")
		return
	}

	q := r.URL.Query()
	filename := cleanFilename(q.Get("filename"), "document.pdf")

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	existing, err := h.docs.FindDocumentByChecksum(ctx, org, checksum)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to check for duplicate upload")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to check for duplicate upload")
		return
	}
	if existing != nil {
		middleware.WriteJSON(w, http.StatusConflict, map[string]string{
			"error":       "File already uploaded",
			"document_id": existing.DocumentID,
		})
		return
	}

	meta, err := metaFromQuery(q.Get("invoice_no"), q.Get("issuer_name"), q.Get("total_gross"), q.Get("issue_date"), q.Get("due_date"), q.Get("currency"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	documentID := uuid.NewString()
	objectName := fmt.Sprintf("documents/%s/%s/%s-%s", org.OrgID, time.Now().Format("2006/01/02"), documentID, filename)

	gcsURI, err := h.storage.UploadBytes(ctx, objectName, data)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upload document to storage")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}

	doc := &ledger.Document{
		DocumentID:       documentID,
		OrgID:            org.OrgID,
		OriginalFilename: filename,
		StorageURI:       gcsURI,
		ChecksumSHA256:   checksum,
		UploadTS:         time.Now(),
		Meta:             meta,
	}
	if err := h.docs.InsertDocument(ctx, doc); err != nil {
		h.log.Error().Err(err).Msg("Failed to insert document")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save document metadata")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"document_id": documentID,
		"gcs_uri":     gcsURI,
		"status":      "uploaded",
	})
}

func metaFromQuery(invoiceNo, issuerName, totalGross, issueDate, dueDate, currency string) (ledger.DocumentMeta, error) {
	meta := ledger.DocumentMeta{
		InvoiceNo:  invoiceNo,
		IssuerName: issuerName,
		Currency:   strings.ToUpper(currency),
	}
	if totalGross != "" {
		v, err := strconv.ParseFloat(totalGross, 64)
		if err != nil {
			return meta, fmt.Errorf("invalid total_gross")
		}
		meta.TotalGross = &v
	}
	if issueDate != "" {
		d, err := civil.ParseDate(issueDate)
		if err != nil {
			return meta, fmt.Errorf("invalid issue_date, want YYYY-MM-DD")
		}
		meta.IssueDate = &d
	}
	if dueDate != "" {
		d, err := civil.ParseDate(dueDate)
		if err != nil {
			return meta, fmt.Errorf("invalid due_date, want YYYY-MM-DD")
		}
		meta.DueDate = &d
	}
	return meta, nil
}

func cleanFilename(raw, fallback string) string {
	if raw == "" {
		return fallback
	}
	if idx := strings.Index(raw, "?"); idx > 0 {
		raw = raw[:idx]
	}
	return filepath.Base(raw)
}

// Suggester computes document suggestions for one transaction.
type Suggester interface {
	SuggestForTransaction(ctx context.Context, org ledger.OrgContext, tx *ledger.Transaction) ([]docmatch.Suggestion, error)
}

// TransactionsHandler handles transaction queries, suggestions and links.
type TransactionsHandler struct {
	ledgerRepo store.LedgerRepository
	docs       store.DocumentRepository
	suggester  Suggester
	log        zerolog.Logger
}

func NewTransactionsHandler(ledgerRepo store.LedgerRepository, docs store.DocumentRepository, suggester Suggester, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		ledgerRepo: ledgerRepo,
		docs:       docs,
		suggester:  suggester,
		log:        log,
	}
}

// ListTransactions handles GET /api/transactions with optional from, to,
// direction, category, q and limit parameters.
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	org := middleware.OrgFromContext(ctx)

	query := r.URL.Query()
	filter := ledger.TransactionFilter{
		Direction: ledger.Direction(query.Get("direction")),
		Category:  query.Get("category"),
		Search:    query.Get("q"),
	}

	if s := query.Get("from"); s != "" {
		d, err := civil.ParseDate(s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid from date, want YYYY-MM-DD")
			return
		}
		filter.From = &d
	}
	if s := query.Get("to"); s != "" {
		d, err := civil.ParseDate(s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid to date, want YYYY-MM-DD")
			return
		}
		filter.To = &d
	}
	if s := query.Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	txs, err := h.ledgerRepo.ListTransactions(ctx, org, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}
	if txs == nil {
		txs = []*ledger.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, txs)
}

// GetSuggestions handles GET /api/transactions/{id}/suggestions.
func (h *TransactionsHandler) GetSuggestions(w http.ResponseWriter, r *http.Request, transactionID string) {
	ctx := r.Context()
	org := middleware.OrgFromContext(ctx)

	tx, err := h.ledgerRepo.GetTransaction(ctx, org, transactionID)
	if err != nil {
		h.log.Error().Err(err).Str("transaction_id", transactionID).Msg("Failed to load transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load transaction")
		return
	}
	if tx == nil {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}

	suggestions, err := h.suggester.SuggestForTransaction(ctx, org, tx)
	if err != nil {
		h.log.Error().Err(err).Str("transaction_id", transactionID).Msg("Failed to compute suggestions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute suggestions")
		return
	}
	if suggestions == nil {
		suggestions = []docmatch.Suggestion{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transaction_id": transactionID,
		"suggestions":    suggestions,
		"count":          len(suggestions),
	})
}

// LinkDocument handles POST /api/transactions/{id}/documents. Linking is
// always an explicit user action; suggestions alone never create links.
func (h *TransactionsHandler) LinkDocument(w http.ResponseWriter, r *http.Request, transactionID string) {
	var req struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "document_id is required")
		return
	}

	ctx := r.Context()
	org := middleware.OrgFromContext(ctx)

	tx, err := h.ledgerRepo.GetTransaction(ctx, org, transactionID)
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load transaction")
		return
	}
	if tx == nil {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}

	if err := h.docs.LinkTransactionDocument(ctx, org, transactionID, req.DocumentID, "manual"); err != nil {
		h.log.Error().Err(err).Msg("Failed to link document")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to link document")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"transaction_id": transactionID,
		"document_id":    req.DocumentID,
		"status":         "linked",
	})
}

// SubscriptionsHandler handles detected subscription endpoints.
type SubscriptionsHandler struct {
	subs      store.SubscriptionRepository
	publisher jobs.Publisher
	log       zerolog.Logger
}

func NewSubscriptionsHandler(subs store.SubscriptionRepository, publisher jobs.Publisher, log zerolog.Logger) *SubscriptionsHandler {
	return &SubscriptionsHandler{subs: subs, publisher: publisher, log: log}
}

// ListSubscriptions handles GET /api/subscriptions.
func (h *SubscriptionsHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	org := middleware.OrgFromContext(ctx)

	subs, err := h.subs.ListSubscriptions(ctx, org)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list subscriptions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []*ledger.DetectedSubscription{}
	}

	monthlyTotal := 0.0
	for _, s := range subs {
		if s.Active && s.Cadence == ledger.CadenceMonthly {
			monthlyTotal += s.AvgAmount
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": subs,
		"count":         len(subs),
		"monthly_total": monthlyTotal,
	})
}

// EnqueueDetect handles POST /api/subscriptions/detect. Detection is a full
// recompute, so queuing it twice is harmless.
func (h *SubscriptionsHandler) EnqueueDetect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	org := middleware.OrgFromContext(ctx)

	jobID := uuid.NewString()
	task := &jobs.Task{
		JobID: jobID,
		Type:  jobs.JobTypeDetectRecurring,
		OrgID: org.OrgID,
	}
	if err := h.publisher.Publish(ctx, task); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue detection task")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue detection task")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(jobs.JobStatusPending),
	})
}

// TasksHandler handles background task status endpoints.
type TasksHandler struct {
	store jobs.TaskStore
	log   zerolog.Logger
}

func NewTasksHandler(store jobs.TaskStore, log zerolog.Logger) *TasksHandler {
	return &TasksHandler{store: store, log: log}
}

// GetTask handles GET /api/jobs/{id}.
func (h *TasksHandler) GetTask(w http.ResponseWriter, r *http.Request, jobID string) {
	task, err := h.store.GetTask(r.Context(), jobID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /api/jobs.
func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	org := middleware.OrgFromContext(ctx)

	query := r.URL.Query()
	filter := jobs.TaskFilter{
		OrgID:      org.OrgID,
		DocumentID: query.Get("document_id"),
		Type:       jobs.JobType(query.Get("type")),
		Status:     jobs.JobStatus(query.Get("status")),
	}
	if s := query.Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			filter.Limit = n
		}
	}
	if s := query.Get("offset"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			filter.Offset = n
		}
	}

	tasks, err := h.store.ListTasks(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  tasks,
		"count": len(tasks),
	})
}
