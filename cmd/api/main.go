package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jstachowiak/opsledger/internal/api/handlers"
	"github.com/jstachowiak/opsledger/internal/api/middleware"
	"github.com/jstachowiak/opsledger/internal/categorize"
	"github.com/jstachowiak/opsledger/internal/dedupe"
	"github.com/jstachowiak/opsledger/internal/docmatch"
	"github.com/jstachowiak/opsledger/internal/gcs"
	infraBQ "github.com/jstachowiak/opsledger/internal/infra/bigquery"
	"github.com/jstachowiak/opsledger/internal/ingest"
	"github.com/jstachowiak/opsledger/internal/jobs"
	"github.com/jstachowiak/opsledger/internal/jobs/inmemory"
	"github.com/jstachowiak/opsledger/internal/ledger"
	"github.com/jstachowiak/opsledger/internal/logger"
	"github.com/jstachowiak/opsledger/internal/normalize"
	"github.com/jstachowiak/opsledger/internal/recurring"
	"github.com/jstachowiak/opsledger/internal/statement"
)

func main() {
	var (
		port     = flag.String("port", "8080", "HTTP server port")
		bucket   = flag.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket for statement and document uploads (or set GCS_BUCKET env)")
		currency = flag.String("currency", "PLN", "default currency for statements that name none")
	)
	flag.Parse()

	log := logger.New()

	if *bucket == "" {
		log.Warn().Msg("No GCS bucket configured - uploads will fail")
	}

	ctx := context.Background()

	repo, err := infraBQ.NewRepository(ctx, infraBQ.ConfigFromEnv())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()

	storage := gcs.NewClient(*bucket)

	// Core services shared by the HTTP handlers and the background worker.
	ingestor := ingest.New(
		statement.DefaultParser(),
		normalize.New(normalize.Options{DefaultCurrency: *currency}),
		categorize.New(categorize.DefaultRules()),
		dedupe.NewUpserter(repo),
		repo,
	)
	detector := recurring.NewDetector(repo, repo)
	suggester := docmatch.NewService(docmatch.NewMatcher(docmatch.DefaultConfig()), repo)

	// Job infrastructure.
	taskStore := inmemory.NewStore()
	queue := inmemory.NewQueue(100, taskStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	taskHandler := func(ctx context.Context, task *jobs.Task) error {
		org := ledger.OrgContext{OrgID: task.OrgID}

		switch task.Type {
		case jobs.JobTypeIngestStatement:
			data, err := storage.Fetch(ctx, task.GCSURI)
			if err != nil {
				return fmt.Errorf("fetching statement: %w", err)
			}
			result := ingestor.IngestStatement(ctx, org, task.DocumentID, data)
			task.Result = result
			if !result.OK {
				return fmt.Errorf("import failed at step %s: %s", result.Step, result.Error)
			}
			return nil

		case jobs.JobTypeDetectRecurring:
			result, err := detector.Detect(ctx, org)
			if err != nil {
				return err
			}
			task.Result = result
			return nil

		default:
			return fmt.Errorf("unexpected task type: %s", task.Type)
		}
	}

	go func() {
		log.Info().Msg("Starting task worker")
		if err := queue.Start(workerCtx, taskHandler); err != nil {
			log.Error().Err(err).Msg("Task worker stopped with error")
		}
	}()

	statementsHandler := handlers.NewStatementsHandler(repo, storage, queue, log)
	documentsHandler := handlers.NewDocumentsHandler(repo, storage, log)
	transactionsHandler := handlers.NewTransactionsHandler(repo, repo, suggester, log)
	subscriptionsHandler := handlers.NewSubscriptionsHandler(repo, queue, log)
	tasksHandler := handlers.NewTasksHandler(taskStore, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/statements/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			statementsHandler.UploadStatement(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/statements/ingest", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			statementsHandler.EnqueueIngest(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/documents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			documentsHandler.ListDocuments(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/documents/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			documentsHandler.UploadDocument(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			transactionsHandler.ListTransactions(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// /api/transactions/{id}/suggestions and /api/transactions/{id}/documents
	mux.HandleFunc("/api/transactions/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
		switch {
		case strings.HasSuffix(rest, "/suggestions") && r.Method == http.MethodGet:
			transactionID := strings.TrimSuffix(rest, "/suggestions")
			if transactionID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Transaction ID is required")
				return
			}
			transactionsHandler.GetSuggestions(w, r, transactionID)
		case strings.HasSuffix(rest, "/documents") && r.Method == http.MethodPost:
			transactionID := strings.TrimSuffix(rest, "/documents")
			if transactionID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Transaction ID is required")
				return
			}
			transactionsHandler.LinkDocument(w, r, transactionID)
		default:
			middleware.WriteError(w, http.StatusNotFound, "Not found")
		}
	})

	mux.HandleFunc("/api/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			subscriptionsHandler.ListSubscriptions(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/subscriptions/detect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			subscriptionsHandler.EnqueueDetect(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			tasksHandler.ListTasks(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			tasksHandler.GetTask(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Org(mux),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping task queue")
	}
	if err := queue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close task queue")
	}

	log.Info().Msg("Server exited")
}
