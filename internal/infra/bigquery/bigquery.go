// Package bigquery implements the store repositories on BigQuery. Every
// operation comes in a pair: a convenience function that opens its own
// client, and a *WithClient variant for callers that hold a shared client.
package bigquery

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/bigquery"
)

const (
	transactionsTable  = "transactions"
	subscriptionsTable = "detected_subscriptions"
	documentsTable     = "documents"
	importRunsTable    = "import_runs"
	linksTable         = "transaction_documents"
)

// Config locates the dataset all repositories operate on.
type Config struct {
	ProjectID string
	DatasetID string
}

// ConfigFromEnv reads BQ_PROJECT_ID and BQ_DATASET_ID, with the ledger
// dataset as the default.
func ConfigFromEnv() Config {
	cfg := Config{
		ProjectID: os.Getenv("BQ_PROJECT_ID"),
		DatasetID: "opsledger",
	}
	if ds := os.Getenv("BQ_DATASET_ID"); ds != "" {
		cfg.DatasetID = ds
	}
	return cfg
}

func (c Config) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", c.ProjectID, c.DatasetID, name)
}

// Repository implements the store interfaces over one shared client.
type Repository struct {
	client *bigquery.Client
	cfg    Config
}

// NewRepository opens a client for the configured project.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return NewRepositoryWithClient(client, cfg), nil
}

// NewRepositoryWithClient wraps an existing client.
func NewRepositoryWithClient(client *bigquery.Client, cfg Config) *Repository {
	return &Repository{client: client, cfg: cfg}
}

// Close closes the underlying client.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// runDML runs a parameterized DML statement and waits for completion.
func runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
