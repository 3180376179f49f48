package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/jstachowiak/opsledger/internal/ledger"
	"github.com/jstachowiak/opsledger/internal/store"
)

// StartImportRun inserts a RUNNING import run row and returns its id.
func (r *Repository) StartImportRun(ctx context.Context, org ledger.OrgContext, documentID string) (string, error) {
	return StartImportRunWithClient(ctx, r.client, r.cfg, org, documentID)
}

// StartImportRunWithClient is the shared-client variant of StartImportRun.
func StartImportRunWithClient(ctx context.Context, client *bigquery.Client, cfg Config, org ledger.OrgContext, documentID string) (string, error) {
	importRunID := uuid.NewString()

	q := client.Query(fmt.Sprintf(`
		INSERT %s (
			import_run_id,
			org_id,
			document_id,
			started_ts,
			status
		)
		VALUES (
			@import_run_id,
			@org_id,
			@document_id,
			@started_ts,
			@status
		)
	`, cfg.table(importRunsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "import_run_id", Value: importRunID},
		{Name: "org_id", Value: org.OrgID},
		{Name: "document_id", Value: documentID},
		{Name: "started_ts", Value: time.Now()},
		{Name: "status", Value: "RUNNING"},
	}

	if err := runDML(ctx, q); err != nil {
		return "", fmt.Errorf("StartImportRun: %w", err)
	}
	return importRunID, nil
}

// FinishImportRun records a run's outcome: status, failing step if any, and
// the row counts.
func (r *Repository) FinishImportRun(ctx context.Context, importRunID string, out store.ImportRunOutcome) error {
	return FinishImportRunWithClient(ctx, r.client, r.cfg, importRunID, out)
}

// FinishImportRunWithClient is the shared-client variant of FinishImportRun.
func FinishImportRunWithClient(ctx context.Context, client *bigquery.Client, cfg Config, importRunID string, out store.ImportRunOutcome) error {
	errMsg := out.ErrorMessage
	const maxLen = 2000
	if len(errMsg) > maxLen {
		errMsg = errMsg[:maxLen]
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    step = @step,
		    error_message = @error_message,
		    dialect = @dialect,
		    finished_ts = @finished_ts,
		    rows_parsed = @rows_parsed,
		    rows_valid = @rows_valid,
		    rows_invalid = @rows_invalid,
		    rows_inserted = @rows_inserted,
		    rows_skipped = @rows_skipped
		WHERE import_run_id = @import_run_id
	`, cfg.table(importRunsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: out.Status},
		{Name: "step", Value: out.Step},
		{Name: "error_message", Value: errMsg},
		{Name: "dialect", Value: out.Dialect},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "rows_parsed", Value: int64(out.RowsParsed)},
		{Name: "rows_valid", Value: int64(out.RowsValid)},
		{Name: "rows_invalid", Value: int64(out.RowsInvalid)},
		{Name: "rows_inserted", Value: int64(out.RowsInserted)},
		{Name: "rows_skipped", Value: int64(out.RowsSkipped)},
		{Name: "import_run_id", Value: importRunID},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("FinishImportRun: %w", err)
	}
	return nil
}
