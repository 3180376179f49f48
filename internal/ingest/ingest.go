// Package ingest orchestrates statement imports: parse, normalize,
// categorize, upsert. A failed import is a result, not a panic; the caller
// always gets counts and the step that stopped the run.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/jstachowiak/opsledger/internal/dedupe"
	"github.com/jstachowiak/opsledger/internal/ledger"
	"github.com/jstachowiak/opsledger/internal/logger"
	"github.com/jstachowiak/opsledger/internal/normalize"
	"github.com/jstachowiak/opsledger/internal/statement"
	"github.com/jstachowiak/opsledger/internal/store"
)

// Step names reported in results, beyond the parser's own.
const (
	StepMapZeroValid = "map_0_valid"
	StepInsert       = "insert"
)

// Result is the outcome of one import. Expected failures (unparseable file,
// no valid rows) land here with OK=false instead of propagating as errors.
type Result struct {
	OK    bool   `json:"ok"`
	Step  string `json:"step,omitempty"`
	Error string `json:"error,omitempty"`

	Dialect string `json:"dialect,omitempty"`

	Parsed   int `json:"parsed"`
	Valid    int `json:"valid"`
	Invalid  int `json:"invalid"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// RunRecorder persists import-run bookkeeping. Nil disables it.
type RunRecorder interface {
	StartImportRun(ctx context.Context, org ledger.OrgContext, documentID string) (string, error)
	FinishImportRun(ctx context.Context, importRunID string, out store.ImportRunOutcome) error
}

// Normalizer maps parsed rows to transactions, counting unusable rows.
type Normalizer interface {
	Normalize(org ledger.OrgContext, sourceDocumentID string, rows []statement.Row) normalize.Result
}

// Categorizer assigns a category to a description.
type Categorizer interface {
	Categorize(description string) (category, subcategory string)
}

// Ingestor wires the import pipeline together.
type Ingestor struct {
	parser      *statement.Parser
	normalizer  Normalizer
	categorizer Categorizer
	upserter    *dedupe.Upserter
	runs        RunRecorder
}

func New(parser *statement.Parser, normalizer Normalizer, categorizer Categorizer, upserter *dedupe.Upserter, runs RunRecorder) *Ingestor {
	return &Ingestor{
		parser:      parser,
		normalizer:  normalizer,
		categorizer: categorizer,
		upserter:    upserter,
		runs:        runs,
	}
}

// State is the shared state the pipeline steps pass along.
type State struct {
	Org              ledger.OrgContext
	SourceDocumentID string
	Data             []byte

	Rows    []statement.Row
	Dialect string

	Transactions []*ledger.Transaction
	Invalid      int

	Inserted int
	Skipped  int
}

// PipelineStep is one stage of the import.
type PipelineStep interface {
	Execute(ctx context.Context, state *State) error
}

// stepError tags a failure with the step it happened in.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return fmt.Sprintf("%s: %v", e.step, e.err) }
func (e *stepError) Unwrap() error { return e.err }

// IngestStatement runs the full import for one uploaded statement file.
func (ing *Ingestor) IngestStatement(ctx context.Context, org ledger.OrgContext, sourceDocumentID string, data []byte) *Result {
	log := logger.FromContext(ctx)

	runID := ""
	if ing.runs != nil {
		id, err := ing.runs.StartImportRun(ctx, org, sourceDocumentID)
		if err != nil {
			log.Error().Err(err).Str("document_id", sourceDocumentID).Msg("starting import run")
		} else {
			runID = id
		}
	}

	state := &State{Org: org, SourceDocumentID: sourceDocumentID, Data: data}
	steps := []PipelineStep{
		&ParseStep{Parser: ing.parser},
		&NormalizeStep{Normalizer: ing.normalizer},
		&CategorizeStep{Categorizer: ing.categorizer},
		&UpsertStep{Upserter: ing.upserter},
	}

	var failure error
	for _, step := range steps {
		if err := step.Execute(ctx, state); err != nil {
			failure = err
			break
		}
	}

	res := &Result{
		OK:       failure == nil,
		Dialect:  state.Dialect,
		Parsed:   len(state.Rows),
		Valid:    len(state.Transactions),
		Invalid:  state.Invalid,
		Inserted: state.Inserted,
		Skipped:  state.Skipped,
	}
	if failure != nil {
		res.Step = failingStep(failure)
		res.Error = failure.Error()
	}

	ing.finishRun(ctx, runID, res)

	evt := log.Info()
	if !res.OK {
		evt = log.Warn()
	}
	evt.
		Str("org_id", org.OrgID).
		Str("document_id", sourceDocumentID).
		Bool("ok", res.OK).
		Str("step", res.Step).
		Str("dialect", res.Dialect).
		Int("parsed", res.Parsed).
		Int("valid", res.Valid).
		Int("invalid", res.Invalid).
		Int("inserted", res.Inserted).
		Int("skipped", res.Skipped).
		Msg("statement import finished")

	return res
}

// failingStep extracts the step tag from a pipeline error.
func failingStep(err error) string {
	var perr *statement.ParseError
	if errors.As(err, &perr) {
		return string(perr.Step)
	}
	var serr *stepError
	if errors.As(err, &serr) {
		return serr.step
	}
	return StepInsert
}

func (ing *Ingestor) finishRun(ctx context.Context, runID string, res *Result) {
	if ing.runs == nil || runID == "" {
		return
	}
	out := store.ImportRunOutcome{
		Status:       "SUCCESS",
		Dialect:      res.Dialect,
		RowsParsed:   res.Parsed,
		RowsValid:    res.Valid,
		RowsInvalid:  res.Invalid,
		RowsInserted: res.Inserted,
		RowsSkipped:  res.Skipped,
	}
	if !res.OK {
		out.Status = "FAILED"
		out.Step = res.Step
		out.ErrorMessage = res.Error
	}
	if err := ing.runs.FinishImportRun(ctx, runID, out); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("import_run_id", runID).Msg("finishing import run")
	}
}
