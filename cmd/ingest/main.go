package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jstachowiak/opsledger/internal/categorize"
	"github.com/jstachowiak/opsledger/internal/dedupe"
	"github.com/jstachowiak/opsledger/internal/gcs"
	infraBQ "github.com/jstachowiak/opsledger/internal/infra/bigquery"
	"github.com/jstachowiak/opsledger/internal/ingest"
	"github.com/jstachowiak/opsledger/internal/ledger"
	"github.com/jstachowiak/opsledger/internal/logger"
	"github.com/jstachowiak/opsledger/internal/normalize"
	"github.com/jstachowiak/opsledger/internal/statement"
)

// One-shot statement import for local development and backfills. Reads a
// statement from a local path or a gs:// URI and runs the full pipeline
// against BigQuery.
func main() {
	log := logger.New()

	var (
		file       = flag.String("file", "", "local path of the statement file")
		gcsURI     = flag.String("gcs-uri", "", "GCS URI of the statement file (e.g. gs://bucket/statements/jan.csv)")
		orgID      = flag.String("org", "default", "organisation id to import into")
		documentID = flag.String("document-id", "", "source document id to stamp on imported rows")
		currency   = flag.String("currency", "PLN", "default currency for statements that name none")
	)
	flag.Parse()

	if (*file == "") == (*gcsURI == "") {
		log.Fatal().Msg("Exactly one of --file or --gcs-uri is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	var data []byte
	var err error
	if *file != "" {
		data, err = os.ReadFile(*file)
	} else {
		bucket, _, splitErr := gcsBucket(*gcsURI)
		if splitErr != nil {
			log.Fatal().Err(splitErr).Msg("Invalid GCS URI")
		}
		data, err = gcs.NewClient(bucket).Fetch(ctx, *gcsURI)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read statement")
	}

	repo, err := infraBQ.NewRepository(ctx, infraBQ.ConfigFromEnv())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()

	ingestor := ingest.New(
		statement.DefaultParser(),
		normalize.New(normalize.Options{DefaultCurrency: *currency}),
		categorize.New(categorize.DefaultRules()),
		dedupe.NewUpserter(repo),
		repo,
	)

	result := ingestor.IngestStatement(ctx, ledger.OrgContext{OrgID: *orgID}, *documentID, data)

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if !result.OK {
		os.Exit(1)
	}
}

func gcsBucket(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URI: %s", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed GCS URI: %s", uri)
	}
	return bucket, object, nil
}
