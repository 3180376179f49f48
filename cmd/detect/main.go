package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	infraBQ "github.com/jstachowiak/opsledger/internal/infra/bigquery"
	"github.com/jstachowiak/opsledger/internal/ledger"
	"github.com/jstachowiak/opsledger/internal/logger"
	"github.com/jstachowiak/opsledger/internal/recurring"
)

// One-shot subscription detection. Recomputes the stored subscription set
// for one organisation from its outgoing transaction history.
func main() {
	log := logger.New()

	orgID := flag.String("org", "default", "organisation id to run detection for")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := infraBQ.NewRepository(ctx, infraBQ.ConfigFromEnv())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()

	detector := recurring.NewDetector(repo, repo)

	result, err := detector.Detect(ctx, ledger.OrgContext{OrgID: *orgID})
	if err != nil {
		log.Fatal().Err(err).Msg("Detection failed")
	}

	fmt.Printf("Detected %d subscriptions from %d transactions (%d matched), monthly total %.2f\n",
		len(result.Subscriptions), result.Processed, result.Matched, result.MonthlyTotal)
	for _, s := range result.Subscriptions {
		status := "inactive"
		if s.Active {
			status = "active"
		}
		fmt.Printf("  %-40s %8.2f %s  %s  next %s  confidence %d%%\n",
			s.DisplayName, s.AvgAmount, s.Currency, status, s.NextExpectedDate, s.Confidence)
	}
}
