package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/jstachowiak/opsledger/internal/ledger"
	"github.com/jstachowiak/opsledger/internal/store"
)

// ReplaceSubscriptions swaps the organisation's detected subscription set
// wholesale: delete everything, then insert the new rows.
func (r *Repository) ReplaceSubscriptions(ctx context.Context, org ledger.OrgContext, subs []*ledger.DetectedSubscription) error {
	return ReplaceSubscriptionsWithClient(ctx, r.client, r.cfg, org, subs)
}

// ReplaceSubscriptionsWithClient is the shared-client variant of
// ReplaceSubscriptions.
func ReplaceSubscriptionsWithClient(ctx context.Context, client *bigquery.Client, cfg Config, org ledger.OrgContext, subs []*ledger.DetectedSubscription) error {
	q := client.Query(fmt.Sprintf(`
		DELETE FROM %s
		WHERE org_id = @org_id
	`, cfg.table(subscriptionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "org_id", Value: org.OrgID},
	}
	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("ReplaceSubscriptions: deleting previous set: %w", err)
	}

	if len(subs) == 0 {
		return nil
	}

	now := time.Now()
	rows := make([]*store.SubscriptionRow, 0, len(subs))
	for _, s := range subs {
		row := store.SubscriptionToRow(s)
		row.DetectedTS = now
		rows = append(rows, row)
	}

	inserter := client.DatasetInProject(cfg.ProjectID, cfg.DatasetID).Table(subscriptionsTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("ReplaceSubscriptions: inserting rows: %w", err)
	}
	return nil
}

// ListSubscriptions returns the stored subscription set in vendor key order.
func (r *Repository) ListSubscriptions(ctx context.Context, org ledger.OrgContext) ([]*ledger.DetectedSubscription, error) {
	return ListSubscriptionsWithClient(ctx, r.client, r.cfg, org)
}

// ListSubscriptionsWithClient is the shared-client variant of
// ListSubscriptions.
func ListSubscriptionsWithClient(ctx context.Context, client *bigquery.Client, cfg Config, org ledger.OrgContext) ([]*ledger.DetectedSubscription, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			subscription_id,
			org_id,
			vendor_key,
			display_name,
			cadence,
			avg_amount,
			amount_tolerance,
			currency,
			first_seen_date,
			last_charge_date,
			next_expected_date,
			active,
			confidence,
			source,
			transaction_ids,
			detected_ts
		FROM %s
		WHERE org_id = @org_id
		ORDER BY vendor_key
	`, cfg.table(subscriptionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "org_id", Value: org.OrgID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListSubscriptions: reading query: %w", err)
	}

	var subs []*ledger.DetectedSubscription
	for {
		var row store.SubscriptionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListSubscriptions: iterating: %w", err)
		}
		subs = append(subs, store.SubscriptionFromRow(&row))
	}
	return subs, nil
}
