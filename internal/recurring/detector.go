package recurring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jstachowiak/opsledger/internal/ledger"
	"github.com/jstachowiak/opsledger/internal/logger"
)

const (
	// activeWindowDays is how recently a monthly subscription must have
	// charged to count as active.
	activeWindowDays = 45
	// minOccurrences is the smallest group that can form a subscription.
	minOccurrences = 2
	// sourceAuto marks rows produced by detection, as opposed to manual
	// entries a user may add later.
	sourceAuto = "auto_detected"
)

// LedgerReader supplies the transactions a detection run scans.
type LedgerReader interface {
	ListTransactions(ctx context.Context, org ledger.OrgContext, f ledger.TransactionFilter) ([]*ledger.Transaction, error)
}

// SubscriptionStore persists the derived subscription set. Replace swaps the
// organisation's rows wholesale; detection never patches incrementally.
type SubscriptionStore interface {
	ReplaceSubscriptions(ctx context.Context, org ledger.OrgContext, subs []*ledger.DetectedSubscription) error
}

// Result summarises one detection run.
type Result struct {
	Subscriptions []*ledger.DetectedSubscription
	MonthlyTotal  float64 // sum of avg amounts of active monthly subscriptions
	Processed     int     // outgoing transactions scanned
	Matched       int     // transactions assigned to a subscription
}

// Detector recomputes the subscription set for an organisation from its
// outgoing transactions.
type Detector struct {
	reader LedgerReader
	store  SubscriptionStore
	now    func() time.Time
}

func NewDetector(reader LedgerReader, store SubscriptionStore) *Detector {
	return &Detector{reader: reader, store: store, now: time.Now}
}

// Detect scans the organisation's outgoing transactions, groups similar
// charges, classifies each group's cadence and replaces the stored
// subscription set with the groups classified as monthly. Running it twice
// over the same ledger yields the same result.
func (d *Detector) Detect(ctx context.Context, org ledger.OrgContext) (*Result, error) {
	log := logger.FromContext(ctx)

	txs, err := d.reader.ListTransactions(ctx, org, ledger.TransactionFilter{
		Direction: ledger.DirectionOut,
	})
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}

	groups := groupTransactions(txs)

	today := civil.DateOf(d.now())
	var subs []*ledger.DetectedSubscription
	matched := 0
	for _, g := range groups {
		if len(g) < minOccurrences {
			continue
		}
		cls := Classify(g[len(g)-1], g[:len(g)-1])
		if cls.Cadence != ledger.CadenceMonthly {
			continue
		}
		subs = append(subs, buildSubscription(org, g, cls, today))
		matched += len(g)
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].VendorKey < subs[j].VendorKey })

	if err := d.store.ReplaceSubscriptions(ctx, org, subs); err != nil {
		return nil, fmt.Errorf("replacing subscriptions: %w", err)
	}

	res := &Result{Subscriptions: subs, Processed: len(txs), Matched: matched}
	for _, s := range subs {
		if s.Active {
			res.MonthlyTotal += s.AvgAmount
		}
	}

	log.Info().
		Str("org_id", org.OrgID).
		Int("processed", res.Processed).
		Int("matched", res.Matched).
		Int("subscriptions", len(subs)).
		Float64("monthly_total", res.MonthlyTotal).
		Msg("recurring detection finished")
	logEvent(log, subs)

	return res, nil
}

func logEvent(log zerolog.Logger, subs []*ledger.DetectedSubscription) {
	for _, s := range subs {
		log.Debug().
			Str("vendor_key", s.VendorKey).
			Str("cadence", string(s.Cadence)).
			Int("confidence", s.Confidence).
			Bool("active", s.Active).
			Msg("detected subscription")
	}
}

// groupTransactions buckets outgoing transactions greedily: each transaction
// joins the first existing group whose seed it resembles in description,
// amount and currency. Groups come out sorted by booking date.
func groupTransactions(txs []*ledger.Transaction) [][]*ledger.Transaction {
	ordered := make([]*ledger.Transaction, len(txs))
	copy(ordered, txs)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].BookingDate.Before(ordered[j].BookingDate)
	})

	var groups [][]*ledger.Transaction
	for _, tx := range ordered {
		placed := false
		for gi, g := range groups {
			seed := g[0]
			if seed.Currency != tx.Currency {
				continue
			}
			if !SimilarDescriptions(seed.Description, tx.Description) {
				continue
			}
			if !SimilarAmounts(groupAvg(g), tx.Amount) {
				continue
			}
			groups[gi] = append(g, tx)
			placed = true
			break
		}
		if !placed {
			groups = append(groups, []*ledger.Transaction{tx})
		}
	}
	return groups
}

func groupAvg(g []*ledger.Transaction) float64 {
	sum := 0.0
	for _, tx := range g {
		sum += tx.Amount
	}
	return sum / float64(len(g))
}

func buildSubscription(org ledger.OrgContext, g []*ledger.Transaction, cls Classification, today civil.Date) *ledger.DetectedSubscription {
	avg := groupAvg(g)
	first := g[0]
	last := g[len(g)-1]

	ids := make([]string, 0, len(g))
	for _, tx := range g {
		ids = append(ids, tx.TransactionID)
	}

	lastDate := last.BookingDate
	return &ledger.DetectedSubscription{
		SubscriptionID:   uuid.NewString(),
		OrgID:            org.OrgID,
		VendorKey:        VendorKey(first.Description, first.Amount),
		DisplayName:      first.Description,
		Cadence:          cls.Cadence,
		AvgAmount:        avg,
		AmountTolerance:  amountJitter * avg,
		Currency:         first.Currency,
		FirstSeenDate:    first.BookingDate,
		LastChargeDate:   lastDate,
		NextExpectedDate: lastDate.AddDays(30),
		Active:           today.DaysSince(lastDate) <= activeWindowDays,
		Confidence:       int(cls.Confidence * 100),
		Source:           sourceAuto,
		TransactionIDs:   ids,
	}
}
