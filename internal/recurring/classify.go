package recurring

import (
	"math"
	"sort"

	"cloud.google.com/go/civil"

	"github.com/jstachowiak/opsledger/internal/ledger"
)

// Gap buckets with their tolerances, in days.
var gapBuckets = []struct {
	cadence   ledger.Cadence
	days      int
	tolerance int
}{
	{ledger.CadenceWeekly, 7, 1},
	{ledger.CadenceMonthly, 30, 2},
	{ledger.CadenceQuarterly, 90, 3},
	{ledger.CadenceYearly, 365, 5},
}

// classifyGap maps a day gap to a cadence bucket, or "" when the gap fits
// no recognized interval.
func classifyGap(days int) ledger.Cadence {
	for _, b := range gapBuckets {
		if days >= b.days-b.tolerance && days <= b.days+b.tolerance {
			return b.cadence
		}
	}
	return ""
}

// Classification is the outcome of classifying one transaction against the
// similar charges that preceded it.
type Classification struct {
	Cadence    ledger.Cadence
	Confidence float64 // 0..1
	// Matched and Pairs describe how many day gaps between occurrences fell
	// into the winning bucket out of all gaps considered.
	Matched int
	Pairs   int
}

func daysBetween(a, b civil.Date) int {
	d := b.DaysSince(a)
	if d < 0 {
		return -d
	}
	return d
}

// Classify decides the cadence of tx given its history of similar charges
// (the history does not include tx itself). With no history the transaction
// is one_time with zero confidence. With history but no recognized interval
// it is one_time with a low confidence that grows with the number of
// occurrences, signalling "probably recurring, interval unclear".
func Classify(tx *ledger.Transaction, history []*ledger.Transaction) Classification {
	if len(history) == 0 {
		return Classification{Cadence: ledger.CadenceOneTime, Confidence: 0}
	}

	dates := make([]civil.Date, 0, len(history)+1)
	for _, h := range history {
		dates = append(dates, h.BookingDate)
	}
	dates = append(dates, tx.BookingDate)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	// Every pair of occurrences votes; consecutive gaps alone would miss
	// patterns with one skipped or duplicated charge.
	counts := map[ledger.Cadence]int{}
	pairs := 0
	for i := 0; i < len(dates); i++ {
		for j := i + 1; j < len(dates); j++ {
			pairs++
			if c := classifyGap(daysBetween(dates[i], dates[j])); c != "" {
				counts[c]++
			}
		}
	}

	best, matched := bestCadence(counts)
	if best == "" {
		// Similar charges exist but at no recognized interval.
		n := len(dates)
		conf := 0.3 + 0.05*float64(n-2)
		if conf > 0.5 {
			conf = 0.5
		}
		return Classification{Cadence: ledger.CadenceOneTime, Confidence: conf, Pairs: pairs}
	}

	conf := math.Min(0.5+0.5*float64(matched)/float64(pairs), 0.95)
	return Classification{Cadence: best, Confidence: conf, Matched: matched, Pairs: pairs}
}

// bestCadence picks the bucket with the most votes. Ties resolve toward the
// shorter interval, which is the one a skipped charge cannot fake.
func bestCadence(counts map[ledger.Cadence]int) (ledger.Cadence, int) {
	var best ledger.Cadence
	bestN := 0
	for _, b := range gapBuckets {
		if n := counts[b.cadence]; n > bestN {
			best, bestN = b.cadence, n
		}
	}
	return best, bestN
}
