// Package docmatch suggests which stored documents (invoices, receipts)
// likely support a given transaction. Scoring is a weighted sum of
// independent signals; a suggestion is advisory and never links anything on
// its own.
package docmatch

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/jstachowiak/opsledger/internal/ledger"
)

// Weights assigns the contribution of each matching signal.
type Weights struct {
	InvoiceNumber float64
	IssuerName    float64
	Amount        float64
	DateProximity float64
	Currency      float64
}

// Config tunes the matcher. DefaultConfig is the production policy; tests
// and experiments may narrow or widen it.
type Config struct {
	Weights        Weights
	Threshold      float64
	MaxSuggestions int

	// Confidence labels.
	HighConfidence   float64
	MediumConfidence float64

	// Amount matching: the effective tolerance is the larger of the
	// currency's absolute floor and RelativeTolerance of the transaction
	// magnitude.
	ToleranceFloors       map[string]float64
	DefaultToleranceFloor float64
	RelativeTolerance     float64

	// Date proximity windows, in days relative to the transaction's booking
	// date. Each window that contains the relevant document date adds the
	// DateProximity weight.
	IssueBefore int
	IssueAfter  int
	DueBefore   int
	DueAfter    int
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			InvoiceNumber: 0.40,
			IssuerName:    0.25,
			Amount:        0.20,
			DateProximity: 0.10,
			Currency:      0.05,
		},
		Threshold:        0.55,
		MaxSuggestions:   10,
		HighConfidence:   0.80,
		MediumConfidence: 0.70,
		ToleranceFloors:  map[string]float64{"PLN": 5},

		DefaultToleranceFloor: 1,
		RelativeTolerance:     0.01,

		IssueBefore: 30,
		IssueAfter:  90,
		DueBefore:   30,
		DueAfter:    30,
	}
}

// Suggestion is one candidate document for a transaction.
type Suggestion struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Confidence string  `json:"confidence"` // high, medium, low
	// Explanation lists the signals that fired, for display next to the
	// suggestion.
	Explanation string `json:"explanation"`
}

// Matcher scores transaction/document pairs under one Config.
type Matcher struct {
	cfg Config
}

func NewMatcher(cfg Config) *Matcher {
	return &Matcher{cfg: cfg}
}

// Score computes the match score for one pair along with the human-readable
// reasons. The score is capped at 1.0.
func (m *Matcher) Score(tx *ledger.Transaction, doc *ledger.Document) (float64, []string) {
	var score float64
	var reasons []string
	meta := doc.Meta

	if meta.InvoiceNo != "" && containsToken(tx.Description, meta.InvoiceNo) {
		score += m.cfg.Weights.InvoiceNumber
		reasons = append(reasons, fmt.Sprintf("invoice number %s appears in the description", meta.InvoiceNo))
	}

	if meta.IssuerName != "" && issuerMatches(tx, meta.IssuerName) {
		score += m.cfg.Weights.IssuerName
		reasons = append(reasons, fmt.Sprintf("issuer %s matches the counterparty", meta.IssuerName))
	}

	if meta.TotalGross != nil && m.amountMatches(tx, meta) {
		score += m.cfg.Weights.Amount
		reasons = append(reasons, fmt.Sprintf("amount matches the document total %.2f", *meta.TotalGross))
	}

	if meta.IssueDate != nil && withinWindow(tx.BookingDate.DaysSince(*meta.IssueDate), m.cfg.IssueBefore, m.cfg.IssueAfter) {
		score += m.cfg.Weights.DateProximity
		reasons = append(reasons, "booking date is close to the issue date")
	}
	if meta.DueDate != nil && withinWindow(tx.BookingDate.DaysSince(*meta.DueDate), m.cfg.DueBefore, m.cfg.DueAfter) {
		score += m.cfg.Weights.DateProximity
		reasons = append(reasons, "booking date is close to the due date")
	}

	if meta.Currency != "" && strings.EqualFold(meta.Currency, tx.Currency) {
		score += m.cfg.Weights.Currency
		reasons = append(reasons, "currency matches")
	}

	return math.Min(score, 1.0), reasons
}

// amountMatches compares the transaction magnitude to the document total
// within the effective tolerance for the document's currency.
func (m *Matcher) amountMatches(tx *ledger.Transaction, meta ledger.DocumentMeta) bool {
	total := math.Abs(*meta.TotalGross)
	floor := m.cfg.DefaultToleranceFloor
	if f, ok := m.cfg.ToleranceFloors[strings.ToUpper(meta.Currency)]; ok {
		floor = f
	}
	tol := math.Max(floor, m.cfg.RelativeTolerance*math.Abs(tx.Amount))
	return math.Abs(tx.Amount-total) <= tol
}

// withinWindow reports whether delta (transaction date minus document date,
// in days) lies in [-before, +after].
func withinWindow(delta, before, after int) bool {
	return delta >= -before && delta <= after
}

// containsToken matches an identifier (invoice number) inside free text,
// ignoring case and separator characters on both sides.
func containsToken(text, token string) bool {
	nt := normAlnum(token)
	if nt == "" {
		return false
	}
	return strings.Contains(normAlnum(text), nt)
}

// issuerMatches checks the issuer name against the counterparty name first,
// then the description. Issuer and counterparty match in either direction:
// a short counterparty like "ACME" still matches the full legal name on the
// invoice. The description only matches when it contains the issuer, never
// the reverse.
func issuerMatches(tx *ledger.Transaction, issuer string) bool {
	ni := normAlnum(issuer)
	if ni == "" {
		return false
	}
	if nc := normAlnum(tx.CounterpartyName); nc != "" {
		if strings.Contains(nc, ni) || strings.Contains(ni, nc) {
			return true
		}
	}
	return strings.Contains(normAlnum(tx.Description), ni)
}

// normAlnum lowercases and drops everything except letters and digits, so
// "FV/12/2024" matches "FV 12 2024" and "fv-12-2024".
func normAlnum(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// confidenceLabel maps a score to its display label.
func (m *Matcher) confidenceLabel(score float64) string {
	switch {
	case score >= m.cfg.HighConfidence:
		return "high"
	case score >= m.cfg.MediumConfidence:
		return "medium"
	default:
		return "low"
	}
}

// Suggest ranks candidate documents for one transaction. Only documents at
// or above the threshold are returned, best first, at most MaxSuggestions.
func (m *Matcher) Suggest(tx *ledger.Transaction, docs []*ledger.Document) []Suggestion {
	var out []Suggestion
	for _, doc := range docs {
		score, reasons := m.Score(tx, doc)
		if score < m.cfg.Threshold {
			continue
		}
		out = append(out, Suggestion{
			DocumentID:  doc.DocumentID,
			Score:       score,
			Confidence:  m.confidenceLabel(score),
			Explanation: explain(score, reasons),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if m.cfg.MaxSuggestions > 0 && len(out) > m.cfg.MaxSuggestions {
		out = out[:m.cfg.MaxSuggestions]
	}
	return out
}

func explain(score float64, reasons []string) string {
	if len(reasons) == 0 {
		return fmt.Sprintf("partial match (score: %d%%)", int(math.Round(score*100)))
	}
	return strings.Join(reasons, "; ")
}
