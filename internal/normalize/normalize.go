// Package normalize maps parsed statement rows onto the canonical
// transaction shape: ISO booking date, non-negative amount plus direction,
// currency, description and counterparty fields.
package normalize

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jstachowiak/opsledger/internal/ledger"
	"github.com/jstachowiak/opsledger/internal/statement"
)

// Field synonym lists, ordered by priority: the first synonym present in a
// row wins. Column names vary per bank and locale, so each logical field
// carries every header spelling seen in practice.
var (
	dateSynonyms = []string{
		"booking_date", "data operacji", "data księgowania", "data ksiegowania",
		"date", "transaction date", "booking date", "data",
	}
	valueDateSynonyms = []string{
		"value_date", "data waluty", "value date",
	}
	amountSynonyms = []string{
		"amount", "kwota", "kwota operacji", "kwota w walucie rachunku", "value",
	}
	descriptionSynonyms = []string{
		"description", "opis operacji", "opis", "tytuł", "tytul", "title", "details",
	}
	counterpartyNameSynonyms = []string{
		"counterparty", "counterparty_name", "nadawca/odbiorca", "kontrahent",
		"odbiorca", "nadawca", "payee", "merchant",
	}
	counterpartyAccountSynonyms = []string{
		"counterparty_account", "rachunek", "numer rachunku", "numer konta",
		"account", "iban",
	}
	currencySynonyms = []string{
		"currency", "waluta",
	}
)

// Options tunes normalization. The zero value is usable.
type Options struct {
	// DefaultCurrency fills in when neither a currency column nor an amount
	// suffix names one.
	DefaultCurrency string
}

// Result carries the survivors of a normalization pass plus the count of
// rows dropped for missing a required field.
type Result struct {
	Transactions []*ledger.Transaction
	Invalid      int
}

// Normalizer converts statement rows into canonical transactions.
type Normalizer struct {
	opts Options
}

func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// Normalize maps each row to a transaction candidate. A row missing a
// parseable booking date, a parseable amount, or a non-empty description is
// counted invalid and dropped; it never aborts the batch.
func (n *Normalizer) Normalize(org ledger.OrgContext, sourceDocumentID string, rows []statement.Row) Result {
	var res Result
	for _, row := range rows {
		tx, ok := n.normalizeRow(org, sourceDocumentID, row)
		if !ok {
			res.Invalid++
			continue
		}
		res.Transactions = append(res.Transactions, tx)
	}
	return res
}

func (n *Normalizer) normalizeRow(org ledger.OrgContext, sourceDocumentID string, row statement.Row) (*ledger.Transaction, bool) {
	fields := lowerKeys(row)

	bookingRaw, _ := lookup(fields, dateSynonyms)
	bookingDate, ok := ParseDate(bookingRaw)
	if !ok {
		return nil, false
	}

	amountRaw, _ := lookup(fields, amountSynonyms)
	signed, currencyHint, ok := ParseAmount(amountRaw)
	if !ok {
		return nil, false
	}

	description, _ := lookup(fields, descriptionSynonyms)
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, false
	}

	tx := &ledger.Transaction{
		TransactionID:    uuid.NewString(),
		OrgID:            org.OrgID,
		SourceDocumentID: sourceDocumentID,
		BookingDate:      bookingDate,
		Description:      description,
		Raw:              row,
		CreatedTS:        time.Now().UTC(),
	}

	if raw, found := lookup(fields, valueDateSynonyms); found {
		if vd, ok := ParseDate(raw); ok {
			tx.ValueDate = &vd
		}
	}

	if signed < 0 {
		tx.Direction = ledger.DirectionOut
		tx.Amount = -signed
	} else {
		tx.Direction = ledger.DirectionIn
		tx.Amount = signed
	}

	currency, _ := lookup(fields, currencySynonyms)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = currencyHint
	}
	if currency == "" {
		currency = strings.ToUpper(n.opts.DefaultCurrency)
	}
	tx.Currency = currency

	name, _ := lookup(fields, counterpartyNameSynonyms)
	tx.CounterpartyName = strings.TrimSpace(name)
	account, _ := lookup(fields, counterpartyAccountSynonyms)
	tx.CounterpartyAccount = strings.TrimSpace(account)

	return tx, true
}

// lowerKeys rebuilds a row with lowercased, whitespace-collapsed keys so
// synonym lookup is case-insensitive.
func lowerKeys(row statement.Row) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[strings.Join(strings.Fields(strings.ToLower(k)), " ")] = v
	}
	return out
}

// lookup returns the value of the first synonym present in the fields.
func lookup(fields map[string]string, synonyms []string) (string, bool) {
	for _, syn := range synonyms {
		if v, ok := fields[syn]; ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}
