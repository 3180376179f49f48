// Package recurring finds groups of similar transactions recurring at
// regular intervals (subscriptions) and classifies their cadence.
package recurring

import (
	"fmt"
	"math"
	"strings"
	"unicode"
)

const (
	// containmentMinLen gates the substring-containment similarity rule.
	containmentMinLen = 10
	// tokenOverlapMinLen gates the shared-token rule.
	tokenOverlapMinLen = 20
	// tokenMinLen and tokenMinShared parameterise the shared-token rule.
	tokenMinLen    = 3
	tokenMinShared = 3
	// amountJitter tolerates tax/fee wobble between charges of the same
	// subscription.
	amountJitter = 0.01
	// vendorKeyMaxLen bounds the description part of a vendor key.
	vendorKeyMaxLen = 40
)

// NormalizeDescription lowercases, strips punctuation and collapses
// whitespace so cosmetic differences between statements do not split a
// vendor.
func NormalizeDescription(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// SimilarDescriptions reports whether two raw descriptions plausibly name
// the same recurring charge: normalized equality, containment for longer
// strings, or enough shared long tokens for the longest ones.
func SimilarDescriptions(a, b string) bool {
	na, nb := NormalizeDescription(a), NormalizeDescription(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if len(na) > containmentMinLen && len(nb) > containmentMinLen {
		if strings.Contains(na, nb) || strings.Contains(nb, na) {
			return true
		}
	}
	if len(na) > tokenOverlapMinLen && len(nb) > tokenOverlapMinLen {
		return sharedLongTokens(na, nb) >= tokenMinShared
	}
	return false
}

func sharedLongTokens(na, nb string) int {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(na) {
		if len(tok) > tokenMinLen {
			set[tok] = true
		}
	}
	shared := 0
	for _, tok := range strings.Fields(nb) {
		if len(tok) > tokenMinLen && set[tok] {
			shared++
			delete(set, tok)
		}
	}
	return shared
}

// SimilarAmounts reports whether two magnitudes are the same charge modulo
// jitter: exact, or within 1% of their average.
func SimilarAmounts(a, b float64) bool {
	if a == b {
		return true
	}
	avg := (a + b) / 2
	if avg == 0 {
		return false
	}
	return math.Abs(a-b) <= amountJitter*avg
}

// VendorKey derives the stable grouping identity for a vendor/amount pair.
// It is deterministic across detection runs: the same normalized description
// and amount always yield the same key, which is what makes the "active"
// status of a subscription meaningful over time.
func VendorKey(description string, amount float64) string {
	norm := NormalizeDescription(description)
	// Truncate on rune boundaries; Polish descriptions carry multi-byte
	// letters and a byte slice could cut one in half.
	if runes := []rune(norm); len(runes) > vendorKeyMaxLen {
		norm = string(runes[:vendorKeyMaxLen])
	}
	norm = strings.ReplaceAll(strings.TrimSpace(norm), " ", "_")
	return fmt.Sprintf("%s:%.2f", norm, math.Abs(amount))
}
