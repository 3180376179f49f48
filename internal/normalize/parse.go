package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
)

var (
	isoDatePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dottedDatePattern = regexp.MustCompile(`^(\d{2})\.(\d{2})\.(\d{4})$`)
	currencySuffix    = regexp.MustCompile(`[A-Za-z]{2,4}$`)
)

// ParseDate accepts YYYY-MM-DD verbatim and DD.MM.YYYY rewritten to ISO.
// Any other shape is invalid.
func ParseDate(s string) (civil.Date, bool) {
	s = strings.TrimSpace(s)
	switch {
	case isoDatePattern.MatchString(s):
		// fall through to civil parsing
	case dottedDatePattern.MatchString(s):
		m := dottedDatePattern.FindStringSubmatch(s)
		s = m[3] + "-" + m[2] + "-" + m[1]
	default:
		return civil.Date{}, false
	}
	d, err := civil.ParseDate(s)
	if err != nil || !d.IsValid() {
		return civil.Date{}, false
	}
	return d, true
}

// ParseAmount parses a locale-tolerant amount string. It strips regular and
// non-breaking whitespace and a trailing currency code (returned as a hint),
// then decides the decimal separator: a comma is decimal when it is the
// rightmost separator with at most two trailing digits; otherwise commas and
// stray dots are thousands separators. Zero and non-finite results are
// invalid.
func ParseAmount(s string) (value float64, currency string, ok bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "") // non-breaking space
	s = strings.ReplaceAll(s, " ", "")

	if suffix := currencySuffix.FindString(s); suffix != "" {
		currency = strings.ToUpper(suffix)
		s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
	}
	if s == "" {
		return 0, "", false
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	if lastComma > lastDot && len(s)-lastComma-1 <= 2 {
		// The rightmost comma is the decimal separator; any dots and earlier
		// commas are thousands grouping.
		s = strings.ReplaceAll(s, ".", "")
		idx := strings.LastIndex(s, ",")
		s = strings.ReplaceAll(s[:idx], ",", "") + "." + s[idx+1:]
	} else {
		// Dot (if any) is the decimal separator; commas are grouping.
		s = strings.ReplaceAll(s, ",", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v == 0 {
		return 0, currency, false
	}
	return v, currency, true
}
