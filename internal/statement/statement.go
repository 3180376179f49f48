// Package statement turns raw bank-export bytes into rows of named fields.
//
// Banks do not agree on a layout, so parsing is strategy-selected: an ordered
// list of dialects, each able to recognise its own format from a sample of
// the input and to parse the full text. The first dialect that detects wins.
package statement

import (
	"fmt"
	"strings"
)

// Row is one parsed statement line, keyed by header column name.
type Row map[string]string

// Step identifies where in the parsing process a failure occurred. The tags
// are part of the ingestion result contract and surface to the caller.
type Step string

const (
	StepFindHeader Step = "find_header"
	StepParseCSV   Step = "parse_csv"
	StepZeroRows   Step = "parsed_0_rows"
)

// sampleLines is how many raw input lines a ParseError carries for diagnosis.
const sampleLines = 5

// ParseError is a structural parse failure: the dialect or header could not
// be recognised, or the file yielded no rows at all. It carries enough of the
// offending input to diagnose an unsupported dialect without server access.
type ParseError struct {
	Step      Step
	Reason    string
	Delimiter string   // detected delimiter, if any
	Sample    []string // first few raw lines of the input
	Err       error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("statement parse failed at %s: %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("statement parse failed at %s: %s", e.Step, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Dialect is one bank-export format the parser knows how to read.
type Dialect interface {
	// Name returns a short identifier for the dialect (used in logs and results).
	Name() string

	// Detect reports whether the sample (the first lines of the input) looks
	// like this dialect.
	Detect(sample string) bool

	// Parse converts the full statement text into rows. Implementations must
	// tolerate ragged rows and trailing empty columns; they return a
	// *ParseError on structural failure.
	Parse(text string) ([]Row, error)
}

// Parser selects a dialect for the input and parses it. Order matters: more
// specific dialects must come before generic ones.
type Parser struct {
	dialects []Dialect
}

// NewParser creates a parser over an explicit dialect list.
func NewParser(dialects ...Dialect) *Parser {
	return &Parser{dialects: dialects}
}

// DefaultParser returns a parser with the built-in dialects: the
// marker-header bank export first (it is the more specific format), then the
// generic flat CSV.
func DefaultParser() *Parser {
	return NewParser(
		&MarkerHeaderDialect{},
		&FlatCSVDialect{},
	)
}

// Parse decodes the statement bytes, picks a dialect and parses the rows.
// It returns the rows, the name of the dialect used, and a *ParseError on
// structural failure. Zero parsed rows is a hard failure: a header-detection
// bug must surface instead of silently importing nothing.
func (p *Parser) Parse(data []byte) ([]Row, string, error) {
	text := normalizeText(data)
	sample := sampleOf(text)

	var dialect Dialect
	for _, d := range p.dialects {
		if d.Detect(sample) {
			dialect = d
			break
		}
	}
	if dialect == nil {
		return nil, "", &ParseError{
			Step:   StepFindHeader,
			Reason: "no known statement dialect matched the input",
			Sample: firstLines(text, sampleLines),
		}
	}

	rows, err := dialect.Parse(text)
	if err != nil {
		return nil, dialect.Name(), err
	}
	if len(rows) == 0 {
		return nil, dialect.Name(), &ParseError{
			Step:   StepZeroRows,
			Reason: fmt.Sprintf("dialect %q parsed zero rows", dialect.Name()),
			Sample: firstLines(text, sampleLines),
		}
	}
	return rows, dialect.Name(), nil
}

// normalizeText decodes statement bytes to text: strips a UTF-8 BOM and
// normalizes CRLF line endings.
func normalizeText(data []byte) string {
	text := string(data)
	text = strings.TrimPrefix(text, "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return text
}

// sampleOf returns the head of the text used for dialect detection.
func sampleOf(text string) string {
	lines := strings.SplitN(text, "\n", 41)
	if len(lines) > 40 {
		lines = lines[:40]
	}
	return strings.Join(lines, "\n")
}

func firstLines(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, strings.TrimRight(l, "\r"))
	}
	return out
}
