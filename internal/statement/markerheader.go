package statement

import (
	"strings"
)

// Marker-header exports (the mBank operation-history family) wrap the real
// table in metadata: account info lines, blank lines, then a header line
// whose cells start with '#', e.g.
//
//	#Data operacji;#Opis operacji;#Rachunek;#Kategoria;#Kwota;
//
// The header is located by scanning for a line that carries both the
// operation-date and operation-description tokens.
var markerHeaderTokens = []string{"data operacji", "opis operacji"}

// MarkerHeaderDialect parses bank exports where the header row is preceded
// by metadata lines and marked with a leading '#' on each cell.
type MarkerHeaderDialect struct{}

func (d *MarkerHeaderDialect) Name() string { return "marker_header" }

func (d *MarkerHeaderDialect) Detect(sample string) bool {
	return findHeaderLine(sample) >= 0
}

func (d *MarkerHeaderDialect) Parse(text string) ([]Row, error) {
	lines := strings.Split(text, "\n")
	headerIdx := -1
	for i, line := range lines {
		if isMarkerHeader(line) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, &ParseError{
			Step:   StepFindHeader,
			Reason: "no header line with operation date/description markers",
			Sample: firstLines(text, sampleLines),
		}
	}

	table := strings.Join(lines[headerIdx:], "\n")
	rows, err := readDelimited(table, ';')
	if err != nil {
		return nil, &ParseError{
			Step:      StepParseCSV,
			Reason:    "reading marker-header records",
			Delimiter: ";",
			Sample:    firstLines(text, sampleLines),
			Err:       err,
		}
	}

	// Header cells keep their '#' marker through readDelimited; rekey the
	// rows with the marker stripped.
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		clean := make(Row, len(row))
		for col, val := range row {
			clean[strings.TrimPrefix(col, "#")] = val
		}
		out = append(out, clean)
	}
	return out, nil
}

func findHeaderLine(text string) int {
	for i, line := range strings.Split(text, "\n") {
		if isMarkerHeader(line) {
			return i
		}
	}
	return -1
}

func isMarkerHeader(line string) bool {
	if !strings.Contains(line, "#") {
		return false
	}
	lower := strings.ToLower(line)
	for _, token := range markerHeaderTokens {
		if !strings.Contains(lower, token) {
			return false
		}
	}
	return true
}
