package statement

import (
	"encoding/csv"
	"io"
	"strings"
)

// FlatCSVDialect reads the common flat export: a single header line followed
// by data rows, delimited by either ';' or ','. The delimiter is chosen by
// counting occurrences in the header line.
type FlatCSVDialect struct{}

func (d *FlatCSVDialect) Name() string { return "flat_csv" }

// Detect accepts any sample whose first non-empty line contains a delimiter.
// This dialect is the generic fallback and must be registered last.
func (d *FlatCSVDialect) Detect(sample string) bool {
	header := firstNonEmptyLine(sample)
	return strings.ContainsAny(header, ";,")
}

func (d *FlatCSVDialect) Parse(text string) ([]Row, error) {
	header := firstNonEmptyLine(text)
	if header == "" {
		return nil, &ParseError{
			Step:   StepFindHeader,
			Reason: "input is empty",
			Sample: firstLines(text, sampleLines),
		}
	}

	delimiter := pickDelimiter(header)
	rows, err := readDelimited(text, delimiter)
	if err != nil {
		return nil, &ParseError{
			Step:      StepParseCSV,
			Reason:    "reading csv records",
			Delimiter: string(delimiter),
			Sample:    firstLines(text, sampleLines),
			Err:       err,
		}
	}
	return rows, nil
}

// pickDelimiter counts candidate delimiters in the header line; semicolon
// wins ties since comma is far more likely inside free-text cells.
func pickDelimiter(header string) rune {
	if strings.Count(header, ";") >= strings.Count(header, ",") {
		return ';'
	}
	return ','
}

// readDelimited parses text as delimiter-separated records. The first
// non-empty record is the header; every later record is padded or truncated
// to the header width so ragged rows never fail the batch.
func readDelimited(text string, delimiter rune) ([]Row, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var header []string
	var rows []Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if recordEmpty(record) {
			continue
		}
		if header == nil {
			header = make([]string, len(record))
			for i, cell := range record {
				header[i] = strings.TrimSpace(cell)
			}
			continue
		}
		rows = append(rows, recordToRow(header, record))
	}
	return rows, nil
}

// recordToRow maps a record onto the header columns, padding missing cells
// with empty strings and dropping cells beyond the header width.
func recordToRow(header, record []string) Row {
	row := make(Row, len(header))
	for i, col := range header {
		if col == "" {
			continue
		}
		if i < len(record) {
			row[col] = strings.TrimSpace(record[i])
		} else {
			row[col] = ""
		}
	}
	return row
}

func recordEmpty(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}
