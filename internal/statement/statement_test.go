package statement

import (
	"errors"
	"strings"
	"testing"
)

const flatSemicolonStatement = `Date;Description;Amount;Currency
2024-01-05;SPOTIFY P1234;-19,99;PLN
2024-01-07;SALARY JANUARY;12 500,00;PLN
`

const flatCommaStatement = `Date,Description,Amount
2024-02-01,COFFEE SHOP,-12.50
2024-02-02,BOOKSTORE,-89.00
`

const markerHeaderStatement = `mBank S.A. Operation history;
Period: 2024-01-01 - 2024-01-31;

#Data operacji;#Opis operacji;#Rachunek;#Kategoria;#Kwota;
2024-01-05;"SPOTIFY P1234";"11 1140 0000";"Entertainment";-19,99 PLN;
2024-01-12;"PAYROLL ACME SP Z O O";"11 1140 0000";"Income";12 500,00 PLN;
`

func TestParse_FlatSemicolon(t *testing.T) {
	rows, dialect, err := DefaultParser().Parse([]byte(flatSemicolonStatement))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if dialect != "flat_csv" {
		t.Errorf("dialect = %q, want flat_csv", dialect)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0]["Description"] != "SPOTIFY P1234" {
		t.Errorf("Description = %q", rows[0]["Description"])
	}
	if rows[1]["Amount"] != "12 500,00" {
		t.Errorf("Amount = %q", rows[1]["Amount"])
	}
}

func TestParse_FlatComma(t *testing.T) {
	rows, _, err := DefaultParser().Parse([]byte(flatCommaStatement))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0]["Amount"] != "-12.50" {
		t.Errorf("Amount = %q, want -12.50", rows[0]["Amount"])
	}
}

func TestParse_MarkerHeader(t *testing.T) {
	rows, dialect, err := DefaultParser().Parse([]byte(markerHeaderStatement))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if dialect != "marker_header" {
		t.Errorf("dialect = %q, want marker_header", dialect)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	// Header markers must be stripped from column names.
	if _, ok := rows[0]["#Data operacji"]; ok {
		t.Error("column key still carries '#' marker")
	}
	if rows[0]["Data operacji"] != "2024-01-05" {
		t.Errorf("Data operacji = %q", rows[0]["Data operacji"])
	}
	if rows[0]["Kwota"] != "-19,99 PLN" {
		t.Errorf("Kwota = %q", rows[0]["Kwota"])
	}
}

func TestParse_RaggedRowsArePadded(t *testing.T) {
	input := "Date;Description;Amount;Currency\n" +
		"2024-01-05;SHORT ROW;-10,00\n" + // one column short
		"2024-01-06;LONG ROW;-20,00;PLN;extra;extra\n" // two columns long
	rows, _, err := DefaultParser().Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0]["Currency"] != "" {
		t.Errorf("padded cell = %q, want empty", rows[0]["Currency"])
	}
	if len(rows[1]) != 4 {
		t.Errorf("long row has %d columns, want 4", len(rows[1]))
	}
}

func TestParse_ZeroRowsIsHardFailure(t *testing.T) {
	input := "Date;Description;Amount\n\n\n"
	_, _, err := DefaultParser().Parse([]byte(input))
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if perr.Step != StepZeroRows {
		t.Errorf("Step = %q, want %q", perr.Step, StepZeroRows)
	}
}

func TestParse_UnknownDialect(t *testing.T) {
	_, _, err := DefaultParser().Parse([]byte("just some prose without any table\nmore prose"))
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if perr.Step != StepFindHeader {
		t.Errorf("Step = %q, want %q", perr.Step, StepFindHeader)
	}
	if len(perr.Sample) == 0 {
		t.Error("ParseError should carry the first input lines for diagnosis")
	}
}

func TestMarkerHeaderDialect_FindHeaderFailure(t *testing.T) {
	d := &MarkerHeaderDialect{}
	_, err := d.Parse("no markers anywhere")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if perr.Step != StepFindHeader {
		t.Errorf("Step = %q, want %q", perr.Step, StepFindHeader)
	}
}

func TestPickDelimiter(t *testing.T) {
	tests := []struct {
		header string
		want   rune
	}{
		{"a;b;c", ';'},
		{"a,b,c", ','},
		{"Name,with;both;semis", ';'},
		{"Name;with,many,commas,here", ','},
	}
	for _, tt := range tests {
		if got := pickDelimiter(tt.header); got != tt.want {
			t.Errorf("pickDelimiter(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestParse_BOMAndCRLF(t *testing.T) {
	input := "\uFEFFDate;Description;Amount\r\n2024-01-05;TEST;-1,00\r\n"
	rows, _, err := DefaultParser().Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if _, ok := rows[0]["Date"]; !ok {
		t.Errorf("BOM not stripped from first header cell: %v", rows[0])
	}
	if !strings.Contains(rows[0]["Description"], "TEST") {
		t.Errorf("Description = %q", rows[0]["Description"])
	}
}
