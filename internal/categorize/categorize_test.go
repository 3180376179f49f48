package categorize

import (
	"regexp"
	"testing"
)

func TestCategorize_DefaultRules(t *testing.T) {
	c := New(DefaultRules())

	tests := []struct {
		description string
		category    string
		subcategory string
	}{
		{"PRZELEW DO URZĄD SKARBOWY PIT-4", "tax", "tax_payment"},
		{"WYNAGRODZENIE 01/2024 ACME SP Z O O", "income", "salary"},
		{"WYPŁATA Z BANKOMATU UL. DŁUGA 5", "cash", "atm_withdrawal"},
		{"CARD PAYMENT ZABKA Z1234", "card_payment", ""},
		{"SPOTIFY P12345678", "software", "subscription"},
		{"OPŁATA ZA PROWADZENIE RACHUNKU", "fees", "bank_fee"},
		{"PRZELEW OD KONTRAHENTA FV 12/2024", CategoryUncategorised, ""},
		{"", CategoryUncategorised, ""},
	}
	for _, tt := range tests {
		cat, sub := c.Categorize(tt.description)
		if cat != tt.category || sub != tt.subcategory {
			t.Errorf("Categorize(%q) = (%q, %q), want (%q, %q)",
				tt.description, cat, sub, tt.category, tt.subcategory)
		}
	}
}

func TestCategorize_CaseInsensitive(t *testing.T) {
	c := New(DefaultRules())
	cat, _ := c.Categorize("salary payment january")
	if cat != "income" {
		t.Errorf("category = %q, want income", cat)
	}
}

func TestCategorize_FirstMatchWins(t *testing.T) {
	rules := []Rule{
		{Name: "first", Pattern: regexp.MustCompile(`(?i)acme`), Category: "one"},
		{Name: "second", Pattern: regexp.MustCompile(`(?i)acme corp`), Category: "two"},
	}
	c := New(rules)
	cat, _ := c.Categorize("ACME CORP INVOICE")
	if cat != "one" {
		t.Errorf("category = %q, want one (rule order must decide)", cat)
	}
}
