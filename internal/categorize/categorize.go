// Package categorize assigns a coarse category/subcategory to transactions
// by matching the description against an ordered rule list. The assignment
// is advisory: users may overwrite it, and re-import never re-applies rules
// to rows that already exist (dedup runs first).
package categorize

import (
	"regexp"
)

// CategoryUncategorised is assigned when no rule matches.
const CategoryUncategorised = "uncategorised"

// Rule matches a description pattern to a category. Rules are evaluated in
// order; the first match wins.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Category    string
	Subcategory string
}

// DefaultRules returns the built-in rule list. Order is significant: the
// more specific markers come first. New vendors are added here, not in
// matching logic.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "tax_authority",
			Pattern:     regexp.MustCompile(`(?i)urz[aą]d skarbowy|tax office|podatek|vat-?7|pit-?\d|cit-?\d|zus\b`),
			Category:    "tax",
			Subcategory: "tax_payment",
		},
		{
			Name:        "payroll",
			Pattern:     regexp.MustCompile(`(?i)wynagrodzenie|salary|payroll|pensja|wypłata wynagrodzenia`),
			Category:    "income",
			Subcategory: "salary",
		},
		{
			Name:        "atm",
			Pattern:     regexp.MustCompile(`(?i)wypłata z bankomatu|bankomat|atm withdrawal|cash withdrawal|\batm\b`),
			Category:    "cash",
			Subcategory: "atm_withdrawal",
		},
		{
			Name:        "card_payment",
			Pattern:     regexp.MustCompile(`(?i)płatność kartą|platnosc karta|card payment|card transaction|\bpos\b`),
			Category:    "card_payment",
			Subcategory: "",
		},
		{
			Name:        "bank_fee",
			Pattern:     regexp.MustCompile(`(?i)opłata za prowadzenie|prowizja|bank fee|account fee|maintenance fee`),
			Category:    "fees",
			Subcategory: "bank_fee",
		},
		{
			Name:        "subscription_software",
			Pattern:     regexp.MustCompile(`(?i)spotify|netflix|google \w+ cloud|aws\b|github|figma|slack|notion`),
			Category:    "software",
			Subcategory: "subscription",
		},
	}
}

// Categorizer applies an ordered rule list to descriptions.
type Categorizer struct {
	rules []Rule
}

func New(rules []Rule) *Categorizer {
	return &Categorizer{rules: rules}
}

// Categorize returns the category/subcategory of the first matching rule, or
// (uncategorised, "") when nothing matches.
func (c *Categorizer) Categorize(description string) (category, subcategory string) {
	for _, r := range c.rules {
		if r.Pattern.MatchString(description) {
			return r.Category, r.Subcategory
		}
	}
	return CategoryUncategorised, ""
}
