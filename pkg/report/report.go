// Package report aggregates transactions into dashboard totals and a
// per-category spending breakdown, and renders them for the terminal.
package report

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ArionMiles/upiledger/pkg/api"
)

// Summary holds the totals for a set of transactions.
type Summary struct {
	Count int `json:"count"`
	// Balance is income minus expenses.
	Balance  decimal.Decimal `json:"balance"`
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	// Categories breaks expenses down by category, largest first.
	Categories []CategoryTotal `json:"categories"`
}

// CategoryTotal is one slice of the expense breakdown.
type CategoryTotal struct {
	Category api.Category    `json:"category"`
	Count    int             `json:"count"`
	Amount   decimal.Decimal `json:"amount"`
	// Percent of total expenses, rounded to one decimal place.
	Percent decimal.Decimal `json:"percent"`
}

var hundred = decimal.NewFromInt(100)

// Summarize computes totals over txns. Only debits contribute to the
// breakdown; uncategorized debits are counted as Other.
func Summarize(txns []*api.Transaction) Summary {
	s := Summary{Categories: []CategoryTotal{}}
	byCategory := make(map[api.Category]*CategoryTotal)

	for _, t := range txns {
		if t == nil {
			continue
		}
		s.Count++
		s.Balance = s.Balance.Add(t.Signed())

		if t.Type == api.Credit {
			s.Income = s.Income.Add(t.Amount)
			continue
		}
		s.Expenses = s.Expenses.Add(t.Amount)

		c := t.Category
		if c == "" {
			c = api.Other
		}
		ct, ok := byCategory[c]
		if !ok {
			ct = &CategoryTotal{Category: c}
			byCategory[c] = ct
		}
		ct.Count++
		ct.Amount = ct.Amount.Add(t.Amount)
	}

	for _, ct := range byCategory {
		if !s.Expenses.IsZero() {
			ct.Percent = ct.Amount.Mul(hundred).Div(s.Expenses).Round(1)
		}
		s.Categories = append(s.Categories, *ct)
	}
	slices.SortFunc(s.Categories, func(a, b CategoryTotal) int {
		if c := b.Amount.Cmp(a.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.Category, b.Category)
	})

	return s
}

// DefaultLanguage is Indian English.
var DefaultLanguage = language.MustParse("en-IN")

// Formatter renders amounts with the grouping rules of a locale.
type Formatter struct {
	p *message.Printer
}

// NewFormatter returns a Formatter for tag. The zero tag means DefaultLanguage.
func NewFormatter(tag language.Tag) Formatter {
	if tag == language.Und {
		tag = DefaultLanguage
	}
	return Formatter{p: message.NewPrinter(tag)}
}

// Money formats an amount with two decimals and a rupee sign.
func (f Formatter) Money(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-" + f.Money(d.Neg())
	}
	return f.p.Sprintf("₹%.2f", d.Round(2).InexactFloat64())
}

// WriteSummary prints totals and the category breakdown as aligned columns.
func (f Formatter) WriteSummary(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Transactions\t%d\n", s.Count)
	fmt.Fprintf(tw, "Balance\t%s\n", f.Money(s.Balance))
	fmt.Fprintf(tw, "Income\t%s\n", f.Money(s.Income))
	fmt.Fprintf(tw, "Expenses\t%s\n", f.Money(s.Expenses))

	if len(s.Categories) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "CATEGORY\tCOUNT\tAMOUNT\tSHARE")
		for _, c := range s.Categories {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s%%\n", c.Category, c.Count, f.Money(c.Amount), c.Percent.StringFixed(1))
		}
	}

	return tw.Flush()
}

// WriteTransactions prints one line per transaction.
func (f Formatter) WriteTransactions(w io.Writer, txns []*api.Transaction) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "DATE\tTYPE\tAMOUNT\tCOUNTERPARTY\tCATEGORY\tREFERENCE")
	for _, t := range txns {
		category := string(t.Category)
		if category == "" {
			category = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Date.Format(time.DateOnly), t.Type, f.Money(t.Signed()), t.Counterparty, category, t.Reference)
	}

	return tw.Flush()
}
