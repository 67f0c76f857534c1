// Package parser extracts structured transactions from bank notification text.
//
// Templates are deliberately narrow: an email that does not match any template
// in full is reported as ErrNoMatch rather than guessed at.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/upiledger/pkg/api"
)

var (
	// ErrNoMatch means the text does not conform to any known template.
	ErrNoMatch = errors.New("no template matched")
	// ErrMalformedAmount means a template matched but its amount is not a valid decimal.
	ErrMalformedAmount = errors.New("malformed amount")
	// ErrMalformedDate means a template matched but its date is not a calendar date.
	ErrMalformedDate = errors.New("malformed date")
)

// Parser tries an ordered list of templates against notification text.
type Parser struct {
	templates []Template
}

// New creates a parser that tries templates in the given order.
func New(templates ...Template) *Parser {
	return &Parser{templates: templates}
}

// Default creates a parser with the built-in templates.
func Default() *Parser {
	return New(DefaultTemplates()...)
}

// Templates returns the number of configured templates.
func (p *Parser) Templates() int {
	return len(p.templates)
}

// Parse converts text into a transaction using the first matching template.
// It returns ErrNoMatch when no template matches, and an error wrapping
// ErrMalformedAmount or ErrMalformedDate when a matched field fails validation.
func (p *Parser) Parse(text, sourceID string) (*api.Transaction, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoMatch
	}

	for _, tmpl := range p.templates {
		fields, ok := tmpl.Match(text)
		if !ok {
			continue
		}

		txn, err := build(fields, sourceID)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", tmpl.Name(), err)
		}
		return txn, nil
	}

	return nil, ErrNoMatch
}

func build(f Fields, sourceID string) (*api.Transaction, error) {
	amount, err := ParseAmount(f.Amount)
	if err != nil {
		return nil, err
	}

	date, err := ParseDate(f.Date)
	if err != nil {
		return nil, err
	}

	return &api.Transaction{
		Type:         f.Type,
		Amount:       amount,
		Account:      f.Account,
		Counterparty: fmt.Sprintf("%s (%s)", strings.TrimSpace(f.Name), f.VPA),
		Date:         date,
		Reference:    f.Reference,
		SourceID:     sourceID,
	}, nil
}

// ParseAmount strips thousands separators and parses a non-negative decimal.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: %q is negative", ErrMalformedAmount, s)
	}
	return amount, nil
}

// ParseDate parses dd-mm-yy with the year taken as 2000+yy.
func ParseDate(s string) (time.Time, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}

	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedDate, s)
		}
		nums[i] = n
	}
	day, month, year := nums[0], nums[1], 2000+nums[2]

	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("%w: month %d out of range in %q", ErrMalformedDate, month, s)
	}
	if day < 1 || day > daysIn(time.Month(month), year) {
		return time.Time{}, fmt.Errorf("%w: day %d out of range in %q", ErrMalformedDate, day, s)
	}

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

func daysIn(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
