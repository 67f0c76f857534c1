// Package store defines the persistence boundary for parsed transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ArionMiles/upiledger/pkg/api"
)

var (
	// ErrNotFound is returned when no transaction matches a lookup.
	ErrNotFound = errors.New("transaction not found")
	// ErrDuplicate is returned by Save when the user already has a transaction
	// with the same reference number.
	ErrDuplicate = errors.New("duplicate transaction reference")
)

// Store persists transactions. (UserID, Reference) is unique across stored
// transactions.
type Store interface {
	// FindByReference returns the user's transaction with the given reference,
	// or ErrNotFound.
	FindByReference(ctx context.Context, userID, reference string) (*api.Transaction, error)
	// Save inserts txn and returns the stored copy with ID and CreatedAt set.
	// It returns ErrDuplicate if the reference is already taken.
	Save(ctx context.Context, txn *api.Transaction) (*api.Transaction, error)
	// List returns the user's transactions matching f, newest first.
	List(ctx context.Context, userID string, f Filter) ([]*api.Transaction, error)
	// UpdateCategory sets the category of one transaction, or returns ErrNotFound.
	UpdateCategory(ctx context.Context, userID, id string, category api.Category) error
	// References returns every reference number stored for the user.
	References(ctx context.Context, userID string) (map[string]struct{}, error)
}

// Period restricts a listing to recent transactions.
type Period string

const (
	PeriodAll   Period = "all"
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates s. The empty string means PeriodAll.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PeriodAll:
		return PeriodAll, nil
	case PeriodToday, PeriodWeek, PeriodMonth:
		return p, nil
	default:
		return "", fmt.Errorf("unknown period %q (want today, week, month or all)", s)
	}
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	// Query is matched case-insensitively against counterparty and reference.
	Query    string
	Period   Period
	Type     api.TxnType
	Category api.Category
	// Now anchors Period. Zero means the current time.
	Now time.Time
}

// Since returns the earliest transaction date included by the filter's period,
// and false when the period is unbounded.
func (f Filter) Since() (time.Time, bool) {
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch f.Period {
	case PeriodToday:
		return today, true
	case PeriodWeek:
		return today.AddDate(0, 0, -7), true
	case PeriodMonth:
		return today.AddDate(0, -1, 0), true
	default:
		return time.Time{}, false
	}
}

// Match reports whether txn passes the filter.
func (f Filter) Match(txn *api.Transaction) bool {
	if f.Type != "" && txn.Type != f.Type {
		return false
	}
	if f.Category != "" && txn.Category != f.Category {
		return false
	}
	if since, ok := f.Since(); ok && txn.Date.Before(since) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(txn.Counterparty), q) &&
			!strings.Contains(strings.ToLower(txn.Reference), q) {
			return false
		}
	}
	return true
}

// ParseFilter builds a Filter from user input, as given in query parameters
// or command-line flags. Empty strings leave the corresponding field open.
func ParseFilter(query, period, txnType, category string) (Filter, error) {
	p, err := ParsePeriod(period)
	if err != nil {
		return Filter{}, err
	}
	f := Filter{Query: strings.TrimSpace(query), Period: p}

	if t := strings.ToLower(strings.TrimSpace(txnType)); t != "" {
		f.Type = api.TxnType(t)
		if !f.Type.Valid() {
			return Filter{}, fmt.Errorf("unknown type %q (want credit or debit)", txnType)
		}
	}

	if strings.TrimSpace(category) != "" {
		c, ok := api.ParseCategory(category)
		if !ok {
			return Filter{}, fmt.Errorf("unknown category %q", category)
		}
		f.Category = c
	}

	return f, nil
}
