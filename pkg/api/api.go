// Package api defines the core interfaces and data structures for upiledger.
package api

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxnType is the direction of money movement.
type TxnType string

const (
	Credit TxnType = "credit"
	Debit  TxnType = "debit"
)

// Valid reports whether t is a known transaction type.
func (t TxnType) Valid() bool {
	return t == Credit || t == Debit
}

// Category is a spending category label from a fixed, closed set.
type Category string

const (
	Groceries      Category = "Groceries"
	Dining         Category = "Dining"
	Entertainment  Category = "Entertainment"
	Transportation Category = "Transportation"
	Shopping       Category = "Shopping"
	Utilities      Category = "Utilities"
	Housing        Category = "Housing"
	Healthcare     Category = "Healthcare"
	Income         Category = "Income"
	Other          Category = "Other"
)

// Categories lists every valid label in display order.
var Categories = []Category{
	Groceries, Dining, Entertainment, Transportation, Shopping,
	Utilities, Housing, Healthcare, Income, Other,
}

// ParseCategory returns the label matching s exactly after trimming whitespace.
// The second result is false when s is not a member of the closed set.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return Other, false
}

// Transaction is a bank transaction extracted from a notification email.
type Transaction struct {
	ID           string          `json:"id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	Type         TxnType         `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Account      string          `json:"account"`
	Counterparty string          `json:"counterparty"`
	// Date is the calendar date printed in the notification, at midnight UTC.
	Date      time.Time `json:"date"`
	Reference string    `json:"reference"`
	// Category is empty until the categorizer has run.
	Category    Category  `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	SourceID    string    `json:"source_id"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Signed returns the amount as a balance delta: positive for credits, negative for debits.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Type == Debit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// RawEmail is a mail message as handed over by a mail-fetching collaborator.
// Its shape mirrors the Gmail API message resource.
type RawEmail struct {
	ID      string
	Snippet string
	Payload *MessagePart
}

// MessagePart is one node of a MIME part tree.
type MessagePart struct {
	MimeType string
	Body     *MessagePartBody
	Parts    []*MessagePart
}

// MessagePartBody holds base64-encoded body bytes.
type MessagePartBody struct {
	Data string
}

// Reader fetches a batch of raw emails from a mail source.
type Reader interface {
	Fetch(ctx context.Context) ([]*RawEmail, error)
}

// Writer consumes transactions from a channel and writes them to a destination.
// Implementations return when the channel is closed or the context is canceled.
type Writer interface {
	Write(ctx context.Context, in <-chan *Transaction) error
}
