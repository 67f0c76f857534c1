// Package orchestrator drives a batch of raw emails through extraction,
// parsing, reference dedup, categorization and persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/categorizer"
	"github.com/ArionMiles/upiledger/pkg/extract"
	"github.com/ArionMiles/upiledger/pkg/parser"
	"github.com/ArionMiles/upiledger/pkg/store"
)

// ErrNoInput is returned when Ingest is called without any emails.
var ErrNoInput = errors.New("no emails to ingest")

// Reason classifies a per-email failure.
type Reason string

const (
	// ReasonUnparseable means no template matched the email.
	ReasonUnparseable Reason = "unparseable"
	// ReasonMalformed means a template matched but a field failed validation.
	ReasonMalformed Reason = "malformed"
	// ReasonStorage means looking up or saving the transaction failed.
	ReasonStorage Reason = "storage"
)

// ItemError describes why one email did not produce a saved transaction.
type ItemError struct {
	SourceID string `json:"source_id"`
	Reason   Reason `json:"reason"`
	Err      error  `json:"-"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.SourceID, e.Reason, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// Result is the outcome of one ingestion run.
type Result struct {
	// Saved holds newly persisted transactions in input order.
	Saved []*api.Transaction
	// Skipped counts transactions whose reference was already known.
	Skipped int
	// Errors lists per-email failures in input order.
	Errors []ItemError
}

// Parser turns notification text into a transaction.
type Parser interface {
	Parse(text, sourceID string) (*api.Transaction, error)
}

// Categorizer labels a transaction. It must not fail; unavailable
// classification yields api.Other.
type Categorizer interface {
	Categorize(ctx context.Context, req categorizer.Request) api.Category
}

// Coordinator runs ingestion batches.
type Coordinator struct {
	parser      Parser
	categorizer Categorizer
	store       store.Store
	logger      *slog.Logger
}

// New creates a Coordinator.
func New(p Parser, c Categorizer, s store.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		parser:      p,
		categorizer: c,
		store:       s,
		logger:      logger.With("component", "orchestrator"),
	}
}

// ExistingReferences loads the user's stored reference numbers for seeding Ingest.
func (c *Coordinator) ExistingReferences(ctx context.Context, userID string) (map[string]struct{}, error) {
	refs, err := c.store.References(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading existing references: %w", err)
	}
	return refs, nil
}

// Ingest processes emails one at a time for userID.
//
// Emails whose reference is in existing, or already stored, are skipped
// silently. Every saved reference is added to existing, so the same map can
// seed the next run; a nil map is allowed. Per-email failures are collected in
// the result and never stop the batch. Cancellation is checked between emails
// and before each save: a cancelled run returns the partial result together
// with the context's error, and the interrupted email is left untouched.
func (c *Coordinator) Ingest(ctx context.Context, userID string, emails []*api.RawEmail, existing map[string]struct{}) (*Result, error) {
	if len(emails) == 0 {
		return nil, ErrNoInput
	}
	if existing == nil {
		existing = make(map[string]struct{})
	}

	c.logger.Info("starting ingestion", "user_id", userID, "emails", len(emails), "known_references", len(existing))

	res := &Result{}
	categorized, defaulted := 0, 0

	for _, email := range emails {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("ingestion cancelled", "saved", len(res.Saved), "error", err)
			return res, err
		}
		if email == nil {
			continue
		}

		logger := c.logger.With("message_id", email.ID)

		txn, err := c.parser.Parse(extract.Content(email), email.ID)
		if err != nil {
			reason := ReasonMalformed
			if errors.Is(err, parser.ErrNoMatch) {
				reason = ReasonUnparseable
			}
			logger.Debug("email not parsed", "reason", reason, "error", err)
			res.Errors = append(res.Errors, ItemError{SourceID: email.ID, Reason: reason, Err: err})
			continue
		}
		txn.UserID = userID

		logger = logger.With("reference", txn.Reference)

		if _, seen := existing[txn.Reference]; seen {
			logger.Debug("reference already known, skipping")
			res.Skipped++
			continue
		}

		_, err = c.store.FindByReference(ctx, userID, txn.Reference)
		switch {
		case err == nil:
			logger.Debug("reference already stored, skipping")
			existing[txn.Reference] = struct{}{}
			res.Skipped++
			continue
		case !errors.Is(err, store.ErrNotFound):
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			logger.Error("failed to look up reference", "error", err)
			res.Errors = append(res.Errors, ItemError{SourceID: email.ID, Reason: ReasonStorage, Err: err})
			continue
		}

		txn.Category = c.categorizer.Categorize(ctx, categorizer.RequestFor(txn))
		if txn.Type == api.Debit {
			categorized++
			if txn.Category == api.Other {
				defaulted++
			}
		}

		if err := ctx.Err(); err != nil {
			c.logger.Warn("ingestion cancelled", "saved", len(res.Saved), "error", err)
			return res, err
		}

		saved, err := c.store.Save(ctx, txn)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			logger.Debug("reference saved concurrently, skipping")
			existing[txn.Reference] = struct{}{}
			res.Skipped++
			continue
		case err != nil:
			logger.Error("failed to save transaction", "error", err)
			res.Errors = append(res.Errors, ItemError{SourceID: email.ID, Reason: ReasonStorage, Err: err})
			continue
		}

		existing[saved.Reference] = struct{}{}
		res.Saved = append(res.Saved, saved)
		logger.Info("saved transaction",
			"type", saved.Type,
			"amount", saved.Amount.String(),
			"category", saved.Category)
	}

	if categorized > 1 && defaulted == categorized {
		c.logger.Warn("every debit in the batch fell back to the default category, classifier may be unavailable",
			"debits", categorized)
	}

	c.logger.Info("ingestion finished",
		"saved", len(res.Saved),
		"skipped", res.Skipped,
		"errors", len(res.Errors))

	return res, nil
}
