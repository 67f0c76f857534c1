// Package categorizer assigns spending categories to transactions.
//
// Credits are always Income. Debits are classified by a remote text model
// through the Classifier interface, with retries on rate limiting governed by
// a backoff.Policy.
package categorizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/backoff"
)

var (
	// ErrRateLimited is returned (wrapped) by classifiers when the remote
	// service rejects a call for exceeding its rate or quota.
	ErrRateLimited = errors.New("rate limited")
	// ErrClassificationFailure means no label could be obtained, either because
	// the classifier failed with a non-retryable error or retries ran out.
	ErrClassificationFailure = errors.New("classification failed")
)

// Classifier sends a prompt to a text model and returns its raw answer.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, prompt string) (string, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Request carries the transaction details shown to the classifier.
type Request struct {
	Description  string          `json:"description"`
	Counterparty string          `json:"counterparty"`
	Amount       decimal.Decimal `json:"amount"`
	Type         api.TxnType     `json:"type"`
}

// RequestFor builds a Request from a parsed transaction.
func RequestFor(txn *api.Transaction) Request {
	return Request{
		Description:  txn.Description,
		Counterparty: txn.Counterparty,
		Amount:       txn.Amount,
		Type:         txn.Type,
	}
}

// Categorizer maps transactions to category labels.
type Categorizer struct {
	classifier Classifier
	policy     backoff.Policy
	logger     *slog.Logger

	onRetry func(n uint, delay time.Duration, err error)
}

// Option configures a Categorizer.
type Option func(*Categorizer)

// WithPolicy overrides the default retry policy.
func WithPolicy(p backoff.Policy) Option {
	return func(c *Categorizer) {
		c.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Categorizer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Categorizer. A nil classifier is allowed: debits then fall
// back to Other without any remote call.
func New(classifier Classifier, opts ...Option) *Categorizer {
	c := &Categorizer{
		classifier: classifier,
		policy:     backoff.DefaultPolicy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "categorizer")

	return c
}

// Categorize returns the label for req. It never fails: any classification
// error is logged and yields Other.
func (c *Categorizer) Categorize(ctx context.Context, req Request) api.Category {
	category, err := c.CategorizeStrict(ctx, req)
	if err != nil {
		c.logger.Warn("categorization failed, using default",
			"counterparty", req.Counterparty,
			"category", api.Other,
			"error", err)
		return api.Other
	}
	return category
}

// CategorizeStrict returns the label for req, or an error wrapping
// ErrClassificationFailure when the classifier could not produce an answer.
// Answers outside the closed label set are not errors; they become Other.
func (c *Categorizer) CategorizeStrict(ctx context.Context, req Request) (api.Category, error) {
	if req.Type == api.Credit {
		return api.Income, nil
	}
	if c.classifier == nil {
		return api.Other, fmt.Errorf("%w: no classifier configured", ErrClassificationFailure)
	}

	prompt := Prompt(req)

	var answer string
	err := c.policy.Do(ctx,
		func() error {
			out, err := c.classifier.Classify(ctx, prompt)
			if err != nil {
				return err
			}
			answer = out
			return nil
		},
		backoff.RetryIf(func(err error) bool {
			return errors.Is(err, ErrRateLimited)
		}),
		backoff.OnRetry(func(n uint, delay time.Duration, err error) {
			c.logger.Warn("classifier rate limited, retrying",
				"attempt", n+1,
				"max_attempts", c.policy.MaxAttempts,
				"delay", delay,
				"error", err)
			if c.onRetry != nil {
				c.onRetry(n, delay, err)
			}
		}),
	)
	if err != nil {
		return api.Other, fmt.Errorf("%w: %w", ErrClassificationFailure, err)
	}

	category, ok := api.ParseCategory(answer)
	if !ok {
		c.logger.Debug("classifier answered with unknown label",
			"answer", strings.TrimSpace(answer),
			"counterparty", req.Counterparty)
	}

	return category, nil
}

// CategorizeAll categorizes txns concurrently, running at most concurrency
// classifications at once. The result at index i belongs to txns[i]. It
// returns the context's error if ctx is done before all work finishes; slots
// that were not reached hold Other.
func (c *Categorizer) CategorizeAll(ctx context.Context, txns []*api.Transaction, concurrency int) ([]api.Category, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]api.Category, len(txns))
	for i := range results {
		results[i] = api.Other
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, txn := range txns {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c.Categorize(gctx, RequestFor(txn))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	return results, nil
}

// Prompt renders the classification prompt for req. Income is not offered as
// a choice because credits never reach the classifier.
func Prompt(req Request) string {
	var b strings.Builder

	b.WriteString("Analyze this transaction and categorize it into exactly one of these categories:\n")
	for _, c := range api.Categories {
		if c == api.Income {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", c)
	}

	b.WriteString("\nTransaction details:\n")
	fmt.Fprintf(&b, "- Merchant/Counterparty: %s\n", req.Counterparty)
	fmt.Fprintf(&b, "- Description: %s\n", req.Description)
	fmt.Fprintf(&b, "- Amount: %s\n", req.Amount.StringFixed(2))
	b.WriteString("\nRespond with ONLY the category name, nothing else.\n")

	return b.String()
}
