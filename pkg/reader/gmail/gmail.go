// Package gmail implements a Reader that fetches bank notification emails from Gmail.
package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ArionMiles/upiledger/pkg/api"
)

// DefaultQuery matches HDFC Bank InstaAlerts UPI notifications.
const DefaultQuery = `from:alerts@hdfcbank.net (subject:"View: Account update for your HDFC Bank A/c" OR subject:"You have done a UPI txn" OR subject:"credited")`

// DefaultMaxResults caps how many messages one fetch returns.
const DefaultMaxResults = 20

const user = "me"

// Config holds configuration for the Gmail reader.
type Config struct {
	// Query is a Gmail search query. Defaults to DefaultQuery.
	Query string
	// MaxResults caps the number of messages per fetch. Defaults to DefaultMaxResults.
	MaxResults int64
	// Interval between fetches in Watch. Defaults to 5 minutes.
	Interval time.Duration
	// Options are passed to the Gmail service constructor, e.g. to override the endpoint.
	Options []option.ClientOption
}

// Reader fetches messages from Gmail.
type Reader struct {
	client     *gmail.Service
	query      string
	maxResults int64
	interval   time.Duration
	logger     *slog.Logger
}

var _ api.Reader = (*Reader)(nil)

// New creates a new Gmail reader using an authenticated HTTP client.
func New(ctx context.Context, httpClient *http.Client, cfg Config, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, cfg.Options...)
	client, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	if cfg.Query == "" {
		cfg.Query = DefaultQuery
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}

	return &Reader{
		client:     client,
		query:      cfg.Query,
		maxResults: cfg.MaxResults,
		interval:   cfg.Interval,
		logger:     logger.With("component", "gmail"),
	}, nil
}

// Fetch lists messages matching the query and retrieves each in full.
// Messages that fail to load are logged and left out of the batch.
func (r *Reader) Fetch(ctx context.Context) ([]*api.RawEmail, error) {
	resp, err := r.client.Users.Messages.List(user).
		Q(r.query).
		MaxResults(r.maxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	r.logger.Info("found messages", "count", len(resp.Messages))

	emails := make([]*api.RawEmail, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msg, err := r.client.Users.Messages.Get(user, m.Id).Format("full").Context(ctx).Do()
		if err != nil {
			if ctx.Err() != nil {
				return emails, ctx.Err()
			}
			r.logger.Error("failed to get message", "message_id", m.Id, "error", err)
			continue
		}
		emails = append(emails, Convert(msg))
	}

	return emails, nil
}

// Watch fetches immediately and then once per interval, passing each
// non-empty batch to handle. Fetch and handler errors are logged and do not
// stop the loop. It runs until the context is canceled.
func (r *Reader) Watch(ctx context.Context, handle func(context.Context, []*api.RawEmail) error) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	poll := func() {
		emails, err := r.Fetch(ctx)
		if err != nil {
			r.logger.Error("fetch failed", "error", err)
			return
		}
		if len(emails) == 0 {
			return
		}
		if err := handle(ctx, emails); err != nil {
			r.logger.Error("handling batch failed", "count", len(emails), "error", err)
		}
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("gmail reader stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			poll()
		}
	}
}

// Convert maps a Gmail API message onto the reader-agnostic RawEmail shape.
func Convert(msg *gmail.Message) *api.RawEmail {
	if msg == nil {
		return nil
	}
	return &api.RawEmail{
		ID:      msg.Id,
		Snippet: msg.Snippet,
		Payload: convertPart(msg.Payload),
	}
}

func convertPart(p *gmail.MessagePart) *api.MessagePart {
	if p == nil {
		return nil
	}

	part := &api.MessagePart{MimeType: p.MimeType}
	if p.Body != nil {
		part.Body = &api.MessagePartBody{Data: p.Body.Data}
	}
	for _, sub := range p.Parts {
		part.Parts = append(part.Parts, convertPart(sub))
	}
	return part
}
