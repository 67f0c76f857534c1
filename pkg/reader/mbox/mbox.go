// Package mbox implements a Reader over a local mbox archive, for importing
// notification emails exported from a mail client or Google Takeout.
package mbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	gombox "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/ArionMiles/upiledger/pkg/api"
)

// Config holds configuration for the mbox reader.
type Config struct {
	// Path to the mbox file.
	Path string
	// From keeps only messages whose From header contains this address,
	// case-insensitively. Empty keeps everything.
	From string
}

// Reader reads RawEmails from an mbox file.
type Reader struct {
	path   string
	from   string
	logger *slog.Logger
}

var _ api.Reader = (*Reader)(nil)

// New creates an mbox reader.
func New(cfg Config, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		return nil, errors.New("mbox path is required")
	}

	return &Reader{
		path:   cfg.Path,
		from:   strings.ToLower(cfg.From),
		logger: logger.With("component", "mbox"),
	}, nil
}

// Fetch reads every message in the archive.
func (r *Reader) Fetch(ctx context.Context) ([]*api.RawEmail, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("opening mbox: %w", err)
	}
	defer f.Close()

	return r.Read(ctx, f)
}

// Read parses an mbox stream. Messages that fail to parse are logged and skipped.
func (r *Reader) Read(ctx context.Context, src io.Reader) ([]*api.RawEmail, error) {
	mr := gombox.NewReader(src)

	var emails []*api.RawEmail
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return emails, err
		}

		raw, err := mr.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return emails, fmt.Errorf("reading message %d: %w", i, err)
		}

		msg, err := message.Read(raw)
		if err != nil && !lenient(err) {
			r.logger.Warn("skipping unreadable message", "index", i, "error", err)
			continue
		}
		if r.from != "" && !strings.Contains(strings.ToLower(msg.Header.Get("From")), r.from) {
			continue
		}

		email, err := Convert(msg)
		if err != nil {
			r.logger.Warn("skipping undecodable message", "index", i, "error", err)
			continue
		}
		if email.ID == "" {
			email.ID = "mbox-" + strconv.Itoa(i)
		}
		emails = append(emails, email)
	}

	r.logger.Info("read mbox", "file", r.path, "count", len(emails))
	return emails, nil
}

// Convert turns a parsed RFC 5322 message into a RawEmail. Transfer encodings
// and charsets are decoded by go-message; part bodies are re-encoded as
// UTF-8 base64.
func Convert(e *message.Entity) (*api.RawEmail, error) {
	h := mail.Header{Header: e.Header}

	id, err := h.MessageID()
	if err != nil {
		id = strings.Trim(h.Get("Message-Id"), "<> ")
	}
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}

	part, err := convertPart(e)
	if err != nil {
		return nil, err
	}

	return &api.RawEmail{
		ID:      id,
		Snippet: subject,
		Payload: part,
	}, nil
}

func convertPart(e *message.Entity) (*api.MessagePart, error) {
	mediaType, params, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}

	part := &api.MessagePart{MimeType: mediaType}

	if mr := e.MultipartReader(); mr != nil {
		if params["boundary"] == "" {
			return nil, fmt.Errorf("%s without boundary", mediaType)
		}
		for {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil && !lenient(err) {
				return nil, fmt.Errorf("reading %s part: %w", mediaType, err)
			}
			p, err := convertPart(child)
			if err != nil {
				return nil, err
			}
			part.Parts = append(part.Parts, p)
		}
		return part, nil
	}

	data, err := io.ReadAll(e.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding %s body: %w", mediaType, err)
	}
	part.Body = &api.MessagePartBody{Data: base64.URLEncoding.EncodeToString(data)}
	return part, nil
}

// lenient reports whether go-message could not decode a charset or transfer
// encoding. The entity is still usable; its body is passed through raw.
func lenient(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
