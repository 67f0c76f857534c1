// Package sheets implements a Writer that appends transactions to a Google Sheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/backoff"
	"github.com/ArionMiles/upiledger/pkg/writer/buffered"
)

// DefaultSheetName is the tab written to when none is configured.
const DefaultSheetName = "Transactions"

// Header is written to row 1 of a newly created spreadsheet.
var Header = []any{"Date", "Type", "Amount", "Account", "Counterparty", "Category", "Reference", "Source"}

// Config holds configuration for the Sheets writer.
type Config struct {
	// SheetTitle is the title for a new spreadsheet (if SheetID is empty).
	SheetTitle string
	// SheetID is the ID of an existing spreadsheet to use.
	SheetID string
	// SheetName is the tab within the spreadsheet. Defaults to DefaultSheetName.
	SheetName string
	// BatchSize is the number of transactions to buffer before writing.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	FlushInterval time.Duration
	// Policy governs retries of rate-limited appends. Defaults to backoff.DefaultPolicy.
	Policy *backoff.Policy
	// Options are passed to the Sheets service constructor.
	Options []option.ClientOption
}

// Writer writes transactions to a Google Sheet with buffered batching.
type Writer struct {
	client        *sheets.Service
	spreadsheetID string
	sheetName     string
	policy        backoff.Policy
	buffered      *buffered.Writer
	logger        *slog.Logger
}

var _ api.Writer = (*Writer)(nil)

// New opens the configured spreadsheet, creating one titled SheetTitle when
// SheetID is empty or cannot be loaded.
func New(ctx context.Context, httpClient *http.Client, cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SheetName == "" {
		cfg.SheetName = DefaultSheetName
	}
	policy := backoff.DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("sheets retry policy: %w", err)
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, cfg.Options...)
	client, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	w := &Writer{
		client:    client,
		sheetName: cfg.SheetName,
		policy:    policy,
		logger:    logger.With("component", "sheets"),
	}

	id, err := w.initSpreadsheet(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing spreadsheet: %w", err)
	}
	w.spreadsheetID = id

	w.buffered = buffered.New(w.flushBatch, buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, w.logger)

	w.logger.Info("sheets writer initialized", "spreadsheet_id", id, "sheet", cfg.SheetName)
	return w, nil
}

func (w *Writer) initSpreadsheet(ctx context.Context, cfg Config) (string, error) {
	if cfg.SheetID != "" {
		spreadsheet, err := w.client.Spreadsheets.Get(cfg.SheetID).Context(ctx).Do()
		if err == nil {
			w.logger.Info("using existing spreadsheet", "title", spreadsheet.Properties.Title, "id", cfg.SheetID)
			return spreadsheet.SpreadsheetId, nil
		}
		w.logger.Warn("failed to get spreadsheet, will create new one", "id", cfg.SheetID, "error", err)
	}

	spreadsheet, err := w.client.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: cfg.SheetTitle},
		Sheets: []*sheets.Sheet{
			{Properties: &sheets.SheetProperties{Title: cfg.SheetName}},
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("creating spreadsheet: %w", err)
	}
	w.logger.Info("created new spreadsheet", "title", cfg.SheetTitle, "id", spreadsheet.SpreadsheetId)

	header := &sheets.ValueRange{Values: [][]any{Header}}
	_, err = w.client.Spreadsheets.Values.Update(spreadsheet.SpreadsheetId, w.sheetName+"!A1", header).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	return spreadsheet.SpreadsheetId, nil
}

// Row renders a transaction as one sheet row in Header order.
func Row(t *api.Transaction) []any {
	return []any{
		t.Date.Format(time.DateOnly),
		string(t.Type),
		t.Amount.StringFixed(2),
		t.Account,
		t.Counterparty,
		string(t.Category),
		// Leading apostrophe keeps references like 0042917 as text.
		"'" + t.Reference,
		t.SourceID,
	}
}

// Write consumes transactions until in is closed or ctx is done.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	return w.buffered.Write(ctx, in)
}

// flushBatch appends a batch in one API call, retrying on HTTP 429.
func (w *Writer) flushBatch(ctx context.Context, batch []*api.Transaction) error {
	values := make([][]any, 0, len(batch))
	for _, t := range batch {
		values = append(values, Row(t))
	}
	req := &sheets.ValueRange{Values: values}

	err := w.policy.Do(ctx,
		func() error {
			_, err := w.client.Spreadsheets.Values.Append(w.spreadsheetID, w.sheetName+"!A:H", req).
				ValueInputOption("USER_ENTERED").
				InsertDataOption("INSERT_ROWS").
				Context(ctx).
				Do()
			return err
		},
		backoff.RetryIf(isRateLimited),
		backoff.OnRetry(func(n uint, delay time.Duration, err error) {
			w.logger.Warn("rate limited, will retry", "attempt", n+1, "delay", delay, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("appending batch to sheet: %w", err)
	}

	w.logger.Info("wrote transaction batch", "count", len(batch))
	return nil
}

func isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests
}

// SpreadsheetID returns the ID of the spreadsheet being written to.
func (w *Writer) SpreadsheetID() string {
	return w.spreadsheetID
}
