// Package csv implements a Writer that appends transactions to a CSV file.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/writer/buffered"
)

// Header is the first row of a new file.
var Header = []string{"Date", "Type", "Amount", "Account", "Counterparty", "Category", "Reference", "Source"}

// Config holds configuration for the CSV writer.
type Config struct {
	// FilePath is the path to the CSV output file.
	FilePath string
	// BatchSize is the number of transactions to buffer before writing.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	FlushInterval time.Duration
}

// Writer writes transactions to a CSV file with buffered batching.
type Writer struct {
	path     string
	mu       sync.Mutex
	file     *os.File
	csv      *csv.Writer
	buffered *buffered.Writer
	logger   *slog.Logger
}

var _ api.Writer = (*Writer)(nil)

// New opens (or creates) the file and writes the header if it is empty.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("csv writer: file path is required")
	}

	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}

	w := &Writer{
		path:   cfg.FilePath,
		file:   file,
		csv:    csv.NewWriter(file),
		logger: logger.With("component", "csv"),
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}
	if stat.Size() == 0 {
		if err := w.writeRows([][]string{Header}); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("writing header: %w", err)
		}
	}

	w.buffered = buffered.New(w.flushBatch, buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, w.logger)

	w.logger.Info("csv writer initialized", "file", cfg.FilePath)
	return w, nil
}

// Record renders a transaction as one CSV row in Header order.
func Record(t *api.Transaction) []string {
	return []string{
		t.Date.Format(time.DateOnly),
		string(t.Type),
		t.Amount.StringFixed(2),
		t.Account,
		t.Counterparty,
		string(t.Category),
		t.Reference,
		t.SourceID,
	}
}

// Write consumes transactions until in is closed or ctx is done, then closes the file.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	defer func() {
		if err := w.Close(); err != nil {
			w.logger.Error("failed to close csv file", "error", err)
		}
	}()
	return w.buffered.Write(ctx, in)
}

func (w *Writer) flushBatch(_ context.Context, batch []*api.Transaction) error {
	rows := make([][]string, 0, len(batch))
	for _, t := range batch {
		rows = append(rows, Record(t))
	}
	return w.writeRows(rows)
}

func (w *Writer) writeRows(rows [][]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.csv.WriteAll(rows); err != nil {
		return fmt.Errorf("writing csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.csv.Flush()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing csv file: %w", err)
	}
	return nil
}
