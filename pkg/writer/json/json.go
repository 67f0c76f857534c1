// Package json implements a Writer that keeps transactions in a JSON array file.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/writer/buffered"
)

// Config holds configuration for the JSON writer.
type Config struct {
	// FilePath is the path to the JSON output file.
	FilePath string
	// BatchSize is the number of transactions to buffer before writing.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	FlushInterval time.Duration
}

// Writer writes transactions to a JSON file with buffered batching.
// Entries already in the file are kept; a reference present in the file is
// replaced by the newer record instead of being duplicated.
type Writer struct {
	path     string
	mu       sync.Mutex
	txns     []*api.Transaction
	index    map[string]int
	buffered *buffered.Writer
	logger   *slog.Logger
}

var _ api.Writer = (*Writer)(nil)

// New creates a JSON writer, loading any transactions already in the file.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("json writer: file path is required")
	}

	w := &Writer{
		path:   cfg.FilePath,
		index:  make(map[string]int),
		logger: logger.With("component", "json"),
	}

	if err := w.load(); err != nil {
		return nil, fmt.Errorf("loading %s: %w", cfg.FilePath, err)
	}

	w.buffered = buffered.New(w.flushBatch, buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, w.logger)

	w.logger.Info("json writer initialized", "file", cfg.FilePath, "existing_count", len(w.txns))
	return w, nil
}

func (w *Writer) load() error {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return err
	}

	var txns []*api.Transaction
	if err := json.Unmarshal(data, &txns); err != nil {
		return err
	}
	for _, t := range txns {
		w.add(t)
	}
	return nil
}

func (w *Writer) add(t *api.Transaction) {
	if i, ok := w.index[t.Reference]; ok {
		w.txns[i] = t
		return
	}
	w.index[t.Reference] = len(w.txns)
	w.txns = append(w.txns, t)
}

// Write consumes transactions until in is closed or ctx is done.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	return w.buffered.Write(ctx, in)
}

// flushBatch rewrites the whole file; JSON arrays can't be appended to in place.
func (w *Writer) flushBatch(_ context.Context, batch []*api.Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, t := range batch {
		w.add(t)
	}

	data, err := json.MarshalIndent(w.txns, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing json file: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("replacing json file: %w", err)
	}

	w.logger.Debug("wrote transactions to json", "batch_count", len(batch), "total_count", len(w.txns))
	return nil
}

// Count returns the number of distinct transactions held in the file.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.txns)
}
