// Package buffered batches transactions arriving on a channel and hands them
// to a flush function by size or on a timer.
package buffered

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ArionMiles/upiledger/pkg/api"
)

// DefaultBatchSize is the default number of transactions to buffer before flushing.
const DefaultBatchSize = 50

// DefaultFlushInterval is the default interval between automatic flushes.
const DefaultFlushInterval = 30 * time.Second

// Flusher persists one batch. The slice is owned by the callee.
type Flusher func(ctx context.Context, batch []*api.Transaction) error

// Config holds configuration for buffered writing.
type Config struct {
	// BatchSize defaults to DefaultBatchSize.
	BatchSize int
	// FlushInterval defaults to DefaultFlushInterval.
	FlushInterval time.Duration
}

// Writer buffers transactions and flushes them in batches.
type Writer struct {
	mu      sync.Mutex
	buffer  []*api.Transaction
	flush   Flusher
	cfg     Config
	flushed int
	logger  *slog.Logger
}

// New creates a buffered writer around flush.
func New(flush Flusher, cfg Config, logger *slog.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		buffer: make([]*api.Transaction, 0, cfg.BatchSize),
		flush:  flush,
		cfg:    cfg,
		logger: logger,
	}
}

// Write consumes in until it is closed or ctx is done. The remaining buffer is
// flushed in both cases; a flush failure on close is returned, batch-size and
// timer flush failures are logged and the batch is dropped.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	w.logger.Debug("buffered writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("writer stopping, flushing remaining buffer")
			// The caller's context is gone; give the final batch its own.
			if err := w.Flush(context.WithoutCancel(ctx)); err != nil {
				w.logger.Error("failed to flush on shutdown", "error", err)
			}
			return ctx.Err()

		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				w.logger.Error("failed to flush on interval", "error", err)
			}

		case txn, ok := <-in:
			if !ok {
				return w.Flush(ctx)
			}
			if txn == nil {
				continue
			}

			w.mu.Lock()
			w.buffer = append(w.buffer, txn)
			full := len(w.buffer) >= w.cfg.BatchSize
			w.mu.Unlock()

			if full {
				if err := w.Flush(ctx); err != nil {
					w.logger.Error("failed to flush on batch size", "error", err)
				}
			}
		}
	}
}

// Flush writes out everything buffered so far.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := make([]*api.Transaction, len(w.buffer))
	copy(batch, w.buffer)
	w.buffer = w.buffer[:0]
	w.mu.Unlock()

	if err := w.flush(ctx, batch); err != nil {
		return err
	}

	w.mu.Lock()
	w.flushed += len(batch)
	w.mu.Unlock()

	w.logger.Debug("flushed transactions", "count", len(batch))
	return nil
}

// BufferLen returns the number of transactions waiting to be flushed.
func (w *Writer) BufferLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Flushed returns how many transactions have been written successfully.
func (w *Writer) Flushed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushed
}
