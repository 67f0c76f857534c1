// Package daemon runs ingestion against a mail reader, once or on a schedule.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/orchestrator"
)

// Ingester is the part of orchestrator.Coordinator the runner drives.
type Ingester interface {
	ExistingReferences(ctx context.Context, userID string) (map[string]struct{}, error)
	Ingest(ctx context.Context, userID string, emails []*api.RawEmail, existing map[string]struct{}) (*orchestrator.Result, error)
}

// Watcher is implemented by readers that schedule their own fetches.
type Watcher interface {
	Watch(ctx context.Context, handle func(context.Context, []*api.RawEmail) error) error
}

// Runner feeds reader batches to an Ingester for one user. It keeps the set
// of known references between runs so repeated polls skip the store lookup
// for transactions it has already seen.
type Runner struct {
	ingester Ingester
	userID   string
	logger   *slog.Logger

	mu    sync.Mutex
	known map[string]struct{}
}

// New creates a Runner.
func New(ingester Ingester, userID string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		ingester: ingester,
		userID:   userID,
		logger:   logger.With("component", "daemon", "user_id", userID),
	}
}

// RunOnce fetches one batch from reader and ingests it. An empty batch yields
// an empty result. Runs are serialized.
func (r *Runner) RunOnce(ctx context.Context, reader api.Reader) (*orchestrator.Result, error) {
	emails, err := reader.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching emails: %w", err)
	}
	return r.Ingest(ctx, emails)
}

// Ingest ingests an already fetched batch.
func (r *Runner) Ingest(ctx context.Context, emails []*api.RawEmail) (*orchestrator.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.known == nil {
		known, err := r.ingester.ExistingReferences(ctx, r.userID)
		if err != nil {
			return nil, err
		}
		r.known = known
	}

	res, err := r.ingester.Ingest(ctx, r.userID, emails, r.known)
	if errors.Is(err, orchestrator.ErrNoInput) {
		return &orchestrator.Result{}, nil
	}
	if res != nil {
		r.logger.Info("batch ingested",
			"emails", len(emails),
			"saved", len(res.Saved),
			"skipped", res.Skipped,
			"failed", len(res.Errors),
		)
	}
	return res, err
}

// Poll ingests from reader until the context is canceled. Readers that
// implement Watcher drive their own schedule; others are fetched every
// interval. A non-positive interval runs a single pass.
func (r *Runner) Poll(ctx context.Context, reader api.Reader, interval time.Duration) error {
	if w, ok := reader.(Watcher); ok {
		r.logger.Info("watching reader")
		err := w.Watch(ctx, func(ctx context.Context, emails []*api.RawEmail) error {
			_, err := r.Ingest(ctx, emails)
			return err
		})
		return ignoreCanceled(err)
	}

	if interval <= 0 {
		_, err := r.RunOnce(ctx, reader)
		return ignoreCanceled(err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx, reader); err != nil && ctx.Err() == nil {
			r.logger.Error("ingestion run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("daemon stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
