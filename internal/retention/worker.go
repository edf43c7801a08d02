// Package retention trims the interaction history in the background.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultInterval = 10 * time.Minute

// Pruner deletes all but the keep most recent interactions.
type Pruner interface {
	PruneInteractions(keep int) (int64, error)
}

// Worker periodically prunes the history down to a fixed number of rows.
type Worker struct {
	store  Pruner
	keep   int
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker keeping the keep most recent interactions.
// If interval is <= 0, it defaults to 10 minutes.
func NewWorker(store Pruner, keep int, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Worker{
		store:  store,
		keep:   keep,
		poll:   interval,
		logger: slog.Default(),
	}
}

// Run prunes once immediately and then on every interval until ctx is
// cancelled. A keep of zero or less disables pruning and Run returns nil at once.
func (w *Worker) Run(ctx context.Context) error {
	if w.keep <= 0 {
		return nil
	}
	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("retention iteration failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.poll):
		}
	}
}

// RunOnce performs a single prune and returns the number of rows removed.
func (w *Worker) RunOnce(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed, err := w.store.PruneInteractions(w.keep)
	if err != nil {
		return 0, fmt.Errorf("pruning interactions: %w", err)
	}
	if removed > 0 {
		w.logger.Info("pruned interaction history", "removed", removed, "kept", w.keep)
	}
	return removed, nil
}
