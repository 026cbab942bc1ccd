package board

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/elizov/khpi-corporate-systems/pkg/orderclient"
)

// PendingSource lists and looks up orders; *orderclient.Client satisfies it.
type PendingSource interface {
	ListByStatus(ctx context.Context, status string) ([]contracts.OrderView, error)
	GetOrder(ctx context.Context, orderID string) (*contracts.OrderView, error)
}

// Reconciler periodically removes inbox entries for orders that were
// decided outside this service, for example by another admin replica.
type Reconciler struct {
	inbox    *RedisInbox
	source   PendingSource
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewReconciler(inbox *RedisInbox, source PendingSource, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{inbox: inbox, source: source, interval: interval, now: time.Now, logger: logger}
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("inbox reconcile failed", slog.Any("error", err))
			}
		}
	}
}

// RunOnce performs a single pass and returns how many entries were removed.
// The NEW listing only nominates candidates: an order committed between the
// listing and the inbox read is missing from it, so each candidate is looked
// up again before removal.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.now()
	pending, err := r.source.ListByStatus(ctx, "NEW")
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(pending))
	for _, o := range pending {
		ids = append(ids, o.ID)
	}

	stale, err := r.inbox.Stale(ctx, ids, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	var lookupErr error
	for _, id := range stale {
		order, err := r.source.GetOrder(ctx, id)
		switch {
		case errors.Is(err, orderclient.ErrNotFound):
		case err != nil:
			lookupErr = errors.Join(lookupErr, err)
			continue
		case order.Status == "NEW":
			continue
		}
		if err := r.inbox.Remove(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		r.logger.Info("inbox reconciled", slog.Int("removed", removed))
	}
	return removed, lookupErr
}
