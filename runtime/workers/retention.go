package workers

import (
	"context"
	"log/slog"
	"time"

	"hybridchat/contract"
)

// RetentionWorker deletes messages older than the configured age. Runs on a
// coarse interval; history is otherwise append-only.
type RetentionWorker struct {
	log      *slog.Logger
	interval time.Duration
	maxAge   time.Duration
	store    contract.Store
}

func NewRetentionWorker(log *slog.Logger, interval, maxAge time.Duration,
	store contract.Store) *RetentionWorker {
	return &RetentionWorker{log: log, interval: interval, maxAge: maxAge, store: store}
}

func (w *RetentionWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-w.maxAge)
			deleted, err := w.store.PurgeOlderThan(cutoff)
			if err != nil {
				w.log.Error("Retention purge failed", "err", err)
				continue
			}
			if deleted > 0 {
				w.log.Info("Purged old messages", "deleted", deleted, "cutoff", cutoff)
			}
		}
	}
}
