package pairing

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically expires overdue pending sessions and evicts terminal
// sessions past the retention window.
type Reaper struct {
	store     Store
	interval  time.Duration
	retention time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewReaper(store Store, interval, retention time.Duration) *Reaper {
	return &Reaper{store: store, interval: interval, retention: retention}
}

func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	now := time.Now()
	expired, err := r.store.ExpirePending(ctx, now)
	if err != nil {
		slog.Warn("reaper failed to expire pending sessions", "err", err)
	}
	evicted, err := r.store.EvictTerminal(ctx, now.Add(-r.retention))
	if err != nil {
		slog.Warn("reaper failed to evict terminal sessions", "err", err)
	}
	if expired > 0 || evicted > 0 {
		slog.Info("reaper sweep", "expired", expired, "evicted", evicted)
	}
}
