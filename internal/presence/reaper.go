package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
)

// Reaper marks presence records offline once their owner has neither called
// the server nor refreshed lastSeen within the TTL. It runs on the server
// against the unscoped store.
type Reaper struct {
	store    docstore.Store
	liveness Liveness
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewReaper returns a Reaper sweeping every interval.
func NewReaper(store docstore.Store, liveness Liveness, ttl, interval time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:    store,
		liveness: liveness,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := r.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("presence sweep failed", "error", err)
			continue
		}
		if n > 0 {
			r.logger.Info("stale presence cleared", "count", n)
		}
	}
}

// Sweep clears stale online records and returns how many it changed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	docs, err := r.store.Query(ctx, OnlineQuery())
	if err != nil {
		return 0, err
	}
	cutoff := r.now().Add(-r.ttl)
	cleared := 0
	for _, doc := range docs {
		rec := RecordFromDocument(doc)
		if !rec.LastSeen.IsZero() && rec.LastSeen.After(cutoff) {
			continue
		}
		alive, err := r.liveness.Alive(ctx, rec.UserID)
		if err != nil {
			// an unknown state never takes a user offline
			r.logger.Warn("liveness check failed", "user_id", rec.UserID, "error", err)
			continue
		}
		if alive {
			continue
		}
		if err := MarkOffline(ctx, r.store, doc.ID); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}
