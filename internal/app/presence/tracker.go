/*
Package presence tracks per-user liveness. Online is a derived, decaying state:
heartbeat writes refresh it, and a periodic sweep expires records whose last
heartbeat is older than the staleness window. The sweep is race-safe against
concurrent heartbeats through compare semantics in the store (only still-stale
records are flipped offline), not through locking around the whole cycle.
*/
package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Plannorium/curenium-sub005/internal/pkg/logx"
)

const (
	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = 60 * time.Second

	// DefaultStaleAfter is how long after the last heartbeat a user still
	// counts as online.
	DefaultStaleAfter = 90 * time.Second
)

// Record is one user's presence state.
type Record struct {
	UserID        string    `json:"userId"`
	Online        bool      `json:"online"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Store persists presence records. ExpireStale must only flip records that are
// online and whose last heartbeat predates the threshold, so a heartbeat that
// lands between a sweep's read and write is never clobbered back to offline.
type Store interface {
	Heartbeat(ctx context.Context, userID string, at time.Time) error
	SetOffline(ctx context.Context, userID string) error
	ExpireStale(ctx context.Context, threshold time.Time) (int64, error)
	Get(ctx context.Context, userID string) (Record, bool, error)
}

// Tracker drives heartbeat writes and the recurring sweep.
type Tracker struct {
	store      Store
	interval   time.Duration
	staleAfter time.Duration
	logger     zerolog.Logger
}

// NewTracker builds a tracker; non-positive durations fall back to defaults.
func NewTracker(store Store, interval, staleAfter time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	return &Tracker{
		store:      store,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logx.Logger().With().Str("component", "PresenceTracker").Logger(),
	}
}

// Heartbeat marks the user online and refreshes their last-seen timestamp.
// Idempotent.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	return t.store.Heartbeat(ctx, userID, time.Now())
}

// MarkOffline clears the user's online flag. Idempotent.
func (t *Tracker) MarkOffline(ctx context.Context, userID string) error {
	return t.store.SetOffline(ctx, userID)
}

// Sweep expires every record whose last heartbeat is older than staleAfter
// relative to now. Repeated sweeps produce the same state.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return t.store.ExpireStale(ctx, now.Add(-t.staleAfter))
}

// Run executes the sweep on the configured interval until ctx is done. It is
// a background task independent of any connection's lifecycle.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().
		Dur("interval", t.interval).
		Dur("stale_after", t.staleAfter).
		Msg("Presence sweep loop started.")

	for {
		select {
		case <-ticker.C:
			expired, err := t.Sweep(ctx, time.Now())
			if err != nil {
				t.logger.Error().Err(err).Msg("Presence sweep failed.")
				continue
			}
			if expired > 0 {
				t.logger.Info().Int64("expired", expired).Msg("Presence sweep marked stale users offline.")
			}

		case <-ctx.Done():
			t.logger.Info().Msg("Presence sweep loop stopped.")
			return
		}
	}
}
