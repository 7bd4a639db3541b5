package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable presence Store backed by the presence table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an initialized connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Heartbeat implements Store. GREATEST keeps the newest timestamp when a sweep
// and a heartbeat race on the same row.
func (s *PostgresStore) Heartbeat(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO presence (user_id, online, last_heartbeat)
		VALUES ($1, true, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET online = true, last_heartbeat = GREATEST(presence.last_heartbeat, EXCLUDED.last_heartbeat)`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("presence heartbeat: %w", err)
	}
	return nil
}

// SetOffline implements Store.
func (s *PostgresStore) SetOffline(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE presence SET online = false WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("presence set offline: %w", err)
	}
	return nil
}

// ExpireStale implements Store. The WHERE clause is the compare-and-set that
// makes the sweep safe against concurrent heartbeats: a row refreshed after
// the sweep's snapshot no longer matches and is left online.
func (s *PostgresStore) ExpireStale(ctx context.Context, threshold time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE presence
		SET online = false
		WHERE online = true AND last_heartbeat < $1`,
		threshold,
	)
	if err != nil {
		return 0, fmt.Errorf("presence expire stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, userID string) (Record, bool, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, online, last_heartbeat FROM presence WHERE user_id = $1`,
		userID,
	).Scan(&rec.UserID, &rec.Online, &rec.LastHeartbeat)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("presence get: %w", err)
	}

	return rec, true, nil
}
