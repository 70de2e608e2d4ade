package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domainerrors "github.com/chorusfm/moderation-server/internal/errors"
)

// UpsertSubscriberCursor records the last seq a subscriber acknowledged.
// Cursors only move forward; a stale ack is ignored.
func (s *Store) UpsertSubscriberCursor(ctx context.Context, subscriberID string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriber_cursors (subscriber_id, seq, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(subscriber_id) DO UPDATE SET
			seq = MAX(subscriber_cursors.seq, excluded.seq),
			updated_at = excluded.updated_at`,
		subscriberID, seq, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert subscriber cursor: %w", err)
	}
	return nil
}

// GetSubscriberCursor returns the last acknowledged seq for a subscriber.
func (s *Store) GetSubscriberCursor(ctx context.Context, subscriberID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM subscriber_cursors WHERE subscriber_id = ?`, subscriberID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domainerrors.NotFoundf("no cursor for subscriber %s", subscriberID)
	}
	if err != nil {
		return 0, fmt.Errorf("get subscriber cursor: %w", err)
	}
	return seq, nil
}
