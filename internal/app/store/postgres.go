/*
Package store provides the MessageStore implementations: a Postgres store for
production and an in-memory store for tests and single-node development.
*/
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Plannorium/curenium-sub005/internal/app/chat"
)

const messageColumns = `id, room_key, sender_id, sender_name, sender_avatar, body,
	attachment, reactions, pinned, status, created_at, updated_at`

// Postgres is the durable chat.MessageStore backed by the messages table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an initialized connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Append implements chat.MessageStore. The database assigns the authoritative
// timestamps; the recipient column is derived from the canonical room key so
// the aggregator can resolve two-party membership structurally.
func (p *Postgres) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	attachment, err := marshalAttachment(msg.Attachment)
	if err != nil {
		return chat.Message{}, err
	}

	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return chat.Message{}, fmt.Errorf("marshal reactions: %w", err)
	}

	var recipient *string
	if r := chat.RecipientOf(msg.RoomKey, msg.Sender.ID); r != "" {
		recipient = &r
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO messages
			(id, room_key, sender_id, sender_name, sender_avatar, body, attachment, reactions, pinned, status, recipient_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		msg.ID, msg.RoomKey, msg.Sender.ID, msg.Sender.DisplayName, msg.Sender.Avatar,
		msg.Body, attachment, reactions, msg.Pinned, string(msg.Status), recipient,
	)

	if err := row.Scan(&msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return chat.Message{}, fmt.Errorf("append message: %w", err)
	}

	return msg, nil
}

// Mutate implements chat.MessageStore. The record is locked for the duration
// of the read-apply-write so concurrent mutations of the same message (e.g.
// two reaction toggles from different rooms' HTTP paths) serialize here.
func (p *Postgres) Mutate(ctx context.Context, roomKey, messageID string, patch chat.Patch) (chat.Message, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return chat.Message{}, fmt.Errorf("begin mutate: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE room_key = $1 AND id = $2
		FOR UPDATE`,
		roomKey, messageID,
	)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Message{}, chat.ErrMessageNotFound
		}
		return chat.Message{}, fmt.Errorf("load message for mutate: %w", err)
	}

	patch.Apply(&msg)

	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return chat.Message{}, fmt.Errorf("marshal reactions: %w", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE messages
		SET reactions = $1, pinned = $2, status = $3, updated_at = now()
		WHERE id = $4
		RETURNING updated_at`,
		reactions, msg.Pinned, string(msg.Status), msg.ID,
	).Scan(&msg.UpdatedAt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("store mutation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return chat.Message{}, fmt.Errorf("commit mutate: %w", err)
	}

	return msg, nil
}

// ListRecent implements chat.MessageStore.
func (p *Postgres) ListRecent(ctx context.Context, roomKey string, before time.Time, limit int) ([]chat.Message, error) {
	var cursor *time.Time
	if !before.IsZero() {
		cursor = &before
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE room_key = $1
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, seq DESC
		LIMIT $3`,
		roomKey, cursor, nullableLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// MostRecentPerRoom implements chat.MessageStore: one latest message per room
// where the user is sender or recipient, descending, truncated to limit.
func (p *Postgres) MostRecentPerRoom(ctx context.Context, userID string, limit int) ([]chat.Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM (
			SELECT DISTINCT ON (room_key) `+messageColumns+`, seq
			FROM messages
			WHERE room_key IN (
				SELECT room_key FROM messages WHERE sender_id = $1 OR recipient_id = $1
			)
			ORDER BY room_key, created_at DESC, seq DESC
		) latest
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`,
		userID, nullableLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("most recent per room: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// nullableLimit maps "no limit" to SQL NULL (LIMIT NULL means LIMIT ALL).
func nullableLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func marshalAttachment(a *chat.Attachment) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal attachment: %w", err)
	}
	return data, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (chat.Message, error) {
	var (
		msg        chat.Message
		attachment []byte
		reactions  []byte
		status     string
	)

	err := row.Scan(
		&msg.ID, &msg.RoomKey, &msg.Sender.ID, &msg.Sender.DisplayName, &msg.Sender.Avatar,
		&msg.Body, &attachment, &reactions, &msg.Pinned, &status, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return chat.Message{}, err
	}

	msg.Status = chat.DeliveryStatus(status)

	if len(attachment) > 0 {
		msg.Attachment = &chat.Attachment{}
		if err := json.Unmarshal(attachment, msg.Attachment); err != nil {
			return chat.Message{}, fmt.Errorf("unmarshal attachment: %w", err)
		}
	}

	msg.Reactions = map[string][]string{}
	if len(reactions) > 0 {
		if err := json.Unmarshal(reactions, &msg.Reactions); err != nil {
			return chat.Message{}, fmt.Errorf("unmarshal reactions: %w", err)
		}
	}

	return msg, nil
}

func collectMessages(rows pgx.Rows) ([]chat.Message, error) {
	var out []chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}
