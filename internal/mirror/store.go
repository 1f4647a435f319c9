// Package mirror maintains a local Postgres copy of a cloud mailbox and the
// delta cursors that keep it current.
package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cosmail/engine/internal/graph"
)

// ErrRowNotFound is returned when a requested mirror row cannot be found.
var ErrRowNotFound = errors.New("mirror row not found")

// Schema creates the mirror tables. Applied at startup; every statement is
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS mail_mirror (
    remote_id TEXT PRIMARY KEY,
    mailbox TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    sender_name TEXT NOT NULL DEFAULT '',
    sender_address TEXT NOT NULL DEFAULT '',
    preview TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    received_at TIMESTAMPTZ,
    sent_at TIMESTAMPTZ,
    is_read BOOLEAN NOT NULL DEFAULT FALSE,
    importance TEXT NOT NULL DEFAULT 'normal',
    has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
    conversation_id TEXT NOT NULL DEFAULT '',
    categories TEXT[] NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_mail_mirror_mailbox_received
    ON mail_mirror (mailbox, received_at DESC);

CREATE TABLE IF NOT EXISTS sync_cursor (
    mailbox TEXT PRIMARY KEY,
    delta_link TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema applies the mirror schema to the connected database.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply mirror schema: %w", err)
	}
	return nil
}

// UpsertMessage saves or updates one mirrored message.
func UpsertMessage(ctx context.Context, pool *pgxpool.Pool, mailbox string, msg graph.Message) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO mail_mirror (
			remote_id,
			mailbox,
			subject,
			sender_name,
			sender_address,
			preview,
			content,
			received_at,
			sent_at,
			is_read,
			importance,
			has_attachments,
			conversation_id,
			categories,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (remote_id) DO UPDATE SET
			mailbox = EXCLUDED.mailbox,
			subject = EXCLUDED.subject,
			sender_name = EXCLUDED.sender_name,
			sender_address = EXCLUDED.sender_address,
			preview = EXCLUDED.preview,
			content = EXCLUDED.content,
			received_at = EXCLUDED.received_at,
			sent_at = EXCLUDED.sent_at,
			is_read = EXCLUDED.is_read,
			importance = EXCLUDED.importance,
			has_attachments = EXCLUDED.has_attachments,
			conversation_id = EXCLUDED.conversation_id,
			categories = EXCLUDED.categories,
			updated_at = NOW()
	`,
		msg.ID,
		mailbox,
		msg.Subject,
		msg.SenderName,
		msg.SenderAddress,
		msg.Preview,
		msg.Content,
		msg.ReceivedAt,
		msg.SentAt,
		msg.IsRead,
		msg.Importance,
		msg.HasAttachments,
		msg.ConversationID,
		msg.Categories,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert mirror row %s: %w", msg.ID, err)
	}
	return nil
}

// DeleteMessage removes one mirrored message. Deleting a row that is not
// mirrored is not an error.
func DeleteMessage(ctx context.Context, pool *pgxpool.Pool, remoteID string) error {
	if _, err := pool.Exec(ctx, `DELETE FROM mail_mirror WHERE remote_id = $1`, remoteID); err != nil {
		return fmt.Errorf("failed to delete mirror row %s: %w", remoteID, err)
	}
	return nil
}

// GetMessage fetches one mirrored message by its remote id.
func GetMessage(ctx context.Context, pool *pgxpool.Pool, remoteID string) (graph.Message, error) {
	var msg graph.Message
	err := pool.QueryRow(ctx, `
		SELECT remote_id, subject, sender_name, sender_address, preview, content,
		       received_at, sent_at, is_read, importance, has_attachments,
		       conversation_id, categories
		FROM mail_mirror
		WHERE remote_id = $1
	`, remoteID).Scan(
		&msg.ID,
		&msg.Subject,
		&msg.SenderName,
		&msg.SenderAddress,
		&msg.Preview,
		&msg.Content,
		&msg.ReceivedAt,
		&msg.SentAt,
		&msg.IsRead,
		&msg.Importance,
		&msg.HasAttachments,
		&msg.ConversationID,
		&msg.Categories,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return graph.Message{}, ErrRowNotFound
		}
		return graph.Message{}, fmt.Errorf("failed to get mirror row %s: %w", remoteID, err)
	}
	return msg, nil
}

// ListMessages returns the newest mirrored messages for a mailbox.
func ListMessages(ctx context.Context, pool *pgxpool.Pool, mailbox string, limit int) ([]graph.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT remote_id, subject, sender_name, sender_address, preview, content,
		       received_at, sent_at, is_read, importance, has_attachments,
		       conversation_id, categories
		FROM mail_mirror
		WHERE mailbox = $1
		ORDER BY received_at DESC
		LIMIT $2
	`, mailbox, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirror rows for %s: %w", mailbox, err)
	}
	defer rows.Close()

	var messages []graph.Message
	for rows.Next() {
		var msg graph.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.Subject,
			&msg.SenderName,
			&msg.SenderAddress,
			&msg.Preview,
			&msg.Content,
			&msg.ReceivedAt,
			&msg.SentAt,
			&msg.IsRead,
			&msg.Importance,
			&msg.HasAttachments,
			&msg.ConversationID,
			&msg.Categories,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mirror row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mirror rows: %w", err)
	}
	return messages, nil
}

// CountMessages returns the number of mirrored messages for a mailbox.
func CountMessages(ctx context.Context, pool *pgxpool.Pool, mailbox string) (int, error) {
	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM mail_mirror WHERE mailbox = $1`, mailbox).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count mirror rows for %s: %w", mailbox, err)
	}
	return count, nil
}

// GetCursor returns the stored delta link for a mailbox, or "" when the
// mailbox has never completed an initial sync.
func GetCursor(ctx context.Context, pool *pgxpool.Pool, mailbox string) (string, error) {
	var link string
	err := pool.QueryRow(ctx, `SELECT delta_link FROM sync_cursor WHERE mailbox = $1`, mailbox).Scan(&link)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get sync cursor for %s: %w", mailbox, err)
	}
	return link, nil
}

// SaveCursor stores the delta link for a mailbox, replacing any previous one.
func SaveCursor(ctx context.Context, pool *pgxpool.Pool, mailbox, deltaLink string) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO sync_cursor (mailbox, delta_link, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (mailbox) DO UPDATE SET
			delta_link = EXCLUDED.delta_link,
			updated_at = NOW()
	`, mailbox, deltaLink)
	if err != nil {
		return fmt.Errorf("failed to save sync cursor for %s: %w", mailbox, err)
	}
	return nil
}

// DeleteCursor discards the stored delta link for a mailbox, forcing the next
// sync to start over.
func DeleteCursor(ctx context.Context, pool *pgxpool.Pool, mailbox string) error {
	if _, err := pool.Exec(ctx, `DELETE FROM sync_cursor WHERE mailbox = $1`, mailbox); err != nil {
		return fmt.Errorf("failed to delete sync cursor for %s: %w", mailbox, err)
	}
	return nil
}
