package db

import (
	"context"
	"fmt"
	"time"

	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/store"
)

func (db *DB) InsertMessage(ctx context.Context, m *models.Message) error {
	if m.Version == 0 {
		m.Version = 1
	}
	doc, err := encode(m)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, created_at, expires_at, read_at, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.SenderID, m.CreatedAt.UnixNano(), nanos(m.ExpiresAt), nanos(m.ReadAt), doc,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (db *DB) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return getDoc[models.Message](ctx, db.conn, "SELECT doc FROM messages WHERE id = ?", id)
}

func (db *DB) ListMessages(ctx context.Context, chatID string, now time.Time, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = store.DefaultMessageLimit
	}
	// Newest page first, then flipped so callers receive chronological order.
	msgs, err := listDocs[models.Message](ctx, db.conn,
		`SELECT doc FROM (
			SELECT doc, created_at FROM messages
			WHERE chat_id = ? AND (expires_at IS NULL OR expires_at > ?)
			ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`,
		chatID, now.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (db *DB) UpdateMessage(ctx context.Context, id string, mutate store.MessageMutation) (*models.Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	m, err := getDoc[models.Message](ctx, tx, "SELECT doc FROM messages WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	changed, err := mutate(m)
	if err != nil {
		return nil, err
	}
	if !changed {
		return m, nil
	}

	m.Version++
	doc, err := encode(m)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE messages SET read_at = ?, doc = ? WHERE id = ?",
		nanos(m.ReadAt), doc, id,
	); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

func (db *DB) DeleteMessage(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireAffected(res)
}

func (db *DB) CountUnread(ctx context.Context, chatID, userID string, now time.Time) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE chat_id = ? AND sender_id != ? AND read_at IS NULL
		 AND (expires_at IS NULL OR expires_at > ?)`,
		chatID, userID, now.UnixNano(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
