package db

import (
	"context"
	"fmt"

	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/store"
)

const participantClause = `EXISTS (SELECT 1 FROM json_each(chats.doc, '$.participants') WHERE json_each.value = ?)`

func (db *DB) CreateChat(ctx context.Context, c *models.Chat) error {
	if c.Version == 0 {
		c.Version = 1
	}
	doc, err := encode(c)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO chats (id, is_group, last_message_time, doc) VALUES (?, ?, ?, ?)",
		c.ID, c.IsGroup, c.LastMessageTime.UnixNano(), doc,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (db *DB) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	return getDoc[models.Chat](ctx, db.conn, "SELECT doc FROM chats WHERE id = ?", id)
}

func (db *DB) FindDirectChat(ctx context.Context, a, b string) (*models.Chat, error) {
	return getDoc[models.Chat](ctx, db.conn,
		"SELECT doc FROM chats WHERE is_group = 0 AND "+participantClause+" AND "+participantClause+" LIMIT 1",
		a, b,
	)
}

func (db *DB) ListChatsForUser(ctx context.Context, userID string) ([]*models.Chat, error) {
	chats, err := listDocs[models.Chat](ctx, db.conn,
		"SELECT doc FROM chats WHERE "+participantClause+" ORDER BY last_message_time DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

func (db *DB) UpdateChat(ctx context.Context, id string, mutate store.ChatMutation) (*models.Chat, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	c, err := getDoc[models.Chat](ctx, tx, "SELECT doc FROM chats WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	changed, err := mutate(c)
	if err != nil {
		return nil, err
	}
	if !changed {
		return c, nil
	}

	c.Version++
	doc, err := encode(c)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE chats SET is_group = ?, last_message_time = ?, doc = ? WHERE id = ?",
		c.IsGroup, c.LastMessageTime.UnixNano(), doc, id,
	); err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}
