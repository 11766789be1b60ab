package db

import (
	"context"
	"fmt"

	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/store"
)

func (db *DB) InsertNotification(ctx context.Context, n *models.Notification) error {
	doc, err := encode(n)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO notifications (id, user_id, is_read, created_at, doc) VALUES (?, ?, ?, ?, ?)",
		n.ID, n.UserID, n.IsRead, n.CreatedAt.UnixNano(), doc,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (db *DB) ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = store.DefaultNotificationLimit
	}
	list, err := listDocs[models.Notification](ctx, db.conn,
		"SELECT doc FROM notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

func (db *DB) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1, doc = json_set(doc, '$.is_read', json('true')) WHERE id = ? AND user_id = ?",
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return requireAffected(res)
}

func (db *DB) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1, doc = json_set(doc, '$.is_read', json('true')) WHERE user_id = ? AND is_read = 0",
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) DeleteNotification(ctx context.Context, id, userID string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM notifications WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return requireAffected(res)
}
