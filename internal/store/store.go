// Package store declares the persistence contracts used by the messaging core.
// Implementations live in internal/db (SQLite) and internal/mongostore.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/4xmen/karu/internal/models"
)

var ErrNotFound = errors.New("not found")

// DefaultMessageLimit caps ListMessages when the caller passes limit <= 0.
const DefaultMessageLimit = 100

// DefaultNotificationLimit caps ListNotifications when limit <= 0.
const DefaultNotificationLimit = 50

// ChatMutation edits c in place and reports whether anything changed. A
// mutation returning false performs no write.
type ChatMutation func(c *models.Chat) (bool, error)

// MessageMutation edits m in place and reports whether anything changed.
type MessageMutation func(m *models.Message) (bool, error)

type ChatStore interface {
	CreateChat(ctx context.Context, c *models.Chat) error
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	// FindDirectChat returns the non-group chat between a and b.
	FindDirectChat(ctx context.Context, a, b string) (*models.Chat, error)
	// ListChatsForUser returns chats by last_message_time, newest first.
	ListChatsForUser(ctx context.Context, userID string) ([]*models.Chat, error)
	UpdateChat(ctx context.Context, id string, mutate ChatMutation) (*models.Chat, error)
}

type MessageStore interface {
	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// ListMessages returns the chat's unexpired messages, oldest first.
	ListMessages(ctx context.Context, chatID string, now time.Time, limit int) ([]*models.Message, error)
	UpdateMessage(ctx context.Context, id string, mutate MessageMutation) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	// CountUnread counts messages in chatID not sent by userID with no read_at.
	CountUnread(ctx context.Context, chatID, userID string, now time.Time) (int64, error)
}

type NotificationStore interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, id, userID string) error
}

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GetProfileByUsername(ctx context.Context, username string) (*models.Profile, error)
	SaveProfile(ctx context.Context, p *models.Profile) error
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
	SetLastLocation(ctx context.Context, userID string, loc *models.Location) error
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	SaveUser(ctx context.Context, u *models.User) error
}

// Stats is a snapshot of collection sizes reported by `karu status`.
type Stats struct {
	Backend       string `json:"backend"`
	Users         int64  `json:"users"`
	Profiles      int64  `json:"profiles"`
	Chats         int64  `json:"chats"`
	Messages      int64  `json:"messages"`
	Notifications int64  `json:"notifications"`
	SizeBytes     int64  `json:"size_bytes"`
}

type Store interface {
	ChatStore
	MessageStore
	NotificationStore
	ProfileStore
	UserStore

	Stats(ctx context.Context) (*Stats, error)
	Ping(ctx context.Context) error
	Close() error
}
