package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/store"
)

func (s *Store) CreateChat(ctx context.Context, c *models.Chat) error {
	if c.Version == 0 {
		c.Version = 1
	}
	if _, err := s.chats.InsertOne(ctx, c); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	return findOne[models.Chat](ctx, s.chats, bson.M{"_id": id})
}

func (s *Store) FindDirectChat(ctx context.Context, a, b string) (*models.Chat, error) {
	return findOne[models.Chat](ctx, s.chats, bson.M{
		"is_group":     false,
		"participants": bson.M{"$all": bson.A{a, b}},
	})
}

func (s *Store) ListChatsForUser(ctx context.Context, userID string) ([]*models.Chat, error) {
	chats, err := findMany[models.Chat](ctx, s.chats,
		bson.M{"participants": userID},
		options.Find().SetSort(bson.D{{Key: "last_message_time", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

func (s *Store) UpdateChat(ctx context.Context, id string, mutate store.ChatMutation) (*models.Chat, error) {
	return compareAndSwap(ctx, s.chats, id,
		func(c *models.Chat) *int64 { return &c.Version },
		mutate,
	)
}

func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	if m.Version == 0 {
		m.Version = 1
	}
	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return findOne[models.Message](ctx, s.messages, bson.M{"_id": id})
}

func unexpired(now time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"expires_at": nil},
		bson.M{"expires_at": bson.M{"$gt": now}},
	}}
}

func (s *Store) ListMessages(ctx context.Context, chatID string, now time.Time, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = store.DefaultMessageLimit
	}
	filter := bson.M{"chat_id": chatID}
	for k, v := range unexpired(now) {
		filter[k] = v
	}
	msgs, err := findMany[models.Message](ctx, s.messages, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) UpdateMessage(ctx context.Context, id string, mutate store.MessageMutation) (*models.Message, error) {
	return compareAndSwap(ctx, s.messages, id,
		func(m *models.Message) *int64 { return &m.Version },
		mutate,
	)
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountUnread(ctx context.Context, chatID, userID string, now time.Time) (int64, error) {
	filter := bson.M{
		"chat_id":   chatID,
		"sender_id": bson.M{"$ne": userID},
		"read_at":   nil,
	}
	for k, v := range unexpired(now) {
		filter[k] = v
	}
	n, err := s.messages.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
