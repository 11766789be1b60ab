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

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	return findOne[models.User](ctx, s.users, bson.M{"_id": id})
}

func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	_, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, u, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	return findOne[models.Profile](ctx, s.profiles, bson.M{"user_id": userID})
}

func (s *Store) GetProfileByUsername(ctx context.Context, username string) (*models.Profile, error) {
	return findOne[models.Profile](ctx, s.profiles, bson.M{"username": username},
		options.FindOne().SetCollation(usernameCollation),
	)
}

func (s *Store) SaveProfile(ctx context.Context, p *models.Profile) error {
	_, err := s.profiles.ReplaceOne(ctx, bson.M{"user_id": p.UserID}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *Store) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	res, err := s.profiles.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": bson.M{"last_seen_at": at}})
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return notFoundUnlessMatched(res)
}

func (s *Store) SetLastLocation(ctx context.Context, userID string, loc *models.Location) error {
	res, err := s.profiles.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": bson.M{"last_location": loc}})
	if err != nil {
		return fmt.Errorf("set last location: %w", err)
	}
	return notFoundUnlessMatched(res)
}

func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) error {
	if _, err := s.notifications.InsertOne(ctx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = store.DefaultNotificationLimit
	}
	list, err := findMany[models.Notification](ctx, s.notifications,
		bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := s.notifications.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return notFoundUnlessMatched(res)
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.notifications.UpdateMany(ctx,
		bson.M{"user_id": userID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *Store) DeleteNotification(ctx context.Context, id, userID string) error {
	res, err := s.notifications.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
