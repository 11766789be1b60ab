// Package notify creates durable notifications and pushes them to live
// connections.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/metrics"
	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/registry"
	"github.com/4xmen/karu/internal/store"
)

type Profiles interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

type Event struct {
	Recipient string
	Actor     string
	Type      string
	TargetID  string
	Text      string
}

type Service struct {
	store    store.NotificationStore
	profiles Profiles
	registry registry.Registry
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewService(ns store.NotificationStore, profiles Profiles, reg registry.Registry, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		store:    ns,
		profiles: profiles,
		registry: reg,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Notify records one notification for ev.Recipient. It returns nil, nil when
// the recipient is the actor or has blocked the actor. With push set, the
// stored notification is also fanned out to the recipient's live handles.
func (s *Service) Notify(ctx context.Context, ev Event, push bool) (*models.Notification, error) {
	if ev.Recipient == ev.Actor {
		s.metrics.Notifications.WithLabelValues("skipped_self").Inc()
		return nil, nil
	}

	// The block list is read fresh on every event.
	recipient, err := s.profiles.GetProfile(ctx, ev.Recipient)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, apperr.Internal("failed to load recipient profile", err)
	case recipient.HasBlocked(ev.Actor):
		s.metrics.Notifications.WithLabelValues("skipped_blocked").Inc()
		return nil, nil
	}

	n := &models.Notification{
		ID:        models.NewID(),
		UserID:    ev.Recipient,
		ActorID:   ev.Actor,
		Type:      ev.Type,
		TargetID:  ev.TargetID,
		Content:   ev.Text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return nil, apperr.Internal("failed to create notification", err)
	}
	s.metrics.Notifications.WithLabelValues("created").Inc()

	if push {
		s.push(ctx, n)
	}
	return n, nil
}

func (s *Service) push(ctx context.Context, n *models.Notification) {
	actor, err := s.profiles.GetProfile(ctx, n.ActorID)
	if err != nil {
		actor = nil
	}
	if _, err := registry.Push(s.registry, n.UserID, "notification", n.ViewWith(actor)); err != nil {
		s.log.Debug("notification push failed", zap.String("notification_id", n.ID), zap.Error(err))
	}
}

func (s *Service) List(ctx context.Context, userID string) ([]models.NotificationView, error) {
	list, err := s.store.ListNotifications(ctx, userID, store.DefaultNotificationLimit)
	if err != nil {
		return nil, apperr.Internal("failed to list notifications", err)
	}

	actors := make(map[string]*models.Profile)
	views := make([]models.NotificationView, 0, len(list))
	for _, n := range list {
		actor, seen := actors[n.ActorID]
		if !seen {
			actor, _ = s.profiles.GetProfile(ctx, n.ActorID)
			actors[n.ActorID] = actor
		}
		views = append(views, n.ViewWith(actor))
	}
	return views, nil
}

func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	if !models.ValidID(id) {
		return apperr.InvalidArg("invalid notification id")
	}
	if err := s.store.MarkNotificationRead(ctx, id, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("notification not found")
		}
		return apperr.Internal("failed to update notification", err)
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, apperr.Internal("failed to update notifications", err)
	}
	return n, nil
}

func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if !models.ValidID(id) {
		return apperr.InvalidArg("invalid notification id")
	}
	if err := s.store.DeleteNotification(ctx, id, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("notification not found")
		}
		return apperr.Internal("failed to delete notification", err)
	}
	return nil
}
