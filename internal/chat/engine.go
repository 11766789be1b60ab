// Package chat is the rules layer over the chat and message store: every
// mutation of a chat or message goes through an Engine operation.
package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/metrics"
	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/notify"
	"github.com/4xmen/karu/internal/registry"
	"github.com/4xmen/karu/internal/store"
)

type Store interface {
	store.ChatStore
	store.MessageStore
	store.ProfileStore
	store.UserStore
}

type Notifier interface {
	Notify(ctx context.Context, ev notify.Event, push bool) (*models.Notification, error)
}

type Presence interface {
	IsOnline(ctx context.Context, userID string) bool
}

type Engine struct {
	store    Store
	notifier Notifier
	registry registry.Registry
	presence Presence
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewEngine(st Store, n Notifier, reg registry.Registry, p Presence, m *metrics.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		store:    st,
		notifier: n,
		registry: reg,
		presence: p,
		metrics:  m,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// storeError maps a store failure to an application error. Errors already
// carrying a code, such as those raised inside a mutation, pass through.
func storeError(err error, what string) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound(what + " not found")
	default:
		return apperr.Internal("failed to access "+what, err)
	}
}

func (e *Engine) loadChat(ctx context.Context, chatID string) (*models.Chat, error) {
	if !models.ValidID(chatID) {
		return nil, apperr.InvalidArg("invalid chat id")
	}
	c, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, storeError(err, "chat")
	}
	return c, nil
}

func (e *Engine) loadChatFor(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	c, err := e.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, apperr.Forbidden("not a participant of this chat")
	}
	return c, nil
}

// loadMessage returns a live message. Expired messages read as missing.
func (e *Engine) loadMessage(ctx context.Context, msgID string) (*models.Message, error) {
	if !models.ValidID(msgID) {
		return nil, apperr.InvalidArg("invalid message id")
	}
	m, err := e.store.GetMessage(ctx, msgID)
	if err != nil {
		return nil, storeError(err, "message")
	}
	if m.State(e.now()) == models.StateExpired {
		return nil, apperr.NotFound("message not found")
	}
	return m, nil
}

func (e *Engine) loadMessageFor(ctx context.Context, userID, msgID string) (*models.Message, *models.Chat, error) {
	m, err := e.loadMessage(ctx, msgID)
	if err != nil {
		return nil, nil, err
	}
	c, err := e.store.GetChat(ctx, m.ChatID)
	if err != nil {
		return nil, nil, storeError(err, "chat")
	}
	if !c.HasParticipant(userID) {
		return nil, nil, apperr.Forbidden("not a participant of this chat")
	}
	return m, c, nil
}

func (e *Engine) resolveUsername(ctx context.Context, username string) (*models.Profile, error) {
	if username == "" {
		return nil, apperr.InvalidArg("username is required")
	}
	p, err := e.store.GetProfileByUsername(ctx, username)
	if err != nil {
		return nil, storeError(err, "user")
	}
	return p, nil
}

// usernames memoizes profile lookups for one request.
type usernames struct {
	store store.ProfileStore
	seen  map[string]*models.Profile
}

func (e *Engine) newUsernames() *usernames {
	return &usernames{store: e.store, seen: make(map[string]*models.Profile)}
}

func (u *usernames) profile(ctx context.Context, userID string) *models.Profile {
	if p, ok := u.seen[userID]; ok {
		return p
	}
	p, err := u.store.GetProfile(ctx, userID)
	if err != nil {
		p = nil
	}
	u.seen[userID] = p
	return p
}

func (u *usernames) name(ctx context.Context, userID string) string {
	if p := u.profile(ctx, userID); p != nil {
		return p.Username
	}
	return ""
}

// replies memoizes reply parents for one request.
type replies struct {
	store store.MessageStore
	names *usernames
	seen  map[string]*models.Message
}

func (e *Engine) newReplies(names *usernames) *replies {
	return &replies{store: e.store, names: names, seen: make(map[string]*models.Message)}
}

// add records a message already in hand so a reply to it needs no lookup.
func (r *replies) add(m *models.Message) {
	r.seen[m.ID] = m
}

func (r *replies) preview(ctx context.Context, m *models.Message, now time.Time) *models.ReplyPreview {
	if m.ReplyToID == "" {
		return nil
	}
	parent, ok := r.seen[m.ReplyToID]
	if !ok {
		p, err := r.store.GetMessage(ctx, m.ReplyToID)
		if err != nil {
			p = nil
		}
		r.seen[m.ReplyToID] = p
		parent = p
	}
	if parent == nil || parent.ChatID != m.ChatID {
		return nil
	}
	pv := parent.Preview(now)
	if pv != nil {
		pv.Username = r.names.name(ctx, parent.SenderID)
	}
	return pv
}
