package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/notify"
	"github.com/4xmen/karu/internal/registry"
	"github.com/4xmen/karu/internal/store"
)

const (
	DeleteForMe       = "me"
	DeleteForEveryone = "everyone"
)

// Send persists a message from userID into chatID. The insert is the only
// step that can fail the call; the chat summary update, notifications and
// live pushes that follow are best-effort.
func (e *Engine) Send(ctx context.Context, userID, chatID string, req SendRequest) (*models.MessageView, error) {
	c, err := e.loadChatFor(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	u, err := e.store.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal("failed to load user", err)
	}
	if u == nil || !u.IsVerified {
		return nil, apperr.Forbidden("account verification required to send messages")
	}

	if !c.IsGroup {
		other, err := e.store.GetProfile(ctx, c.OtherParticipant(userID))
		if err == nil && other.HasBlocked(userID) {
			return nil, apperr.Forbidden("you are blocked by this user")
		}
	}

	now := e.now()
	body, attachment, err := req.body(now)
	if err != nil {
		return nil, err
	}

	var parent *models.Message
	if req.ReplyToID != "" {
		if !models.ValidID(req.ReplyToID) {
			return nil, apperr.InvalidArg("invalid reply_to_id")
		}
		parent, err = e.store.GetMessage(ctx, req.ReplyToID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Internal("failed to load replied message", err)
		}
		if parent == nil || parent.ChatID != c.ID {
			return nil, apperr.InvalidArg("reply_to_id must reference a message in this chat")
		}
	}

	m := &models.Message{
		ID:         models.NewID(),
		ChatID:     c.ID,
		SenderID:   userID,
		Body:       body,
		Attachment: attachment,
		ReplyToID:  req.ReplyToID,
		Reactions:  []models.Reaction{},
		IsViewOnce: req.IsViewOnce,
		ExpiresAt:  c.ExpiryFor(now),
		CreatedAt:  now,
	}
	if err := e.store.InsertMessage(ctx, m); err != nil {
		return nil, apperr.Internal("failed to save message", err)
	}
	e.metrics.MessagesSent.Inc()

	summary := strings.TrimSpace(req.Content)
	if summary == "" {
		summary = m.Summary()
	}
	updated, err := e.store.UpdateChat(ctx, c.ID, func(ch *models.Chat) (bool, error) {
		ch.LastMessage = summary
		ch.LastMessageTime = now
		return true, nil
	})
	if err != nil {
		e.log.Warn("failed to update chat summary", zap.String("chat_id", c.ID), zap.Error(err))
	} else {
		c = updated
	}

	names := e.newUsernames()
	senderName := names.name(ctx, userID)
	var reply *models.ReplyPreview
	if parent != nil {
		if reply = parent.Preview(now); reply != nil {
			reply.Username = names.name(ctx, parent.SenderID)
		}
	}
	e.fanOut(ctx, c, m, senderName, reply)

	view := m.ViewFor(userID, now)
	view.SenderUsername = senderName
	view.ReplyTo = reply
	return &view, nil
}

func (e *Engine) fanOut(ctx context.Context, c *models.Chat, m *models.Message, senderName string, reply *models.ReplyPreview) {
	text := "sent you a message"
	if c.IsGroup {
		name := c.Name
		if name == "" {
			name = "group"
		}
		text = "sent a message to " + name
	}

	now := e.now()
	for _, pid := range c.Participants {
		if pid == m.SenderID {
			continue
		}
		if _, err := e.notifier.Notify(ctx, notify.Event{
			Recipient: pid,
			Actor:     m.SenderID,
			Type:      "message",
			TargetID:  c.ID,
			Text:      text,
		}, false); err != nil {
			e.log.Debug("message notification failed", zap.String("recipient", pid), zap.Error(err))
		}

		view := m.ViewFor(pid, now)
		view.SenderUsername = senderName
		view.ReplyTo = reply
		if _, err := registry.Push(e.registry, pid, "message", view); err != nil {
			e.log.Debug("message push failed", zap.String("recipient", pid), zap.Error(err))
		}
	}
}

// ListMessages returns the chat's visible messages for userID, oldest first.
// Expired messages are never returned.
func (e *Engine) ListMessages(ctx context.Context, userID, chatID string, limit int) ([]models.MessageView, error) {
	c, err := e.loadChatFor(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	msgs, err := e.store.ListMessages(ctx, c.ID, now, limit)
	if err != nil {
		return nil, apperr.Internal("failed to list messages", err)
	}

	names := e.newUsernames()
	parents := e.newReplies(names)
	for _, m := range msgs {
		parents.add(m)
	}
	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := m.ViewFor(userID, now)
		v.SenderUsername = names.name(ctx, m.SenderID)
		v.ReplyTo = parents.preview(ctx, m, now)
		views = append(views, v)
	}
	return views, nil
}

func (e *Engine) updateMessage(ctx context.Context, msgID string, mutate store.MessageMutation) (*models.Message, error) {
	m, err := e.store.UpdateMessage(ctx, msgID, mutate)
	if err != nil {
		return nil, storeError(err, "message")
	}
	return m, nil
}

func (e *Engine) viewOf(ctx context.Context, m *models.Message, viewerID string) *models.MessageView {
	v := m.ViewFor(viewerID, e.now())
	v.SenderUsername = e.newUsernames().name(ctx, m.SenderID)
	return &v
}

// React toggles userID's emoji reaction on a message.
func (e *Engine) React(ctx context.Context, userID, msgID, emoji string) (*models.MessageView, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, apperr.InvalidArg("emoji is required")
	}
	if _, _, err := e.loadMessageFor(ctx, userID, msgID); err != nil {
		return nil, err
	}

	now := e.now()
	m, err := e.updateMessage(ctx, msgID, func(m *models.Message) (bool, error) {
		if m.IsDeleted {
			return false, apperr.InvalidArg("cannot react to a deleted message")
		}
		m.ToggleReaction(userID, emoji, now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return e.viewOf(ctx, m, userID), nil
}

// Vote toggles userID's vote on a poll option.
func (e *Engine) Vote(ctx context.Context, userID, msgID string, optionIndex int) (*models.MessageView, error) {
	if _, _, err := e.loadMessageFor(ctx, userID, msgID); err != nil {
		return nil, err
	}

	m, err := e.updateMessage(ctx, msgID, func(m *models.Message) (bool, error) {
		poll, ok := m.Poll()
		if !ok {
			return false, apperr.InvalidArg("message is not a poll")
		}
		switch err := poll.Vote(userID, optionIndex); {
		case errors.Is(err, models.ErrPollClosed):
			return false, apperr.Conflict("poll is closed")
		case errors.Is(err, models.ErrInvalidOption):
			return false, apperr.InvalidArg("invalid option index")
		case err != nil:
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return e.viewOf(ctx, m, userID), nil
}

// ClosePoll stops further voting. Only the poll's sender may close it.
func (e *Engine) ClosePoll(ctx context.Context, userID, msgID string) (*models.MessageView, error) {
	if _, _, err := e.loadMessageFor(ctx, userID, msgID); err != nil {
		return nil, err
	}

	m, err := e.updateMessage(ctx, msgID, func(m *models.Message) (bool, error) {
		poll, ok := m.Poll()
		if !ok {
			return false, apperr.InvalidArg("message is not a poll")
		}
		if m.SenderID != userID {
			return false, apperr.Forbidden("only the sender can close this poll")
		}
		if poll.IsClosed {
			return false, nil
		}
		poll.IsClosed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return e.viewOf(ctx, m, userID), nil
}

// MarkRead stamps read_at the first time a non-sender reads the message.
// Repeated calls, and calls by the sender, change nothing.
func (e *Engine) MarkRead(ctx context.Context, userID, msgID string) error {
	if _, _, err := e.loadMessageFor(ctx, userID, msgID); err != nil {
		return err
	}
	now := e.now()
	_, err := e.updateMessage(ctx, msgID, func(m *models.Message) (bool, error) {
		return m.MarkRead(userID, now), nil
	})
	return err
}

// MarkViewed stamps viewed_at on a view-once message the first time a
// non-sender opens it. From then on every read is redacted.
func (e *Engine) MarkViewed(ctx context.Context, userID, msgID string) error {
	if _, _, err := e.loadMessageFor(ctx, userID, msgID); err != nil {
		return err
	}
	now := e.now()
	_, err := e.updateMessage(ctx, msgID, func(m *models.Message) (bool, error) {
		return m.MarkViewed(userID, now), nil
	})
	return err
}

// Delete removes a message. Both modes are restricted to the sender:
// "everyone" replaces the content with a placeholder and keeps the row, "me"
// removes the row.
func (e *Engine) Delete(ctx context.Context, userID, msgID, mode string) error {
	if mode == "" {
		mode = DeleteForMe
	}
	if mode != DeleteForMe && mode != DeleteForEveryone {
		return apperr.InvalidArg("mode must be 'me' or 'everyone'")
	}

	m, err := e.loadMessage(ctx, msgID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		if mode == DeleteForEveryone {
			return apperr.Forbidden("not your message to delete for everyone")
		}
		return apperr.Forbidden("not your message to delete")
	}

	if mode == DeleteForMe {
		if err := e.store.DeleteMessage(ctx, msgID); err != nil {
			return storeError(err, "message")
		}
		return nil
	}

	now := e.now()
	_, err = e.updateMessage(ctx, msgID, func(m *models.Message) (bool, error) {
		return m.DeleteForEveryone(now), nil
	})
	return err
}

// UpdateLiveLocation records userID's current position on their profile.
func (e *Engine) UpdateLiveLocation(ctx context.Context, userID string, in LocationInput) (*models.Location, error) {
	in.IsLive = true
	loc, err := in.toLocation(e.now())
	if err != nil {
		return nil, err
	}
	if err := e.store.SetLastLocation(ctx, userID, loc); err != nil {
		return nil, storeError(err, "profile")
	}
	return loc, nil
}
