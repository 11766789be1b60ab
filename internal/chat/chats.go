package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/store"
)

type ParticipantView struct {
	UserID       string           `json:"user_id"`
	Username     string           `json:"username"`
	AvatarURL    string           `json:"avatar_url,omitempty"`
	PublicKey    string           `json:"public_key,omitempty"`
	IsOnline     bool             `json:"is_online"`
	LastSeen     *time.Time       `json:"last_seen,omitempty"`
	LastLocation *models.Location `json:"last_location,omitempty"`
}

type Summary struct {
	ID                   string            `json:"id"`
	IsGroup              bool              `json:"is_group"`
	Name                 string            `json:"name"`
	AvatarURL            string            `json:"avatar_url,omitempty"`
	Participant          *ParticipantView  `json:"participant,omitempty"`
	GroupParticipants    []ParticipantView `json:"group_participants,omitempty"`
	Admins               []string          `json:"admins,omitempty"`
	LastMessage          string            `json:"last_message,omitempty"`
	LastMessageTime      time.Time         `json:"last_message_time"`
	UnreadCount          int64             `json:"unread_count"`
	IsMuted              bool              `json:"is_muted"`
	DisappearingDuration *int64            `json:"disappearing_duration,omitempty"`
}

const untitledGroup = "Untitled Group"

// CreateDirect returns the direct chat between userID and the named user,
// creating it on first use. created reports whether a new chat was made.
func (e *Engine) CreateDirect(ctx context.Context, userID, recipientUsername string) (c *models.Chat, created bool, err error) {
	recipient, err := e.resolveUsername(ctx, strings.TrimSpace(recipientUsername))
	if err != nil {
		return nil, false, err
	}
	if recipient.UserID == userID {
		return nil, false, apperr.InvalidArg("cannot chat with yourself")
	}

	existing, err := e.store.FindDirectChat(ctx, userID, recipient.UserID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, apperr.Internal("failed to look up chat", err)
	}

	now := e.now()
	c = &models.Chat{
		ID:              models.NewID(),
		Participants:    []string{userID, recipient.UserID},
		Admins:          []string{},
		LastMessageTime: now,
		CreatedAt:       now,
	}
	if err := e.store.CreateChat(ctx, c); err != nil {
		return nil, false, apperr.Internal("failed to create chat", err)
	}
	return c, true, nil
}

// CreateGroup creates a group owned by userID. Unknown usernames are skipped;
// the group must end up with at least two participants.
func (e *Engine) CreateGroup(ctx context.Context, userID, name string, participantUsernames []string) (*models.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidArg("group name is required")
	}

	ids := []string{userID}
	for _, username := range participantUsernames {
		p, err := e.store.GetProfileByUsername(ctx, strings.TrimSpace(username))
		if err != nil {
			continue
		}
		if !slices.Contains(ids, p.UserID) {
			ids = append(ids, p.UserID)
		}
	}
	if len(ids) < 2 {
		return nil, apperr.InvalidArg("group must have at least 2 participants")
	}

	now := e.now()
	c := &models.Chat{
		ID:              models.NewID(),
		Participants:    ids,
		IsGroup:         true,
		Name:            name,
		Admins:          []string{userID},
		LastMessageTime: now,
		CreatedAt:       now,
	}
	if err := e.store.CreateChat(ctx, c); err != nil {
		return nil, apperr.Internal("failed to create group", err)
	}
	return c, nil
}

// ListChats returns userID's chats, most recent activity first.
func (e *Engine) ListChats(ctx context.Context, userID string) ([]Summary, error) {
	chats, err := e.store.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to list chats", err)
	}

	profiles := e.newUsernames()
	var muted []string
	if me := profiles.profile(ctx, userID); me != nil {
		muted = me.MutedChats
	}

	now := e.now()
	out := make([]Summary, 0, len(chats))
	for _, c := range chats {
		unread, err := e.store.CountUnread(ctx, c.ID, userID, now)
		if err != nil {
			return nil, apperr.Internal("failed to count unread messages", err)
		}
		s := Summary{
			ID:                   c.ID,
			IsGroup:              c.IsGroup,
			AvatarURL:            c.AvatarURL,
			LastMessage:          c.LastMessage,
			LastMessageTime:      c.LastMessageTime,
			UnreadCount:          unread,
			IsMuted:              slices.Contains(muted, c.ID),
			DisappearingDuration: c.DisappearingDuration,
		}

		if c.IsGroup {
			s.Name = c.Name
			if s.Name == "" {
				s.Name = untitledGroup
			}
			s.Admins = c.Admins
			for _, id := range c.Participants {
				if p := profiles.profile(ctx, id); p != nil {
					s.GroupParticipants = append(s.GroupParticipants, ParticipantView{
						UserID:    p.UserID,
						Username:  p.Username,
						AvatarURL: p.AvatarURL,
					})
				}
			}
			out = append(out, s)
			continue
		}

		other := profiles.profile(ctx, c.OtherParticipant(userID))
		if other == nil {
			continue
		}
		s.Name = other.Username
		if s.AvatarURL == "" {
			s.AvatarURL = other.AvatarURL
		}
		s.Participant = &ParticipantView{
			UserID:       other.UserID,
			Username:     other.Username,
			AvatarURL:    other.AvatarURL,
			PublicKey:    other.PublicKey,
			IsOnline:     e.presence.IsOnline(ctx, other.UserID),
			LastSeen:     other.LastSeenAt,
			LastLocation: other.LastLocation,
		}
		out = append(out, s)
	}
	return out, nil
}

func requireGroupAdmin(c *models.Chat, userID string, action string) error {
	if !c.IsGroup || !c.IsAdmin(userID) {
		return apperr.Forbidden("only admins can " + action)
	}
	return nil
}

func (e *Engine) updateChat(ctx context.Context, chatID string, mutate store.ChatMutation) (*models.Chat, error) {
	if !models.ValidID(chatID) {
		return nil, apperr.InvalidArg("invalid chat id")
	}
	c, err := e.store.UpdateChat(ctx, chatID, mutate)
	if err != nil {
		return nil, storeError(err, "chat")
	}
	return c, nil
}

func (e *Engine) AddParticipants(ctx context.Context, userID, chatID string, participantUsernames []string) (*models.Chat, error) {
	var ids []string
	for _, username := range participantUsernames {
		if p, err := e.store.GetProfileByUsername(ctx, strings.TrimSpace(username)); err == nil {
			ids = append(ids, p.UserID)
		}
	}

	return e.updateChat(ctx, chatID, func(c *models.Chat) (bool, error) {
		if err := requireGroupAdmin(c, userID, "add participants"); err != nil {
			return false, err
		}
		changed := false
		for _, id := range ids {
			if !c.HasParticipant(id) {
				c.Participants = append(c.Participants, id)
				changed = true
			}
		}
		return changed, nil
	})
}

func (e *Engine) RemoveParticipant(ctx context.Context, userID, chatID, username string) (*models.Chat, error) {
	target, err := e.resolveUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}

	return e.updateChat(ctx, chatID, func(c *models.Chat) (bool, error) {
		if err := requireGroupAdmin(c, userID, "remove participants"); err != nil {
			return false, err
		}
		if target.UserID == userID {
			return false, apperr.InvalidArg("admins cannot remove themselves, leave the group instead")
		}
		return removeMember(c, target.UserID), nil
	})
}

// Leave removes userID from a group. When the last admin leaves, the longest
// standing remaining participant is promoted.
func (e *Engine) Leave(ctx context.Context, userID, chatID string) error {
	_, err := e.updateChat(ctx, chatID, func(c *models.Chat) (bool, error) {
		if !c.IsGroup {
			return false, apperr.InvalidArg("cannot leave a direct chat")
		}
		if !c.HasParticipant(userID) {
			return false, apperr.Forbidden("not a participant of this chat")
		}
		removeMember(c, userID)
		if len(c.Admins) == 0 && len(c.Participants) > 0 {
			c.Admins = append(c.Admins, c.Participants[0])
		}
		return true, nil
	})
	return err
}

func removeMember(c *models.Chat, userID string) bool {
	before := len(c.Participants)
	c.Participants = slices.DeleteFunc(c.Participants, func(id string) bool { return id == userID })
	c.Admins = slices.DeleteFunc(c.Admins, func(id string) bool { return id == userID })
	return len(c.Participants) != before
}

// ToggleAdmin promotes the named participant, or demotes them when they are
// already an admin. It reports whether the user is an admin afterwards.
func (e *Engine) ToggleAdmin(ctx context.Context, userID, chatID, username string) (bool, error) {
	target, err := e.resolveUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return false, err
	}

	var promoted bool
	_, err = e.updateChat(ctx, chatID, func(c *models.Chat) (bool, error) {
		if err := requireGroupAdmin(c, userID, "manage roles"); err != nil {
			return false, err
		}
		if target.UserID == userID {
			return false, apperr.InvalidArg("you cannot demote yourself")
		}
		if !c.HasParticipant(target.UserID) {
			return false, apperr.InvalidArg("user is not a participant of this group")
		}
		if c.IsAdmin(target.UserID) {
			c.Admins = slices.DeleteFunc(c.Admins, func(id string) bool { return id == target.UserID })
			promoted = false
		} else {
			c.Admins = append(c.Admins, target.UserID)
			promoted = true
		}
		return true, nil
	})
	return promoted, err
}

type GroupUpdate struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
}

func (e *Engine) UpdateGroup(ctx context.Context, userID, chatID string, u GroupUpdate) (*models.Chat, error) {
	var name string
	if u.Name != nil {
		name = strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, apperr.InvalidArg("group name must not be empty")
		}
	}

	return e.updateChat(ctx, chatID, func(c *models.Chat) (bool, error) {
		if err := requireGroupAdmin(c, userID, "update group info"); err != nil {
			return false, err
		}
		changed := false
		if u.Name != nil && c.Name != name {
			c.Name = name
			changed = true
		}
		if u.AvatarURL != nil && c.AvatarURL != *u.AvatarURL {
			c.AvatarURL = *u.AvatarURL
			changed = true
		}
		return changed, nil
	})
}

// SetDisappearing sets the lifetime in seconds for messages sent from now on;
// nil or zero turns it off. Existing messages keep their expires_at.
func (e *Engine) SetDisappearing(ctx context.Context, userID, chatID string, seconds *int64) (*models.Chat, error) {
	if seconds != nil && *seconds < 0 {
		return nil, apperr.InvalidArg("duration must not be negative")
	}
	if seconds != nil && *seconds > models.MaxDisappearingSeconds {
		return nil, apperr.InvalidArg("duration must not exceed one year")
	}
	if seconds != nil && *seconds == 0 {
		seconds = nil
	}

	return e.updateChat(ctx, chatID, func(c *models.Chat) (bool, error) {
		if !c.HasParticipant(userID) {
			return false, apperr.Forbidden("not a participant of this chat")
		}
		if c.IsGroup && !c.IsAdmin(userID) {
			return false, apperr.Forbidden("only admins can change this setting")
		}
		if equalDuration(c.DisappearingDuration, seconds) {
			return false, nil
		}
		if seconds == nil {
			c.DisappearingDuration = nil
		} else {
			d := *seconds
			c.DisappearingDuration = &d
		}
		return true, nil
	})
}

func equalDuration(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
