package models

import (
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NewID returns a new 24-character hex object id.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// ValidID reports whether s is a well-formed object id.
func ValidID(s string) bool {
	return primitive.IsValidObjectID(s)
}

type User struct {
	ID         string    `json:"id" bson:"_id"`
	Role       string    `json:"role" bson:"role"`
	IsVerified bool      `json:"is_verified" bson:"is_verified"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

type Profile struct {
	UserID       string     `json:"user_id" bson:"user_id"`
	Username     string     `json:"username" bson:"username"`
	FullName     string     `json:"full_name,omitempty" bson:"full_name,omitempty"`
	AvatarURL    string     `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
	PublicKey    string     `json:"public_key,omitempty" bson:"public_key,omitempty"`
	BlockedUsers []string   `json:"blocked_users,omitempty" bson:"blocked_users,omitempty"`
	MutedChats   []string   `json:"muted_chats,omitempty" bson:"muted_chats,omitempty"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty" bson:"last_seen_at,omitempty"`
	LastLocation *Location  `json:"last_location,omitempty" bson:"last_location,omitempty"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
}

func (p *Profile) HasBlocked(userID string) bool {
	return slices.Contains(p.BlockedUsers, userID)
}

func (p *Profile) HasMuted(chatID string) bool {
	return slices.Contains(p.MutedChats, chatID)
}

type Chat struct {
	ID              string    `json:"id" bson:"_id"`
	Participants    []string  `json:"participants" bson:"participants"`
	IsGroup         bool      `json:"is_group" bson:"is_group"`
	Name            string    `json:"name,omitempty" bson:"name,omitempty"`
	AvatarURL       string    `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
	Admins          []string  `json:"admins" bson:"admins"`
	LastMessage     string    `json:"last_message,omitempty" bson:"last_message,omitempty"`
	LastMessageTime time.Time `json:"last_message_time" bson:"last_message_time"`
	// DisappearingDuration is in seconds; nil disables disappearing messages.
	DisappearingDuration *int64    `json:"disappearing_duration,omitempty" bson:"disappearing_duration,omitempty"`
	CreatedAt            time.Time `json:"created_at" bson:"created_at"`
	Version              int64     `json:"version" bson:"version"`
}

func (c *Chat) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

func (c *Chat) IsAdmin(userID string) bool {
	return slices.Contains(c.Admins, userID)
}

// OtherParticipant returns the counterpart of userID in a direct chat.
func (c *Chat) OtherParticipant(userID string) string {
	for _, id := range c.Participants {
		if id != userID {
			return id
		}
	}
	return ""
}

// MaxDisappearingSeconds caps a chat's disappearing duration at one year.
const MaxDisappearingSeconds = 365 * 24 * 60 * 60

// ExpiryFor returns the expires_at stamp for a message created at now under
// the chat's current disappearing policy.
func (c *Chat) ExpiryFor(now time.Time) *time.Time {
	if c.DisappearingDuration == nil || *c.DisappearingDuration <= 0 {
		return nil
	}
	secs := min(*c.DisappearingDuration, MaxDisappearingSeconds)
	expires := now.Add(time.Duration(secs) * time.Second)
	return &expires
}

type Notification struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	ActorID   string    `json:"actor_id" bson:"actor_id"`
	Type      string    `json:"notification_type" bson:"notification_type"`
	TargetID  string    `json:"target_id,omitempty" bson:"target_id,omitempty"`
	Content   string    `json:"content" bson:"content"`
	IsRead    bool      `json:"is_read" bson:"is_read"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type NotificationView struct {
	ID               string    `json:"id"`
	ActorUsername    string    `json:"actor_username"`
	ActorAvatarURL   string    `json:"actor_avatar_url,omitempty"`
	NotificationType string    `json:"notification_type"`
	TargetID         string    `json:"target_id,omitempty"`
	Content          string    `json:"content"`
	IsRead           bool      `json:"is_read"`
	CreatedAt        time.Time `json:"created_at"`
}

func (n *Notification) ViewWith(actor *Profile) NotificationView {
	v := NotificationView{
		ID:               n.ID,
		ActorUsername:    "Someone",
		NotificationType: n.Type,
		TargetID:         n.TargetID,
		Content:          n.Content,
		IsRead:           n.IsRead,
		CreatedAt:        n.CreatedAt,
	}
	if actor != nil {
		v.ActorUsername = actor.Username
		v.ActorAvatarURL = actor.AvatarURL
	}
	return v
}
