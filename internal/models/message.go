package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

type PayloadKind string

const (
	KindText     PayloadKind = "text"
	KindPoll     PayloadKind = "poll"
	KindLocation PayloadKind = "location"
	KindContact  PayloadKind = "contact"
)

const (
	DeletedPlaceholder = "This message was deleted"
	ViewedPlaceholder  = "Media viewed"
)

var (
	ErrPollClosed    = errors.New("poll is closed")
	ErrInvalidOption = errors.New("invalid option index")
	ErrNotPoll       = errors.New("message is not a poll")
)

// Payload is the primary content of a message. Exactly one payload is
// attached to every message.
type Payload interface {
	Kind() PayloadKind
	Summary() string
}

// Text carries plaintext content or an opaque ciphertext with its IV.
type Text struct {
	Content    string `json:"content" bson:"content"`
	Ciphertext string `json:"ciphertext,omitempty" bson:"ciphertext,omitempty"`
	IV         string `json:"iv,omitempty" bson:"iv,omitempty"`
}

func (t *Text) Kind() PayloadKind { return KindText }

func (t *Text) Summary() string {
	if t.Content == "" && t.Ciphertext != "" {
		return "🔒 Encrypted message"
	}
	return t.Content
}

type PollOption struct {
	Text     string   `json:"text" bson:"text"`
	VoterIDs []string `json:"voter_ids" bson:"voter_ids"`
}

type Poll struct {
	Question   string       `json:"question" bson:"question"`
	Options    []PollOption `json:"options" bson:"options"`
	IsMultiple bool         `json:"is_multiple" bson:"is_multiple"`
	IsClosed   bool         `json:"is_closed" bson:"is_closed"`
	CreatedAt  time.Time    `json:"created_at" bson:"created_at"`
}

func (p *Poll) Kind() PayloadKind { return KindPoll }

func (p *Poll) Summary() string { return "📊 " + p.Question }

// Vote toggles voterID on the option at index. On a single-choice poll a new
// vote first clears the voter from every other option.
func (p *Poll) Vote(voterID string, index int) error {
	if p.IsClosed {
		return ErrPollClosed
	}
	if index < 0 || index >= len(p.Options) {
		return ErrInvalidOption
	}

	chosen := &p.Options[index]
	if slices.Contains(chosen.VoterIDs, voterID) {
		chosen.VoterIDs = slices.DeleteFunc(chosen.VoterIDs, func(id string) bool { return id == voterID })
		return nil
	}

	if !p.IsMultiple {
		for i := range p.Options {
			p.Options[i].VoterIDs = slices.DeleteFunc(p.Options[i].VoterIDs, func(id string) bool { return id == voterID })
		}
	}
	chosen.VoterIDs = append(chosen.VoterIDs, voterID)
	return nil
}

type Location struct {
	Latitude  float64    `json:"latitude" bson:"latitude"`
	Longitude float64    `json:"longitude" bson:"longitude"`
	Label     string     `json:"label,omitempty" bson:"label,omitempty"`
	IsLive    bool       `json:"is_live" bson:"is_live"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
}

func (l *Location) Kind() PayloadKind { return KindLocation }

func (l *Location) Summary() string {
	if l.IsLive {
		return "📍 Live location"
	}
	return "📍 Location"
}

type Contact struct {
	Username  string `json:"username" bson:"username"`
	FullName  string `json:"full_name,omitempty" bson:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
}

func (c *Contact) Kind() PayloadKind { return KindContact }

func (c *Contact) Summary() string { return "👤 " + c.Username }

// Body wraps a Payload and encodes it with an explicit discriminant:
// {"kind": "poll", "poll": {...}}.
type Body struct {
	Payload Payload
}

type bodyEnvelope struct {
	Kind     PayloadKind `json:"kind" bson:"kind"`
	Text     *Text       `json:"text,omitempty" bson:"text,omitempty"`
	Poll     *Poll       `json:"poll,omitempty" bson:"poll,omitempty"`
	Location *Location   `json:"location,omitempty" bson:"location,omitempty"`
	Contact  *Contact    `json:"contact,omitempty" bson:"contact,omitempty"`
}

func (b Body) envelope() (bodyEnvelope, error) {
	switch p := b.Payload.(type) {
	case *Text:
		return bodyEnvelope{Kind: KindText, Text: p}, nil
	case *Poll:
		return bodyEnvelope{Kind: KindPoll, Poll: p}, nil
	case *Location:
		return bodyEnvelope{Kind: KindLocation, Location: p}, nil
	case *Contact:
		return bodyEnvelope{Kind: KindContact, Contact: p}, nil
	case nil:
		return bodyEnvelope{Kind: KindText, Text: &Text{}}, nil
	default:
		return bodyEnvelope{}, fmt.Errorf("unknown payload type %T", p)
	}
}

func (b *Body) fromEnvelope(env bodyEnvelope) error {
	switch env.Kind {
	case KindText, "":
		if env.Text == nil {
			env.Text = &Text{}
		}
		b.Payload = env.Text
	case KindPoll:
		if env.Poll == nil {
			return errors.New("poll body without poll")
		}
		b.Payload = env.Poll
	case KindLocation:
		if env.Location == nil {
			return errors.New("location body without location")
		}
		b.Payload = env.Location
	case KindContact:
		if env.Contact == nil {
			return errors.New("contact body without contact")
		}
		b.Payload = env.Contact
	default:
		return fmt.Errorf("unknown payload kind %q", env.Kind)
	}
	return nil
}

func (b Body) MarshalJSON() ([]byte, error) {
	env, err := b.envelope()
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (b *Body) UnmarshalJSON(data []byte) error {
	var env bodyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	return b.fromEnvelope(env)
}

func (b Body) MarshalBSON() ([]byte, error) {
	env, err := b.envelope()
	if err != nil {
		return nil, err
	}
	return bson.Marshal(env)
}

func (b *Body) UnmarshalBSON(data []byte) error {
	var env bodyEnvelope
	if err := bson.Unmarshal(data, &env); err != nil {
		return err
	}
	return b.fromEnvelope(env)
}

func (b Body) Kind() PayloadKind {
	if b.Payload == nil {
		return KindText
	}
	return b.Payload.Kind()
}

type Attachment struct {
	URL  string `json:"url" bson:"url"`
	Type string `json:"type,omitempty" bson:"type,omitempty"`
}

type Reaction struct {
	UserID    string    `json:"user_id" bson:"user_id"`
	Emoji     string    `json:"emoji" bson:"emoji"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type Message struct {
	ID         string      `json:"id" bson:"_id"`
	ChatID     string      `json:"chat_id" bson:"chat_id"`
	SenderID   string      `json:"sender_id" bson:"sender_id"`
	Body       Body        `json:"body" bson:"body"`
	Attachment *Attachment `json:"attachment,omitempty" bson:"attachment,omitempty"`
	ReplyToID  string      `json:"reply_to_id,omitempty" bson:"reply_to_id,omitempty"`
	Reactions  []Reaction  `json:"reactions" bson:"reactions"`
	IsDeleted  bool        `json:"is_deleted" bson:"is_deleted"`
	DeletedAt  *time.Time  `json:"deleted_at,omitempty" bson:"deleted_at,omitempty"`
	ReadAt     *time.Time  `json:"read_at,omitempty" bson:"read_at,omitempty"`
	IsViewOnce bool        `json:"is_view_once" bson:"is_view_once"`
	ViewedAt   *time.Time  `json:"viewed_at,omitempty" bson:"viewed_at,omitempty"`
	// ExpiresAt is fixed at creation from the chat's disappearing policy.
	ExpiresAt *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	Version   int64      `json:"version" bson:"version"`
}

type State int

const (
	StateActive State = iota
	StateDeleted
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateDeleted:
		return "deleted"
	case StateExpired:
		return "expired"
	default:
		return "active"
	}
}

// State derives the lifecycle state from the stored nullable fields.
func (m *Message) State(now time.Time) State {
	if m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
		return StateExpired
	}
	if m.IsDeleted {
		return StateDeleted
	}
	return StateActive
}

// Summary is the text used for the chat's last_message.
func (m *Message) Summary() string {
	if m.Body.Payload == nil {
		return ""
	}
	if s := m.Body.Payload.Summary(); s != "" {
		return s
	}
	if m.Attachment != nil {
		return "📎 Attachment"
	}
	return ""
}

// ToggleReaction adds the (userID, emoji) reaction or removes it when it is
// already present. It reports whether the reaction is present afterwards.
func (m *Message) ToggleReaction(userID, emoji string, at time.Time) bool {
	idx := slices.IndexFunc(m.Reactions, func(r Reaction) bool {
		return r.UserID == userID && r.Emoji == emoji
	})
	if idx >= 0 {
		m.Reactions = slices.Delete(m.Reactions, idx, idx+1)
		return false
	}
	m.Reactions = append(m.Reactions, Reaction{UserID: userID, Emoji: emoji, CreatedAt: at})
	return true
}

func (m *Message) Poll() (*Poll, bool) {
	p, ok := m.Body.Payload.(*Poll)
	return p, ok
}

// MarkRead sets read_at the first time a non-sender reads the message.
func (m *Message) MarkRead(readerID string, at time.Time) bool {
	if readerID == m.SenderID || m.ReadAt != nil {
		return false
	}
	m.ReadAt = &at
	return true
}

// MarkViewed sets viewed_at the first time a non-sender opens a view-once
// message.
func (m *Message) MarkViewed(viewerID string, at time.Time) bool {
	if !m.IsViewOnce || viewerID == m.SenderID || m.ViewedAt != nil {
		return false
	}
	m.ViewedAt = &at
	return true
}

// DeleteForEveryone irreversibly replaces the content with the placeholder and
// drops the attachment.
func (m *Message) DeleteForEveryone(at time.Time) bool {
	if m.IsDeleted {
		return false
	}
	m.IsDeleted = true
	m.DeletedAt = &at
	m.Body = Body{Payload: &Text{Content: DeletedPlaceholder}}
	m.Attachment = nil
	return true
}
