package models

import (
	"time"
)

type ReactionSummary struct {
	Emoji     string `json:"emoji"`
	Count     int    `json:"count"`
	MeReacted bool   `json:"me_reacted"`
}

type PollOptionView struct {
	Text    string `json:"text"`
	Count   int    `json:"count"`
	MeVoted bool   `json:"me_voted"`
}

type PollView struct {
	Question   string           `json:"question"`
	Options    []PollOptionView `json:"options"`
	IsMultiple bool             `json:"is_multiple"`
	IsClosed   bool             `json:"is_closed"`
	TotalVotes int              `json:"total_votes"`
}

// ReplyPreview summarizes the message a reply points at.
type ReplyPreview struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Username string `json:"username"`
}

// MessageView is the per-viewer projection of a message returned by list
// endpoints and pushed over websockets.
type MessageView struct {
	ID               string            `json:"id"`
	ChatID           string            `json:"chat_id"`
	SenderID         string            `json:"sender_id"`
	SenderUsername   string            `json:"sender_username,omitempty"`
	Kind             PayloadKind       `json:"kind"`
	Content          string            `json:"content"`
	EncryptedContent string            `json:"encrypted_content,omitempty"`
	IV               string            `json:"iv,omitempty"`
	AttachmentURL    string            `json:"attachment_url,omitempty"`
	AttachmentType   string            `json:"attachment_type,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	IsMe             bool              `json:"is_me"`
	ReplyToID        string            `json:"reply_to_id,omitempty"`
	ReplyTo          *ReplyPreview     `json:"reply_to,omitempty"`
	Reactions        []ReactionSummary `json:"reactions"`
	IsDeleted        bool              `json:"is_deleted"`
	ReadAt           *time.Time        `json:"read_at,omitempty"`
	Poll             *PollView         `json:"poll,omitempty"`
	Location         *Location         `json:"location,omitempty"`
	Contact          *Contact          `json:"contact,omitempty"`
	IsViewOnce       bool              `json:"is_view_once"`
	ViewedAt         *time.Time        `json:"viewed_at,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	State            string            `json:"state"`
}

// ViewFor projects m for viewerID. Reactions are grouped by emoji in order of
// first appearance. A viewed view-once message is redacted for every viewer.
func (m *Message) ViewFor(viewerID string, now time.Time) MessageView {
	v := MessageView{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		Kind:       m.Body.Kind(),
		CreatedAt:  m.CreatedAt,
		IsMe:       m.SenderID == viewerID,
		ReplyToID:  m.ReplyToID,
		Reactions:  aggregateReactions(m.Reactions, viewerID),
		IsDeleted:  m.IsDeleted,
		ReadAt:     m.ReadAt,
		IsViewOnce: m.IsViewOnce,
		ViewedAt:   m.ViewedAt,
		ExpiresAt:  m.ExpiresAt,
		State:      m.State(now).String(),
	}
	if m.Attachment != nil {
		v.AttachmentURL = m.Attachment.URL
		v.AttachmentType = m.Attachment.Type
	}

	switch p := m.Body.Payload.(type) {
	case *Text:
		v.Content = p.Content
		v.EncryptedContent = p.Ciphertext
		v.IV = p.IV
	case *Poll:
		v.Content = p.Question
		v.Poll = pollView(p, viewerID)
	case *Location:
		loc := *p
		v.Location = &loc
	case *Contact:
		c := *p
		v.Contact = &c
	}

	if m.IsDeleted {
		v.Content = DeletedPlaceholder
		v.EncryptedContent = ""
		v.IV = ""
		v.AttachmentURL = ""
		v.AttachmentType = ""
	} else if m.IsViewOnce && m.ViewedAt != nil {
		v.Content = ViewedPlaceholder
		v.EncryptedContent = ""
		v.IV = ""
		v.AttachmentURL = ""
		v.AttachmentType = ""
		v.Poll = nil
		v.Location = nil
		v.Contact = nil
	}
	return v
}

// Preview summarizes m as the parent of a reply. Deleted and viewed view-once
// parents show their placeholder; an expired parent has no preview.
func (m *Message) Preview(now time.Time) *ReplyPreview {
	if m.State(now) == StateExpired {
		return nil
	}
	p := &ReplyPreview{ID: m.ID}
	switch {
	case m.IsDeleted:
		p.Content = DeletedPlaceholder
	case m.IsViewOnce && m.ViewedAt != nil:
		p.Content = ViewedPlaceholder
	default:
		p.Content = m.Summary()
	}
	return p
}

func aggregateReactions(reactions []Reaction, viewerID string) []ReactionSummary {
	out := make([]ReactionSummary, 0, len(reactions))
	index := make(map[string]int, len(reactions))
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(out)
			index[r.Emoji] = i
			out = append(out, ReactionSummary{Emoji: r.Emoji})
		}
		out[i].Count++
		if r.UserID == viewerID {
			out[i].MeReacted = true
		}
	}
	return out
}

func pollView(p *Poll, viewerID string) *PollView {
	pv := &PollView{
		Question:   p.Question,
		Options:    make([]PollOptionView, len(p.Options)),
		IsMultiple: p.IsMultiple,
		IsClosed:   p.IsClosed,
	}
	for i, opt := range p.Options {
		ov := PollOptionView{Text: opt.Text, Count: len(opt.VoterIDs)}
		for _, id := range opt.VoterIDs {
			if id == viewerID {
				ov.MeVoted = true
				break
			}
		}
		pv.Options[i] = ov
		pv.TotalVotes += ov.Count
	}
	return pv
}
