package chat

import (
	"strings"
	"time"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/models"
)

type SendRequest struct {
	Content          string          `json:"content"`
	EncryptedContent string          `json:"encrypted_content"`
	EncryptionIV     string          `json:"encryption_iv"`
	AttachmentURL    string          `json:"attachment_url"`
	AttachmentType   string          `json:"attachment_type"`
	ReplyToID        string          `json:"reply_to_id"`
	Poll             *PollInput      `json:"poll"`
	Location         *LocationInput  `json:"location"`
	Contact          *models.Contact `json:"contact"`
	IsViewOnce       bool            `json:"is_view_once"`
}

type PollInput struct {
	Question   string   `json:"question"`
	Options    []string `json:"options"`
	IsMultiple bool     `json:"is_multiple"`
}

type LocationInput struct {
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	Label           string  `json:"label"`
	IsLive          bool    `json:"is_live"`
	DurationMinutes int     `json:"duration_minutes"`
}

func (l *LocationInput) toLocation(now time.Time) (*models.Location, error) {
	if l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
		return nil, apperr.InvalidArg("coordinates out of range")
	}
	if l.DurationMinutes < 0 {
		return nil, apperr.InvalidArg("duration_minutes must not be negative")
	}
	loc := &models.Location{
		Latitude:  l.Latitude,
		Longitude: l.Longitude,
		Label:     strings.TrimSpace(l.Label),
		IsLive:    l.IsLive,
	}
	if l.DurationMinutes > 0 {
		exp := now.Add(time.Duration(l.DurationMinutes) * time.Minute)
		loc.ExpiresAt = &exp
	}
	return loc, nil
}

// body validates the request and picks its single primary payload.
func (r *SendRequest) body(now time.Time) (models.Body, *models.Attachment, error) {
	var attachment *models.Attachment
	if r.AttachmentURL != "" {
		attachment = &models.Attachment{URL: r.AttachmentURL, Type: r.AttachmentType}
	}
	hasText := strings.TrimSpace(r.Content) != "" || r.EncryptedContent != ""

	primaries := 0
	for _, set := range []bool{hasText, r.Poll != nil, r.Location != nil, r.Contact != nil} {
		if set {
			primaries++
		}
	}
	if primaries > 1 {
		return models.Body{}, nil, apperr.InvalidArg("a message carries exactly one of text, poll, location or contact")
	}
	if attachment != nil && (r.Poll != nil || r.Location != nil || r.Contact != nil) {
		return models.Body{}, nil, apperr.InvalidArg("attachments can only accompany text")
	}
	if r.IsViewOnce && (r.Poll != nil || r.Location != nil || r.Contact != nil) {
		return models.Body{}, nil, apperr.InvalidArg("only text and attachments can be view-once")
	}
	if r.EncryptedContent != "" && r.EncryptionIV == "" {
		return models.Body{}, nil, apperr.InvalidArg("encryption_iv is required with encrypted_content")
	}

	switch {
	case r.Poll != nil:
		question := strings.TrimSpace(r.Poll.Question)
		if question == "" {
			return models.Body{}, nil, apperr.InvalidArg("poll question is required")
		}
		if len(r.Poll.Options) < 2 {
			return models.Body{}, nil, apperr.InvalidArg("poll needs at least two options")
		}
		poll := &models.Poll{Question: question, IsMultiple: r.Poll.IsMultiple, CreatedAt: now}
		for _, opt := range r.Poll.Options {
			opt = strings.TrimSpace(opt)
			if opt == "" {
				return models.Body{}, nil, apperr.InvalidArg("poll options must not be empty")
			}
			poll.Options = append(poll.Options, models.PollOption{Text: opt, VoterIDs: []string{}})
		}
		return models.Body{Payload: poll}, nil, nil

	case r.Location != nil:
		loc, err := r.Location.toLocation(now)
		if err != nil {
			return models.Body{}, nil, err
		}
		return models.Body{Payload: loc}, nil, nil

	case r.Contact != nil:
		if strings.TrimSpace(r.Contact.Username) == "" {
			return models.Body{}, nil, apperr.InvalidArg("contact username is required")
		}
		c := *r.Contact
		return models.Body{Payload: &c}, nil, nil

	default:
		if !hasText && attachment == nil {
			return models.Body{}, nil, apperr.InvalidArg("message is empty")
		}
		return models.Body{Payload: &models.Text{
			Content:    r.Content,
			Ciphertext: r.EncryptedContent,
			IV:         r.EncryptionIV,
		}}, attachment, nil
	}
}
