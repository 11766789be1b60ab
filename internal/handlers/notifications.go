package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/notify"
	"github.com/4xmen/karu/internal/store"
)

type NotificationHandler struct {
	notify *notify.Service
	log    *zap.Logger
}

func NewNotificationHandler(n *notify.Service, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notify: n, log: log}
}

func (h *NotificationHandler) List(c *gin.Context) {
	views, err := h.notify.List(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.notify.MarkAllRead(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.notify.MarkRead(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	if err := h.notify.Delete(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

type PresenceHandler struct {
	presence Presence
	profiles ProfileReader
	log      *zap.Logger
}

func NewPresenceHandler(p Presence, profiles ProfileReader, log *zap.Logger) *PresenceHandler {
	return &PresenceHandler{presence: p, profiles: profiles, log: log}
}

type presenceResponse struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Get reports the ephemeral online flag alongside the durable last-seen
// stamp. The flag may lag a disconnect by up to the presence TTL.
func (h *PresenceHandler) Get(c *gin.Context) {
	userID := c.Param("user_id")
	if !models.ValidID(userID) {
		respondError(c, h.log, apperr.InvalidArg("invalid user id"))
		return
	}

	p, err := h.profiles.GetProfile(c.Request.Context(), userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(c, h.log, apperr.NotFound("user not found"))
		return
	case err != nil:
		respondError(c, h.log, apperr.Internal("failed to load profile", err))
		return
	}

	c.JSON(http.StatusOK, presenceResponse{
		UserID:   userID,
		IsOnline: h.presence.IsOnline(c.Request.Context(), userID),
		LastSeen: p.LastSeenAt,
	})
}
