package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/chat"
	"github.com/4xmen/karu/internal/store"
)

type ChatHandler struct {
	engine *chat.Engine
	log    *zap.Logger
}

func NewChatHandler(engine *chat.Engine, log *zap.Logger) *ChatHandler {
	return &ChatHandler{engine: engine, log: log}
}

type createChatRequest struct {
	RecipientUsername string `json:"recipient_username"`
}

type createGroupRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type participantsRequest struct {
	Usernames []string `json:"usernames"`
}

type participantRequest struct {
	Username string `json:"username"`
}

type disappearingRequest struct {
	Duration *int64 `json:"duration"`
}

// ListChats returns the caller's conversations, most recent first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.engine.ListChats(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// CreateChat opens a direct chat, returning the existing one when present.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req createChatRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	ch, created, err := h.engine.CreateDirect(c.Request.Context(), currentUser(c), req.RecipientUsername)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"id": ch.ID})
}

func (h *ChatHandler) CreateGroup(c *gin.Context) {
	var req createGroupRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	ch, err := h.engine.CreateGroup(c.Request.Context(), currentUser(c), req.Name, req.Participants)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": ch.ID})
}

func (h *ChatHandler) ListMessages(c *gin.Context) {
	limit := store.DefaultMessageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, h.log, apperr.InvalidArg("invalid limit"))
			return
		}
		limit = min(n, store.DefaultMessageLimit)
	}

	msgs, err := h.engine.ListMessages(c.Request.Context(), currentUser(c), c.Param("id"), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req chat.SendRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	view, err := h.engine.Send(c.Request.Context(), currentUser(c), c.Param("id"), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *ChatHandler) AddParticipants(c *gin.Context) {
	var req participantsRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}
	if len(req.Usernames) == 0 {
		respondError(c, h.log, apperr.InvalidArg("usernames are required"))
		return
	}

	ch, err := h.engine.AddParticipants(c.Request.Context(), currentUser(c), c.Param("id"), req.Usernames)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": ch.Participants})
}

func (h *ChatHandler) RemoveParticipant(c *gin.Context) {
	var req participantRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	ch, err := h.engine.RemoveParticipant(c.Request.Context(), currentUser(c), c.Param("id"), req.Username)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": ch.Participants})
}

func (h *ChatHandler) Leave(c *gin.Context) {
	if err := h.engine.Leave(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) UpdateGroup(c *gin.Context) {
	var req chat.GroupUpdate
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	ch, err := h.engine.UpdateGroup(c.Request.Context(), currentUser(c), c.Param("id"), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": ch.ID, "name": ch.Name, "avatar_url": ch.AvatarURL})
}

func (h *ChatHandler) ToggleAdmin(c *gin.Context) {
	var req participantRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	isAdmin, err := h.engine.ToggleAdmin(c.Request.Context(), currentUser(c), c.Param("id"), req.Username)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_admin": isAdmin})
}

func (h *ChatHandler) SetDisappearing(c *gin.Context) {
	var req disappearingRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	ch, err := h.engine.SetDisappearing(c.Request.Context(), currentUser(c), c.Param("id"), req.Duration)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disappearing_duration": ch.DisappearingDuration})
}
