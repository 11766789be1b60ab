package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/chat"
)

type MessageHandler struct {
	engine *chat.Engine
	log    *zap.Logger
}

func NewMessageHandler(engine *chat.Engine, log *zap.Logger) *MessageHandler {
	return &MessageHandler{engine: engine, log: log}
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

type voteRequest struct {
	OptionIndex *int `json:"option_index"`
}

func (h *MessageHandler) React(c *gin.Context) {
	var req reactRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	view, err := h.engine.React(c.Request.Context(), currentUser(c), c.Param("id"), req.Emoji)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *MessageHandler) Vote(c *gin.Context) {
	var req voteRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}
	if req.OptionIndex == nil {
		respondError(c, h.log, apperr.InvalidArg("option_index is required"))
		return
	}

	view, err := h.engine.Vote(c.Request.Context(), currentUser(c), c.Param("id"), *req.OptionIndex)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *MessageHandler) ClosePoll(c *gin.Context) {
	view, err := h.engine.ClosePoll(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// MarkViewed and MarkRead are idempotent and always answer 204 on success.
func (h *MessageHandler) MarkViewed(c *gin.Context) {
	if err := h.engine.MarkViewed(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	if err := h.engine.MarkRead(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) Delete(c *gin.Context) {
	mode := c.DefaultQuery("mode", chat.DeleteForMe)
	if err := h.engine.Delete(c.Request.Context(), currentUser(c), c.Param("id"), mode); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) UpdateLiveLocation(c *gin.Context) {
	var req chat.LocationInput
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	loc, err := h.engine.UpdateLiveLocation(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, loc)
}
