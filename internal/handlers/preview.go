package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/linkpreview"
)

type LinkPreviewer interface {
	Fetch(ctx context.Context, rawURL string) (*linkpreview.Preview, error)
}

type PreviewHandler struct {
	previews LinkPreviewer
	log      *zap.Logger
}

func NewPreviewHandler(previews LinkPreviewer, log *zap.Logger) *PreviewHandler {
	return &PreviewHandler{previews: previews, log: log}
}

// Get returns the title, description and image of the page at ?url=.
func (h *PreviewHandler) Get(c *gin.Context) {
	raw := c.Query("url")
	if raw == "" {
		respondError(c, h.log, apperr.InvalidArg("url is required"))
		return
	}
	p, err := h.previews.Fetch(c.Request.Context(), raw)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
