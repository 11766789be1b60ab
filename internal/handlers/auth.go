package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/auth"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

type Presence interface {
	Touch(ctx context.Context, userID string)
	IsOnline(ctx context.Context, userID string) bool
}

type AuthHandler struct {
	tokens   TokenValidator
	presence Presence
}

func NewAuthHandler(tokens TokenValidator, p Presence) *AuthHandler {
	return &AuthHandler{tokens: tokens, presence: p}
}

// AuthMiddleware resolves the bearer token to a user id and role and counts
// the request as presence activity.
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abortWithError(c, apperr.Unauthorized("missing authorization token"))
			return
		}

		claims, err := h.tokens.ValidateToken(token)
		if err != nil {
			abortWithError(c, apperr.Unauthorized("invalid token"))
			return
		}

		c.Set(ctxUserID, claims.UserID())
		c.Set(ctxRole, claims.Role)
		h.presence.Touch(c.Request.Context(), claims.UserID())
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{
		"error": apperr.Message(err),
		"code":  apperr.CodeOf(err),
	})
}

// respondError writes err and logs it when it is a server-side failure.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("user_id", currentUser(c)),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	abortWithError(c, err)
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperr.InvalidArg("invalid request body")
	}
	return nil
}
