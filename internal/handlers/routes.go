package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
)

type Routes struct {
	Auth          *AuthHandler
	Chats         *ChatHandler
	Messages      *MessageHandler
	Notifications *NotificationHandler
	Presence      *PresenceHandler
	// Previews serves link previews. Nil leaves the route unmounted.
	Previews *PreviewHandler
	// SendLimiter throttles message sends per user. Nil disables it.
	SendLimiter *limiter.Limiter
}

// Mount registers the authenticated REST surface under /api.
func (r *Routes) Mount(router gin.IRouter) {
	api := router.Group("/api")
	api.Use(r.Auth.AuthMiddleware())

	send := []gin.HandlerFunc{r.Chats.SendMessage}
	if r.SendLimiter != nil {
		send = append([]gin.HandlerFunc{RateLimit(r.SendLimiter)}, send...)
	}

	chats := api.Group("/chats")
	{
		chats.GET("", r.Chats.ListChats)
		chats.POST("", r.Chats.CreateChat)
		chats.POST("/group", r.Chats.CreateGroup)
		chats.GET("/:id/messages", r.Chats.ListMessages)
		chats.POST("/:id/messages", send...)
		chats.POST("/:id/participants/add", r.Chats.AddParticipants)
		chats.POST("/:id/participants/remove", r.Chats.RemoveParticipant)
		chats.POST("/:id/leave", r.Chats.Leave)
		chats.POST("/:id/update", r.Chats.UpdateGroup)
		chats.POST("/:id/toggle-admin", r.Chats.ToggleAdmin)
		chats.POST("/:id/disappearing", r.Chats.SetDisappearing)
		if r.Previews != nil {
			chats.GET("/preview", r.Previews.Get)
		}
	}

	messages := api.Group("/messages")
	{
		messages.POST("/:id/react", r.Messages.React)
		messages.POST("/:id/vote", r.Messages.Vote)
		messages.POST("/:id/close", r.Messages.ClosePoll)
		messages.POST("/:id/view", r.Messages.MarkViewed)
		messages.POST("/:id/read", r.Messages.MarkRead)
		messages.DELETE("/:id", r.Messages.Delete)
	}

	notifications := api.Group("/notifications")
	{
		notifications.GET("", r.Notifications.List)
		notifications.PUT("", r.Notifications.MarkAllRead)
		notifications.PUT("/:id/read", r.Notifications.MarkRead)
		notifications.DELETE("/:id", r.Notifications.Delete)
	}

	api.GET("/presence/:user_id", r.Presence.Get)
	api.PUT("/profile/location", r.Messages.UpdateLiveLocation)
}
