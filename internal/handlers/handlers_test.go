package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/auth"
	"github.com/4xmen/karu/internal/cache"
	"github.com/4xmen/karu/internal/chat"
	"github.com/4xmen/karu/internal/db"
	"github.com/4xmen/karu/internal/linkpreview"
	"github.com/4xmen/karu/internal/metrics"
	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/notify"
	"github.com/4xmen/karu/internal/presence"
	"github.com/4xmen/karu/internal/registry"
)

type server struct {
	router *gin.Engine
	db     *db.DB
	tokens *auth.Service
	users  map[string]string
}

func setupServer(t *testing.T, sendLimit int64) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(t.TempDir() + "/handlers.db")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	log := zap.NewNop()
	m := metrics.NewNop()
	reg := registry.New(m)
	tracker := presence.NewTracker(cache.NewMemory(), database, 5*time.Minute, time.Minute, log)
	t.Cleanup(tracker.Wait)
	notifier := notify.NewService(database, database, reg, m, log)
	engine := chat.NewEngine(database, notifier, reg, tracker, m, log)
	tokens := auth.New("test-jwt-secret")
	previews := linkpreview.New(cache.NewMemory(), linkpreview.Config{Timeout: 2 * time.Second, CacheTTL: time.Minute, AllowPrivate: true}, log)

	routes := &Routes{
		Auth:          NewAuthHandler(tokens, tracker),
		Chats:         NewChatHandler(engine, log),
		Messages:      NewMessageHandler(engine, log),
		Notifications: NewNotificationHandler(notifier, log),
		Presence:      NewPresenceHandler(tracker, database, log),
		Previews:      NewPreviewHandler(previews, log),
	}
	if sendLimit > 0 {
		routes.SendLimiter = limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: sendLimit})
	}

	router := gin.New()
	router.Use(Recovery(log))
	routes.Mount(router)

	s := &server{router: router, db: database, tokens: tokens, users: map[string]string{}}
	for _, name := range []string{"alice", "bob"} {
		s.addUser(t, name)
	}
	return s
}

func (s *server) addUser(t *testing.T, username string) {
	t.Helper()
	ctx := context.Background()
	id := models.NewID()
	require.NoError(t, s.db.SaveUser(ctx, &models.User{ID: id, Role: "user", IsVerified: true}))
	require.NoError(t, s.db.SaveProfile(ctx, &models.Profile{UserID: id, Username: username}))
	s.users[username] = id
}

func (s *server) do(t *testing.T, as, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		token, err := s.tokens.SignToken(s.users[as], "user", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *server) openChat(t *testing.T) string {
	t.Helper()
	w := s.do(t, "alice", http.MethodPost, "/api/chats", gin.H{"recipient_username": "bob"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[map[string]string](t, w)["id"]
}

func TestAuthRequired(t *testing.T) {
	s := setupServer(t, 0)

	w := s.do(t, "", http.MethodGet, "/api/chats", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHENTICATED", decode[map[string]string](t, w)["code"])

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateChatIsIdempotent(t *testing.T) {
	s := setupServer(t, 0)
	id := s.openChat(t)

	w := s.do(t, "bob", http.MethodPost, "/api/chats", gin.H{"recipient_username": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode[map[string]string](t, w)["id"])

	w = s.do(t, "alice", http.MethodPost, "/api/chats", gin.H{"recipient_username": "nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMessageScenario(t *testing.T) {
	s := setupServer(t, 0)
	chatID := s.openChat(t)

	w := s.do(t, "alice", http.MethodPost, "/api/chats/"+chatID+"/messages", gin.H{"content": "hi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msgID := decode[models.MessageView](t, w).ID

	w = s.do(t, "alice", http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	chats := decode[[]chat.Summary](t, w)
	require.Len(t, chats, 1)
	assert.Equal(t, "hi", chats[0].LastMessage)
	assert.Equal(t, "bob", chats[0].Name)

	w = s.do(t, "bob", http.MethodPost, "/api/messages/"+msgID+"/react", gin.H{"emoji": "👍"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[models.MessageView](t, w).Reactions[0].MeReacted)

	w = s.do(t, "alice", http.MethodGet, "/api/chats/"+chatID+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[[]models.MessageView](t, w)
	require.Len(t, msgs, 1)
	assert.Equal(t, []models.ReactionSummary{{Emoji: "👍", Count: 1, MeReacted: false}}, msgs[0].Reactions)

	w = s.do(t, "bob", http.MethodPost, "/api/messages/"+msgID+"/read", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, "alice", http.MethodDelete, "/api/messages/"+msgID+"?mode=everyone", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, "bob", http.MethodDelete, "/api/messages/"+msgID+"?mode=everyone", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "PERMISSION_DENIED", decode[map[string]string](t, w)["code"])

	w = s.do(t, "bob", http.MethodGet, "/api/chats/"+chatID+"/messages", nil)
	msgs = decode[[]models.MessageView](t, w)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted)
	assert.Equal(t, models.DeletedPlaceholder, msgs[0].Content)
	assert.NotNil(t, msgs[0].ReadAt)
}

func TestErrorMapping(t *testing.T) {
	s := setupServer(t, 0)
	chatID := s.openChat(t)
	w := s.do(t, "alice", http.MethodPost, "/api/chats/"+chatID+"/messages", gin.H{
		"poll": gin.H{"question": "lunch?", "options": []string{"pizza", "sushi"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	pollID := decode[models.MessageView](t, w).ID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"malformed chat id", http.MethodGet, "/api/chats/xyz/messages", nil, http.StatusBadRequest},
		{"unknown chat", http.MethodGet, "/api/chats/" + models.NewID() + "/messages", nil, http.StatusNotFound},
		{"empty message", http.MethodPost, "/api/chats/" + chatID + "/messages", gin.H{}, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/chats/" + chatID + "/messages?limit=-1", nil, http.StatusBadRequest},
		{"vote without option", http.MethodPost, "/api/messages/" + pollID + "/vote", gin.H{}, http.StatusBadRequest},
		{"vote out of range", http.MethodPost, "/api/messages/" + pollID + "/vote", gin.H{"option_index": 5}, http.StatusBadRequest},
		{"bad delete mode", http.MethodDelete, "/api/messages/" + pollID + "?mode=all", nil, http.StatusBadRequest},
		{"leave direct chat", http.MethodPost, "/api/chats/" + chatID + "/leave", nil, http.StatusBadRequest},
		{"group op on direct chat", http.MethodPost, "/api/chats/" + chatID + "/toggle-admin", gin.H{"username": "bob"}, http.StatusForbidden},
		{"negative disappearing", http.MethodPost, "/api/chats/" + chatID + "/disappearing", gin.H{"duration": -5}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, "alice", tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w = s.do(t, "bob", http.MethodPost, "/api/messages/"+pollID+"/close", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, "alice", http.MethodPost, "/api/messages/"+pollID+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, "bob", http.MethodPost, "/api/messages/"+pollID+"/vote", gin.H{"option_index": 0})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestNotificationsAndPresence(t *testing.T) {
	s := setupServer(t, 0)
	chatID := s.openChat(t)
	w := s.do(t, "alice", http.MethodPost, "/api/chats/"+chatID+"/messages", gin.H{"content": "ping"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, "bob", http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	views := decode[[]models.NotificationView](t, w)
	require.Len(t, views, 1)
	assert.Equal(t, "alice", views[0].ActorUsername)
	assert.Equal(t, chatID, views[0].TargetID)
	assert.False(t, views[0].IsRead)

	w = s.do(t, "bob", http.MethodPut, "/api/notifications/"+views[0].ID+"/read", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, "alice", http.MethodPut, "/api/notifications/"+views[0].ID+"/read", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "bob", http.MethodPut, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode[map[string]int64](t, w)["updated"])

	w = s.do(t, "bob", http.MethodDelete, "/api/notifications/"+views[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// alice has made authenticated requests, so she reads as online.
	w = s.do(t, "bob", http.MethodGet, "/api/presence/"+s.users["alice"], nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[presenceResponse](t, w)
	assert.True(t, p.IsOnline)

	w = s.do(t, "bob", http.MethodGet, "/api/presence/"+models.NewID(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLiveLocation(t *testing.T) {
	s := setupServer(t, 0)

	w := s.do(t, "alice", http.MethodPut, "/api/profile/location", gin.H{"latitude": 35.7, "longitude": 51.4, "duration_minutes": 15})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	loc := decode[models.Location](t, w)
	assert.True(t, loc.IsLive)
	assert.NotNil(t, loc.ExpiresAt)

	w = s.do(t, "alice", http.MethodPut, "/api/profile/location", gin.H{"latitude": 135.0, "longitude": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendRateLimit(t *testing.T) {
	s := setupServer(t, 2)
	chatID := s.openChat(t)

	for i := 0; i < 2; i++ {
		w := s.do(t, "alice", http.MethodPost, "/api/chats/"+chatID+"/messages", gin.H{"content": "spam"})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}
	w := s.do(t, "alice", http.MethodPost, "/api/chats/"+chatID+"/messages", gin.H{"content": "spam"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// The budget is per user.
	w = s.do(t, "bob", http.MethodPost, "/api/chats/"+chatID+"/messages", gin.H{"content": "reply"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestLinkPreview(t *testing.T) {
	s := setupServer(t, 0)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Release notes</title>` +
			`<meta property="og:image" content="/cover.png"></head></html>`))
	}))
	defer origin.Close()

	w := s.do(t, "alice", http.MethodGet, "/api/chats/preview?url="+url.QueryEscape(origin.URL+"/notes"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode[linkpreview.Preview](t, w)
	assert.Equal(t, "Release notes", p.Title)
	assert.Equal(t, origin.URL+"/cover.png", p.Image)

	w = s.do(t, "alice", http.MethodGet, "/api/chats/preview", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "alice", http.MethodGet, "/api/chats/preview?url=javascript:alert(1)", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "", http.MethodGet, "/api/chats/preview?url="+url.QueryEscape(origin.URL), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReplyPreviewInListing(t *testing.T) {
	s := setupServer(t, 0)
	chatID := s.openChat(t)

	w := s.do(t, "alice", http.MethodPost, "/api/chats/"+chatID+"/messages", gin.H{"content": "ship it?"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	parentID := decode[models.MessageView](t, w).ID

	w = s.do(t, "bob", http.MethodPost, "/api/chats/"+chatID+"/messages", gin.H{"content": "yes", "reply_to_id": parentID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, "alice", http.MethodGet, "/api/chats/"+chatID+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	views := decode[[]models.MessageView](t, w)
	require.Len(t, views, 2)
	require.NotNil(t, views[1].ReplyTo)
	assert.Equal(t, models.ReplyPreview{ID: parentID, Content: "ship it?", Username: "alice"}, *views[1].ReplyTo)
}
