package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/auth"
	"github.com/4xmen/karu/internal/metrics"
	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/registry"
	"github.com/4xmen/karu/internal/signaling"
	"github.com/4xmen/karu/internal/store"
)

type touches struct {
	mu    sync.Mutex
	users []string
}

func (t *touches) Touch(_ context.Context, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users = append(t.users, userID)
}

func (t *touches) count(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, u := range t.users {
		if u == userID {
			n++
		}
	}
	return n
}

type profiles map[string]*models.Profile

func (p profiles) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	if prof, ok := p[id]; ok {
		return prof, nil
	}
	return nil, store.ErrNotFound
}

type harness struct {
	server   *httptest.Server
	registry *registry.Sharded
	tokens   *auth.Service
	presence *touches
}

func setupHub(t *testing.T, peers profiles) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New(metrics.NewNop())
	tokens := auth.New("test-secret")
	p := &touches{}
	relay := signaling.NewRelay(reg, peers, metrics.NewNop(), zap.NewNop())
	hub := NewHub(reg, tokens, p, relay, zap.NewNop(), nil)

	r := gin.New()
	r.GET("/ws", hub.HandleWebSocket)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &harness{server: srv, registry: reg, tokens: tokens, presence: p}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := h.tokens.SignToken(userID, "user", time.Hour)
	require.NoError(t, err)
	return tok
}

type frame struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func (h *harness) login(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": h.token(t, userID)}))
	f := readFrame(t, conn)
	require.Equal(t, "auth_success", f.Type)
	require.Equal(t, userID, f.Data["user_id"])
	// The reply is queued just ahead of registration.
	require.Eventually(t, func() bool { return h.registry.Connections(userID) > 0 }, time.Second, 5*time.Millisecond)
}

func TestConnectionInertUntilAuth(t *testing.T) {
	h := setupHub(t, profiles{})
	uid := models.NewID()
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "typing",
		"data": map[string]string{"to": models.NewID()},
	}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "bogus"}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	// None of the frames above produce a reply, so the first frame read is
	// the answer to the valid handshake.
	h.login(t, conn, uid)
	assert.Equal(t, 1, h.registry.Connections(uid))
	assert.Eventually(t, func() bool { return h.presence.count(uid) == 1 }, time.Second, 5*time.Millisecond)
}

func TestLaterAuthFramesIgnored(t *testing.T) {
	h := setupHub(t, profiles{})
	alice, mallory := models.NewID(), models.NewID()
	conn := h.dial(t)
	h.login(t, conn, alice)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": h.token(t, mallory)}))
	_, err := registry.Push(h.registry, alice, "message", map[string]string{"content": "still alice"})
	require.NoError(t, err)

	f := readFrame(t, conn)
	assert.Equal(t, "message", f.Type)
	assert.Equal(t, 0, h.registry.Connections(mallory))
}

func TestPushReachesEveryDevice(t *testing.T) {
	h := setupHub(t, profiles{})
	uid := models.NewID()
	phone, laptop := h.dial(t), h.dial(t)
	h.login(t, phone, uid)
	h.login(t, laptop, uid)
	require.Eventually(t, func() bool { return h.registry.Connections(uid) == 2 }, time.Second, 5*time.Millisecond)

	n, err := registry.Push(h.registry, uid, "notification", map[string]string{"content": "hello"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, conn := range []*websocket.Conn{phone, laptop} {
		f := readFrame(t, conn)
		assert.Equal(t, "notification", f.Type)
		assert.Equal(t, "hello", f.Data["content"])
	}
}

func TestSignalRelayedBetweenPeers(t *testing.T) {
	alice, bob := models.NewID(), models.NewID()
	h := setupHub(t, profiles{alice: {UserID: alice, Username: "alice"}})

	ac, bc := h.dial(t), h.dial(t)
	h.login(t, ac, alice)
	h.login(t, bc, bob)

	require.NoError(t, ac.WriteJSON(map[string]any{
		"type": "call-offer",
		"data": map[string]any{"to": bob, "sdp": "v=0"},
	}))

	f := readFrame(t, bc)
	assert.Equal(t, "call-offer", f.Type)
	assert.Equal(t, alice, f.Data["from"])
	assert.Equal(t, "alice", f.Data["callerUsername"])
	assert.Equal(t, "v=0", f.Data["sdp"])

	// Every frame after auth counts as activity.
	assert.Eventually(t, func() bool { return h.presence.count(alice) == 2 }, time.Second, 10*time.Millisecond)
}

func TestCloseUnregisters(t *testing.T) {
	h := setupHub(t, profiles{})
	uid := models.NewID()
	conn := h.dial(t)
	h.login(t, conn, uid)
	require.Equal(t, 1, h.registry.Connections(uid))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool { return h.registry.Connections(uid) == 0 }, 2*time.Second, 10*time.Millisecond)
	n, err := registry.Push(h.registry, uid, "message", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClientSendAfterShutdown(t *testing.T) {
	c := &Client{id: "c1", wake: make(chan struct{}, 1), cancel: func() {}}
	assert.True(t, c.Send([]byte("a")))
	assert.True(t, c.Send([]byte("b")))
	assert.Len(t, c.drain(), 2)

	c.shutdown()
	assert.False(t, c.Send([]byte("c")))
	assert.Empty(t, c.drain())
}
