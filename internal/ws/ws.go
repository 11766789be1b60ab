// Package ws serves the realtime socket. A connection stays inert until it
// authenticates with an auth frame; after that it is registered for fan-out
// and may relay signaling frames to peers.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/auth"
	"github.com/4xmen/karu/internal/registry"
	"github.com/4xmen/karu/internal/signaling"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxFrameSize = 64 << 10
)

const (
	frameAuth        = "auth"
	frameAuthSuccess = "auth_success"
)

type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

type Presence interface {
	Touch(ctx context.Context, userID string)
}

type Relay interface {
	Forward(ctx context.Context, from, frameType string, data json.RawMessage) error
}

type Hub struct {
	registry registry.Registry
	tokens   TokenValidator
	presence Presence
	relay    Relay
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewHub(reg registry.Registry, tokens TokenValidator, p Presence, relay Relay, log *zap.Logger, allowedOrigins []string) *Hub {
	return &Hub{
		registry: reg,
		tokens:   tokens,
		presence: p,
		relay:    relay,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker allows any origin when the list is empty or contains "*".
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

type inbound struct {
	Type  string          `json:"type"`
	Token string          `json:"token,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one socket. It implements registry.Handle: Send appends to an
// unbounded queue drained by the write pump, so fan-out never waits on a
// slow peer.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	userID string

	mu     sync.Mutex
	queue  [][]byte
	closed bool
	wake   chan struct{}
}

var _ registry.Handle = (*Client)(nil)

func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) ID() string { return c.id }

func (c *Client) Send(payload []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, payload)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Client) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

func (c *Client) shutdown() {
	c.mu.Lock()
	c.closed = true
	c.queue = nil
	c.mu.Unlock()
	c.cancel()
}

func (c *Client) readPump() {
	defer func() {
		if c.userID != "" {
			c.hub.registry.Unregister(c.userID, c)
			c.hub.log.Debug("websocket disconnected", zap.String("user_id", c.userID), zap.String("conn_id", c.id))
		}
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}

		var frame inbound
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			continue
		}

		if c.userID == "" {
			if frame.Type == frameAuth {
				c.authenticate(frame.Token)
			}
			continue
		}
		c.handle(frame)
	}
}

func (c *Client) authenticate(token string) {
	claims, err := c.hub.tokens.ValidateToken(token)
	if err != nil {
		c.hub.log.Debug("websocket auth rejected", zap.String("conn_id", c.id), zap.Error(err))
		return
	}

	c.userID = claims.UserID()
	reply, err := json.Marshal(registry.Frame{
		Type: frameAuthSuccess,
		Data: map[string]string{"user_id": c.userID},
	})
	if err != nil {
		return
	}
	// Queue the reply before registering so it is always the first frame.
	c.Send(reply)
	c.hub.registry.Register(c.userID, c)
	c.hub.presence.Touch(c.ctx, c.userID)
	c.hub.log.Debug("websocket authenticated", zap.String("user_id", c.userID), zap.String("conn_id", c.id))
}

func (c *Client) handle(frame inbound) {
	c.hub.presence.Touch(c.ctx, c.userID)

	if !signaling.IsSignal(frame.Type) {
		return
	}
	if err := c.hub.relay.Forward(c.ctx, c.userID, frame.Type, frame.Data); err != nil {
		c.hub.log.Debug("signal rejected",
			zap.String("user_id", c.userID),
			zap.String("type", frame.Type),
			zap.Error(err),
		)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.wake:
			for _, payload := range c.drain() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					c.shutdown()
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
