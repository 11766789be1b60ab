package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/db"
	"github.com/4xmen/karu/internal/metrics"
	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/registry"
)

type captureHandle struct {
	mu     sync.Mutex
	frames [][]byte
}

func (h *captureHandle) ID() string { return "capture" }

func (h *captureHandle) Send(p []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, p)
	return true
}

func setup(t *testing.T) (*Service, *db.DB, *registry.Sharded) {
	t.Helper()
	database, err := db.New(t.TempDir() + "/notify.db")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()
	require.NoError(t, database.SaveProfile(ctx, &models.Profile{UserID: "alice", Username: "alice", AvatarURL: "https://cdn/a.png"}))
	require.NoError(t, database.SaveProfile(ctx, &models.Profile{UserID: "bob", Username: "bob", BlockedUsers: []string{"mallory"}}))

	m := metrics.NewNop()
	reg := registry.New(m)
	return NewService(database, database, reg, m, zap.NewNop()), database, reg
}

func TestNotifySkipsSelfAndBlocked(t *testing.T) {
	svc, database, _ := setup(t)
	ctx := context.Background()

	n, err := svc.Notify(ctx, Event{Recipient: "bob", Actor: "bob", Type: "message", Text: "x"}, false)
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = svc.Notify(ctx, Event{Recipient: "bob", Actor: "mallory", Type: "message", Text: "x"}, true)
	require.NoError(t, err)
	assert.Nil(t, n)

	list, err := database.ListNotifications(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNotifyPushesToLiveHandles(t *testing.T) {
	svc, _, reg := setup(t)
	ctx := context.Background()
	h := &captureHandle{}
	reg.Register("bob", h)

	n, err := svc.Notify(ctx, Event{Recipient: "bob", Actor: "alice", Type: "like", TargetID: models.NewID(), Text: "liked your post"}, true)
	require.NoError(t, err)
	require.NotNil(t, n)

	require.Len(t, h.frames, 1)
	var frame struct {
		Type string                  `json:"type"`
		Data models.NotificationView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(h.frames[0], &frame))
	assert.Equal(t, "notification", frame.Type)
	assert.Equal(t, n.ID, frame.Data.ID)
	assert.Equal(t, "alice", frame.Data.ActorUsername)
	assert.Equal(t, "https://cdn/a.png", frame.Data.ActorAvatarURL)

	// Without push the record is still durable.
	_, err = svc.Notify(ctx, Event{Recipient: "bob", Actor: "alice", Type: "message", Text: "sent you a message"}, false)
	require.NoError(t, err)
	assert.Len(t, h.frames, 1)

	views, err := svc.List(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, views, 2)
}

func TestNotifyUnknownRecipientProfileIsNotBlocked(t *testing.T) {
	svc, _, _ := setup(t)

	n, err := svc.Notify(context.Background(), Event{Recipient: "carol", Actor: "ghost", Type: "message", Text: "x"}, true)
	require.NoError(t, err)
	require.NotNil(t, n)
}

func TestReadAndDelete(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	n, err := svc.Notify(ctx, Event{Recipient: "bob", Actor: "alice", Type: "message", Text: "x"}, false)
	require.NoError(t, err)

	assert.True(t, apperr.Is(svc.MarkRead(ctx, "nope", "bob"), apperr.CodeInvalidArgument))
	assert.True(t, apperr.Is(svc.MarkRead(ctx, n.ID, "alice"), apperr.CodeNotFound))
	require.NoError(t, svc.MarkRead(ctx, n.ID, "bob"))

	views, err := svc.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].IsRead)

	count, err := svc.MarkAllRead(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.True(t, apperr.Is(svc.Delete(ctx, n.ID, "alice"), apperr.CodeNotFound))
	require.NoError(t, svc.Delete(ctx, n.ID, "bob"))
}
