package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/store"
)

// Runs only when KARU_TEST_MONGO_URI points at a disposable server.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("KARU_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("KARU_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbName := "karu_test_" + models.NewID()
	s, err := New(ctx, uri, dbName, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func TestMessageLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	past := now.Add(-time.Second)

	chat := &models.Chat{ID: models.NewID(), Participants: []string{"a", "b"}, LastMessageTime: now}
	require.NoError(t, s.CreateChat(ctx, chat))

	found, err := s.FindDirectChat(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, found.ID)

	live := &models.Message{ID: models.NewID(), ChatID: chat.ID, SenderID: "a", CreatedAt: now,
		Body: models.Body{Payload: &models.Poll{Question: "q", Options: []models.PollOption{{Text: "x"}, {Text: "y"}}}}}
	gone := &models.Message{ID: models.NewID(), ChatID: chat.ID, SenderID: "a", CreatedAt: now.Add(-time.Minute), ExpiresAt: &past,
		Body: models.Body{Payload: &models.Text{Content: "bye"}}}
	require.NoError(t, s.InsertMessage(ctx, live))
	require.NoError(t, s.InsertMessage(ctx, gone))

	list, err := s.ListMessages(ctx, chat.ID, now, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.KindPoll, list[0].Body.Kind())

	updated, err := s.UpdateMessage(ctx, live.ID, func(m *models.Message) (bool, error) {
		p, _ := m.Poll()
		return true, p.Vote("b", 1)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	unread, err := s.CountUnread(ctx, chat.ID, "b", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	require.NoError(t, s.DeleteMessage(ctx, live.ID))
	assert.ErrorIs(t, s.DeleteMessage(ctx, live.ID), store.ErrNotFound)
}

func TestProfileLookupIgnoresCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProfile(ctx, &models.Profile{UserID: "a", Username: "Alice"}))
	p, err := s.GetProfileByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "a", p.UserID)

	require.NoError(t, s.TouchLastSeen(ctx, "a", time.Now()))
	assert.ErrorIs(t, s.TouchLastSeen(ctx, "ghost", time.Now()), store.ErrNotFound)
}
