package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/cache"
)

type recordingWriter struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (w *recordingWriter) TouchLastSeen(_ context.Context, userID string, _ time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.calls == nil {
		w.calls = make(map[string]int)
	}
	w.calls[userID]++
	return w.err
}

func (w *recordingWriter) count(userID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[userID]
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTracker() (*Tracker, *recordingWriter, *clock) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	mem := cache.NewMemory().WithClock(clk.now)
	w := &recordingWriter{}
	tr := NewTracker(mem, w, 300*time.Second, 60*time.Second, zap.NewNop())
	tr.now = clk.now
	return tr, w, clk
}

func TestTouchMarksOnlineUntilTTL(t *testing.T) {
	tr, _, clk := newTestTracker()
	ctx := context.Background()

	assert.False(t, tr.IsOnline(ctx, "a"))
	tr.Touch(ctx, "a")
	assert.True(t, tr.IsOnline(ctx, "a"))

	clk.advance(299 * time.Second)
	assert.True(t, tr.IsOnline(ctx, "a"))
	clk.advance(time.Second)
	assert.False(t, tr.IsOnline(ctx, "a"))
	tr.Wait()
}

func TestLastSeenIsThrottled(t *testing.T) {
	tr, w, clk := newTestTracker()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		tr.Touch(ctx, "a")
		clk.advance(5 * time.Second)
	}
	tr.Wait()
	assert.Equal(t, 1, w.count("a"))

	// 50s elapsed; the next window opens at 60s.
	clk.advance(10 * time.Second)
	tr.Touch(ctx, "a")
	tr.Wait()
	assert.Equal(t, 2, w.count("a"))
}

func TestTouchSwallowsWriteErrors(t *testing.T) {
	tr, w, _ := newTestTracker()
	w.err = errors.New("db down")

	tr.Touch(context.Background(), "a")
	tr.Wait()
	assert.Equal(t, 1, w.count("a"))
	assert.True(t, tr.IsOnline(context.Background(), "a"))
}

type brokenCache struct{ cache.Cache }

func (brokenCache) Set(context.Context, string, string, time.Duration) error {
	return errors.New("unreachable")
}

func (brokenCache) Exists(context.Context, string) (bool, error) {
	return false, errors.New("unreachable")
}

func TestCacheOutageIsBestEffort(t *testing.T) {
	w := &recordingWriter{}
	tr := NewTracker(brokenCache{}, w, time.Minute, time.Minute, zap.NewNop())

	tr.Touch(context.Background(), "a")
	tr.Wait()
	assert.Zero(t, w.count("a"))
	assert.False(t, tr.IsOnline(context.Background(), "a"))
}
