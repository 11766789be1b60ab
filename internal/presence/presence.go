// Package presence tracks which users are online and throttles durable
// last-seen writes.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/cache"
)

const (
	presencePrefix = "user:presence:"
	throttlePrefix = "user:last_seen_update:"

	// cacheTimeout bounds each cache call made on a request path.
	cacheTimeout = 500 * time.Millisecond
	writeTimeout = 5 * time.Second
)

// LastSeenWriter persists the durable last_seen_at stamp.
type LastSeenWriter interface {
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
}

type Tracker struct {
	cache    cache.Cache
	profiles LastSeenWriter
	ttl      time.Duration
	throttle time.Duration
	log      *zap.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

func NewTracker(c cache.Cache, profiles LastSeenWriter, ttl, throttle time.Duration, log *zap.Logger) *Tracker {
	return &Tracker{
		cache:    c,
		profiles: profiles,
		ttl:      ttl,
		throttle: throttle,
		log:      log,
		now:      time.Now,
	}
}

// Touch marks userID online and, at most once per throttle window, records
// last_seen_at in the background. It is best-effort: failures are logged and
// never returned.
func (t *Tracker) Touch(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheTimeout)
	defer cancel()

	if err := t.cache.Set(ctx, presencePrefix+userID, "online", t.ttl); err != nil {
		t.log.Debug("presence touch failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	claimed, err := t.cache.SetNX(ctx, throttlePrefix+userID, "1", t.throttle)
	if err != nil {
		t.log.Debug("last seen throttle failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	at := t.now()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := t.profiles.TouchLastSeen(ctx, userID, at); err != nil {
			t.log.Debug("last seen write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}()
}

// IsOnline reports whether userID has touched within the TTL. Cache errors
// read as offline.
func (t *Tracker) IsOnline(ctx context.Context, userID string) bool {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	ok, err := t.cache.Exists(ctx, presencePrefix+userID)
	if err != nil {
		t.log.Debug("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return ok
}

// Wait blocks until background last-seen writes have finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
