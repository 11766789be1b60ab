// Package registry maps users to their live connection handles.
package registry

import (
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/4xmen/karu/internal/metrics"
)

// Handle is one live connection. Send must not block; it reports false when
// the handle is closed.
type Handle interface {
	ID() string
	Send(payload []byte) bool
}

type Registry interface {
	Register(userID string, h Handle)
	Unregister(userID string, h Handle)
	// Fanout delivers payload to every handle of userID and returns how many
	// accepted it. Delivery is best-effort.
	Fanout(userID string, payload []byte) int
	Connections(userID string) int
}

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	users map[string]map[string]Handle
}

// Sharded is a Registry whose users are spread over independently locked
// shards, so traffic for unrelated users never contends on one lock.
type Sharded struct {
	shards  [shardCount]shard
	metrics *metrics.Metrics
}

var _ Registry = (*Sharded)(nil)

func New(m *metrics.Metrics) *Sharded {
	r := &Sharded{metrics: m}
	for i := range r.shards {
		r.shards[i].users = make(map[string]map[string]Handle)
	}
	return r
}

func (r *Sharded) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &r.shards[h.Sum32()%shardCount]
}

func (r *Sharded) Register(userID string, h Handle) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.users[userID]
	if !ok {
		set = make(map[string]Handle)
		s.users[userID] = set
	}
	if _, dup := set[h.ID()]; !dup {
		r.metrics.Connections.Inc()
	}
	set[h.ID()] = h
}

func (r *Sharded) Unregister(userID string, h Handle) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.users[userID]
	if !ok {
		return
	}
	if _, ok := set[h.ID()]; !ok {
		return
	}
	delete(set, h.ID())
	r.metrics.Connections.Dec()
	if len(set) == 0 {
		delete(s.users, userID)
	}
}

func (r *Sharded) Fanout(userID string, payload []byte) int {
	s := r.shardFor(userID)
	s.mu.RLock()
	set := s.users[userID]
	handles := make([]Handle, 0, len(set))
	for _, h := range set {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	delivered := 0
	for _, h := range handles {
		if h.Send(payload) {
			delivered++
			r.metrics.Delivered.Inc()
		} else {
			r.metrics.Dropped.Inc()
		}
	}
	return delivered
}

func (r *Sharded) Connections(userID string) int {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID])
}

// Frame is the server-to-client envelope.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Push encodes a frame and fans it out to userID.
func Push(r Registry, userID, frameType string, data any) (int, error) {
	payload, err := json.Marshal(Frame{Type: frameType, Data: data})
	if err != nil {
		return 0, err
	}
	return r.Fanout(userID, payload), nil
}
