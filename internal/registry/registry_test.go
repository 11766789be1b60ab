package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/karu/internal/metrics"
)

type fakeHandle struct {
	id     string
	mu     sync.Mutex
	got    [][]byte
	closed bool
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(p []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.got = append(h.got, p)
	return true
}

func (h *fakeHandle) received() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

func TestFanoutReachesEveryDevice(t *testing.T) {
	m := metrics.NewNop()
	r := New(m)
	phone := &fakeHandle{id: "phone"}
	laptop := &fakeHandle{id: "laptop"}
	other := &fakeHandle{id: "other"}

	r.Register("alice", phone)
	r.Register("alice", laptop)
	r.Register("bob", other)

	assert.Equal(t, 2, r.Fanout("alice", []byte("hi")))
	assert.Equal(t, 1, phone.received())
	assert.Equal(t, 1, laptop.received())
	assert.Zero(t, other.received())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Connections))

	r.Unregister("alice", phone)
	assert.Equal(t, 1, r.Connections("alice"))
	assert.Equal(t, 1, r.Fanout("alice", []byte("again")))

	r.Unregister("alice", laptop)
	r.Unregister("alice", laptop)
	assert.Zero(t, r.Connections("alice"))
	assert.Zero(t, r.Fanout("alice", []byte("gone")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections))
}

func TestFanoutCountsDrops(t *testing.T) {
	m := metrics.NewNop()
	r := New(m)
	h := &fakeHandle{id: "x", closed: true}
	r.Register("alice", h)

	assert.Zero(t, r.Fanout("alice", []byte("hi")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped))
}

func TestPushEnvelope(t *testing.T) {
	r := New(metrics.NewNop())
	h := &fakeHandle{id: "x"}
	r.Register("alice", h)

	n, err := Push(r, "alice", "typing", map[string]string{"from": "bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var f struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(h.got[0], &f))
	assert.Equal(t, "typing", f.Type)
	assert.Equal(t, "bob", f.Data["from"])
}

func TestConcurrentUsers(t *testing.T) {
	m := metrics.NewNop()
	r := New(m)
	const users, devices = 64, 4

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", u)
			handles := make([]*fakeHandle, devices)
			for d := range handles {
				handles[d] = &fakeHandle{id: fmt.Sprintf("%s-%d", user, d)}
				r.Register(user, handles[d])
			}
			for i := 0; i < 20; i++ {
				r.Fanout(user, []byte("ping"))
			}
			for _, h := range handles {
				assert.Equal(t, 20, h.received())
				r.Unregister(user, h)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 0.0, testutil.ToFloat64(m.Connections))
}
