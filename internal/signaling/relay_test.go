package signaling

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/metrics"
	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/registry"
	"github.com/4xmen/karu/internal/store"
)

type staticProfiles map[string]*models.Profile

func (p staticProfiles) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	if prof, ok := p[id]; ok {
		return prof, nil
	}
	return nil, store.ErrNotFound
}

type inbox struct{ frames []map[string]any }

func (i *inbox) ID() string { return "inbox" }

func (i *inbox) Send(p []byte) bool {
	var f map[string]any
	_ = json.Unmarshal(p, &f)
	i.frames = append(i.frames, f)
	return true
}

func TestForward(t *testing.T) {
	alice, bob := models.NewID(), models.NewID()
	profiles := staticProfiles{alice: {UserID: alice, Username: "alice"}}
	reg := registry.New(metrics.NewNop())
	relay := NewRelay(reg, profiles, metrics.NewNop(), zap.NewNop())

	box := &inbox{}
	reg.Register(bob, box)

	tests := []struct {
		name       string
		frameType  string
		wantCaller bool
	}{
		{"offer carries caller name", CallOffer, true},
		{"answer", CallAnswer, false},
		{"ice", ICECandidate, false},
		{"typing", Typing, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box.frames = nil
			data := json.RawMessage(`{"to":"` + bob + `","sdp":"v=0","from":"spoofed"}`)
			require.NoError(t, relay.Forward(context.Background(), alice, tt.frameType, data))

			require.Len(t, box.frames, 1)
			f := box.frames[0]
			assert.Equal(t, tt.frameType, f["type"])
			payload := f["data"].(map[string]any)
			assert.Equal(t, alice, payload["from"])
			assert.Equal(t, "v=0", payload["sdp"])
			if tt.wantCaller {
				assert.Equal(t, "alice", payload["callerUsername"])
			} else {
				assert.NotContains(t, payload, "callerUsername")
			}
		})
	}
}

func TestForwardToOfflinePeerIsDropped(t *testing.T) {
	reg := registry.New(metrics.NewNop())
	relay := NewRelay(reg, staticProfiles{}, metrics.NewNop(), zap.NewNop())

	err := relay.Forward(context.Background(), models.NewID(), CallOffer, json.RawMessage(`{"to":"`+models.NewID()+`"}`))
	assert.NoError(t, err)
}

func TestForwardRejectsMalformedFrames(t *testing.T) {
	relay := NewRelay(registry.New(metrics.NewNop()), staticProfiles{}, metrics.NewNop(), zap.NewNop())
	from := models.NewID()

	cases := map[string]struct {
		frameType string
		data      string
	}{
		"unknown type": {"hangup-now", `{"to":"` + models.NewID() + `"}`},
		"missing to":   {Typing, `{}`},
		"bad to":       {Typing, `{"to":"not-hex"}`},
		"not object":   {Typing, `[1,2]`},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			err := relay.Forward(context.Background(), from, c.frameType, json.RawMessage(c.data))
			assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument), "got %v", err)
		})
	}
}
