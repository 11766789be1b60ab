// Package signaling forwards call-setup and typing frames between peers.
package signaling

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/metrics"
	"github.com/4xmen/karu/internal/models"
	"github.com/4xmen/karu/internal/registry"
)

const (
	CallOffer    = "call-offer"
	CallAnswer   = "call-answer"
	ICECandidate = "ice-candidate"
	Typing       = "typing"
)

// IsSignal reports whether frameType is relayed peer to peer.
func IsSignal(frameType string) bool {
	switch frameType {
	case CallOffer, CallAnswer, ICECandidate, Typing:
		return true
	}
	return false
}

type Profiles interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// Relay is stateless: frames for a peer with no live handle are dropped.
type Relay struct {
	registry registry.Registry
	profiles Profiles
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewRelay(reg registry.Registry, profiles Profiles, m *metrics.Metrics, log *zap.Logger) *Relay {
	return &Relay{registry: reg, profiles: profiles, metrics: m, log: log}
}

// Forward stamps data with the sender and delivers it to data.to. It returns
// an error only for malformed frames; an offline target is not an error.
func (r *Relay) Forward(ctx context.Context, from, frameType string, data json.RawMessage) error {
	if !IsSignal(frameType) {
		return apperr.InvalidArg("unsupported frame type")
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return apperr.InvalidArg("frame data must be an object")
	}
	to, _ := fields["to"].(string)
	if !models.ValidID(to) {
		return apperr.InvalidArg("invalid target user id")
	}

	fields["from"] = from
	if frameType == CallOffer {
		if p, err := r.profiles.GetProfile(ctx, from); err == nil {
			fields["callerUsername"] = p.Username
		}
	}

	n, err := registry.Push(r.registry, to, frameType, fields)
	if err != nil {
		return apperr.Internal("failed to encode frame", err)
	}
	if n == 0 {
		r.log.Debug("signal target offline", zap.String("type", frameType), zap.String("to", to))
		return nil
	}
	r.metrics.SignalFrames.WithLabelValues(frameType).Inc()
	return nil
}
