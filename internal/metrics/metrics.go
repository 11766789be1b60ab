package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Connections   prometheus.Gauge
	Delivered     prometheus.Counter
	Dropped       prometheus.Counter
	MessagesSent  prometheus.Counter
	Notifications *prometheus.CounterVec
	SignalFrames  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "karu_ws_active_connections",
			Help: "Live websocket handles in the connection registry",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "karu_fanout_delivered_total",
			Help: "Frames queued to a live handle",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "karu_fanout_dropped_total",
			Help: "Frames dropped because the handle was closed",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "karu_messages_sent_total",
			Help: "Messages persisted by the message engine",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "karu_notifications_total",
			Help: "Notification fan-out outcomes",
		}, []string{"outcome"}),
		SignalFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "karu_signal_frames_total",
			Help: "Signaling frames relayed, by type",
		}, []string{"type"}),
	}
	reg.MustRegister(m.Connections, m.Delivered, m.Dropped, m.MessagesSent, m.Notifications, m.SignalFrames)
	return m
}

// NewNop returns collectors registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
