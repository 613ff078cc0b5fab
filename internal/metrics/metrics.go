// Package metrics exposes the process's Prometheus instruments. All methods
// are nil-receiver safe so packages can carry an optional *Metrics without
// guarding every call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	MediaRooms       prometheus.Gauge
	Producers        prometheus.Gauge
	Consumers        prometheus.Gauge
	ActiveRecordings prometheus.Gauge
	ConnectedPeers   prometheus.Gauge

	MessagesSent    prometheus.Counter
	RecordingStarts prometheus.Counter
	RecordingStops  prometheus.Counter
	RecordingFails  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MediaRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_media_rooms", Help: "Active media rooms.",
		}),
		Producers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_producers", Help: "Live producers across all rooms.",
		}),
		Consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_consumers", Help: "Live consumers across all rooms.",
		}),
		ActiveRecordings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_active_recordings", Help: "Recordings currently capturing.",
		}),
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_connected_peers", Help: "Peers attached to media rooms.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_messages_sent_total", Help: "Chat messages accepted for fan-out.",
		}),
		RecordingStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_recording_starts_total", Help: "Recordings started.",
		}),
		RecordingStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_recording_stops_total", Help: "Recordings stopped.",
		}),
		RecordingFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_recording_failures_total", Help: "Recordings that failed to start or died early.",
		}),
	}
	reg.MustRegister(
		m.MediaRooms, m.Producers, m.Consumers, m.ActiveRecordings, m.ConnectedPeers,
		m.MessagesSent, m.RecordingStarts, m.RecordingStops, m.RecordingFails,
	)
	return m
}

func (m *Metrics) RoomOpened() {
	if m != nil {
		m.MediaRooms.Inc()
	}
}

func (m *Metrics) RoomClosed() {
	if m != nil {
		m.MediaRooms.Dec()
	}
}

func (m *Metrics) PeerJoined() {
	if m != nil {
		m.ConnectedPeers.Inc()
	}
}

func (m *Metrics) PeerLeft() {
	if m != nil {
		m.ConnectedPeers.Dec()
	}
}

func (m *Metrics) ProducerAdded() {
	if m != nil {
		m.Producers.Inc()
	}
}

func (m *Metrics) ProducerClosed() {
	if m != nil {
		m.Producers.Dec()
	}
}

func (m *Metrics) ConsumerAdded() {
	if m != nil {
		m.Consumers.Inc()
	}
}

func (m *Metrics) ConsumerClosed() {
	if m != nil {
		m.Consumers.Dec()
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) RecordingStarted() {
	if m != nil {
		m.ActiveRecordings.Inc()
		m.RecordingStarts.Inc()
	}
}

func (m *Metrics) RecordingStopped() {
	if m != nil {
		m.ActiveRecordings.Dec()
		m.RecordingStops.Inc()
	}
}

func (m *Metrics) RecordingFailed() {
	if m != nil {
		m.RecordingFails.Inc()
	}
}
