package collab

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks live collaboration traffic. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Connections     prometheus.Gauge
	Rooms           prometheus.Gauge
	Events          *prometheus.CounterVec
	FramesSent      prometheus.Counter
	FramesDropped   prometheus.Counter
	MalformedFrames prometheus.Counter
}

// NewMetrics registers the collaboration collectors with registerer. A nil
// registerer yields working but unregistered collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskboard_collab_connections",
			Help: "Current number of open collaboration connections",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskboard_collab_rooms",
			Help: "Current number of projects with at least one present user",
		}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_collab_events_total",
			Help: "Total number of client events handled, by event type",
		}, []string{"event"}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskboard_collab_frames_sent_total",
			Help: "Total number of frames enqueued for delivery",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskboard_collab_frames_dropped_total",
			Help: "Total number of frames dropped because an outbox was full",
		}),
		MalformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskboard_collab_malformed_frames_total",
			Help: "Total number of client frames rejected as malformed",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil || m.Connections == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil || m.Connections == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) SetRooms(count int) {
	if m == nil || m.Rooms == nil {
		return
	}
	m.Rooms.Set(float64(count))
}

func (m *Metrics) RecordEvent(event string) {
	if m == nil || m.Events == nil {
		return
	}
	m.Events.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordDelivery(delivered, dropped int) {
	if m == nil {
		return
	}
	if m.FramesSent != nil && delivered > 0 {
		m.FramesSent.Add(float64(delivered))
	}
	if m.FramesDropped != nil && dropped > 0 {
		m.FramesDropped.Add(float64(dropped))
	}
}

func (m *Metrics) RecordMalformed() {
	if m == nil || m.MalformedFrames == nil {
		return
	}
	m.MalformedFrames.Inc()
}
