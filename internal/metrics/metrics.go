package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	ActiveConnections  prometheus.Gauge
	EventsTotal        *prometheus.CounterVec
	RelayedTotal       *prometheus.CounterVec
	DroppedTotal       *prometheus.CounterVec
	RoomsActive        prometheus.Gauge
	RoomsCreatedTotal  prometheus.Counter
	JoinRequestsTotal  prometheus.Counter
	JoinApprovalsTotal prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whisperrooms_connections_total",
			Help: "Total WebSocket connections accepted",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "whisperrooms_active_connections",
			Help: "Current live WebSocket connections",
		}),
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whisperrooms_events_total",
			Help: "Inbound events processed, by event name",
		}, []string{"event"}),
		RelayedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whisperrooms_relayed_messages_total",
			Help: "Messages relayed, by kind (direct or room)",
		}, []string{"kind"}),
		DroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whisperrooms_dropped_messages_total",
			Help: "Messages and events dropped, by reason",
		}, []string{"reason"}),
		RoomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "whisperrooms_rooms_active",
			Help: "Rooms currently open",
		}),
		RoomsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whisperrooms_rooms_created_total",
			Help: "Rooms created since start",
		}),
		JoinRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whisperrooms_join_requests_total",
			Help: "Room join requests received",
		}),
		JoinApprovalsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whisperrooms_join_approvals_total",
			Help: "Room join requests approved by an admin",
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whisperrooms_errors_total",
			Help: "Total errors, by type",
		}, []string{"type"}),
	}
}
