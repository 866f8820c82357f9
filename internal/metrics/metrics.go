package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	RoomsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobchat_rooms_created_total",
			Help: "Rooms created on first contact",
		},
		[]string{"kind"}, // "group" or "private"
	)

	RoomCreateConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_room_create_conflicts_total",
			Help: "Room creations that lost a race and fell back to lookup",
		},
	)

	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobchat_messages_total",
			Help: "Messages persisted",
		},
		[]string{"kind"},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobchat_ws_connections_active",
			Help: "Websocket connections currently subscribed to a room",
		},
	)

	Rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobchat_ws_rejections_total",
			Help: "Websocket connections refused during the handshake",
		},
		[]string{"reason"},
	)

	SlowConsumersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_ws_slow_consumers_dropped_total",
			Help: "Connections dropped because their send buffer was full",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobchat_notifications_total",
			Help: "Notifications created",
		},
		[]string{"kind"},
	)
)
