package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_connections_active",
			Help: "Currently registered connections",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_connections_total",
			Help: "Total connection attempts",
		},
		[]string{"result"}, // "accepted", "auth_failed", "throttled"
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_rooms_active",
			Help: "Currently live rooms",
		},
	)

	// Delivery metrics
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_messages_total",
			Help: "Total messages accepted for delivery",
		},
		[]string{"kind"}, // "room", "private", "operation"
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_notifications_total",
			Help: "Total notifications routed",
		},
		[]string{"outcome"}, // "delivered", "queued", "dropped"
	)

	// Guard metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
		[]string{"scope"}, // "message", "connect"
	)

	LockConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_lock_conflicts_total",
			Help: "Total document lock contention failures",
		},
	)

	// Infrastructure metrics
	StoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_store_failures_total",
			Help: "Best-effort persistence calls that failed",
		},
		[]string{"op"},
	)

	HousekeeperSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_housekeeper_sweeps_total",
			Help: "Housekeeper sweeps by trigger",
		},
		[]string{"trigger"}, // "interval", "pressure"
	)
)
