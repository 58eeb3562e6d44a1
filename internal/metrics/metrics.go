package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for EventsTotal
const (
	OutcomeApplied  = "applied"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderoom_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderoom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Registry metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderoom_events_total",
			Help: "Inbound room events by type and outcome",
		},
		[]string{"event", "outcome"},
	)

	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderoom_active_rooms",
			Help: "Rooms with at least one member",
		},
	)

	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderoom_connections",
			Help: "Open client connections",
		},
	)

	DroppedSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coderoom_dropped_sends_total",
			Help: "Frames dropped because a peer's send buffer was full",
		},
	)

	RoomsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coderoom_rooms_evicted_total",
			Help: "Idle rooms removed by the sweeper",
		},
	)

	// Transport metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderoom_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"scope"}, // "event" or "connect"
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderoom_store_latency_seconds",
			Help:    "Room store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"op"},
	)
)
