// Package metrics declares the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walkietalkie_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walkietalkie_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	WSEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walkietalkie_ws_events_total",
			Help: "Websocket events handled, by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walkietalkie_notifications_total",
			Help: "Server-to-client events emitted, by event name",
		},
		[]string{"event"},
	)

	AudioFramesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walkietalkie_audio_frames_relayed_total",
			Help: "Audio frames forwarded to at least one recipient list, by format",
		},
		[]string{"format"},
	)

	AudioFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walkietalkie_audio_frames_dropped_total",
			Help: "Audio frames dropped before fan-out, by reason",
		},
		[]string{"reason"},
	)

	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walkietalkie_online_users",
		Help: "Users with at least one live connection",
	})

	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walkietalkie_live_connections",
		Help: "Registered websocket connections",
	})

	StaleCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walkietalkie_stale_calls",
		Help: "Calls older than the configured stale threshold",
	})
)
