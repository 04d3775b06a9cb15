package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors for the gateway. Registered once at package init via
// promauto; handlers and registries update them on the hot paths.
var (
	ConnectionsCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ironstream_connections_current",
		Help: "Number of live WebSocket connections",
	})

	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ironstream_connections_total",
		Help: "Total WebSocket connections accepted since start",
	})

	ChannelsCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ironstream_channels_current",
		Help: "Number of live channels",
	})

	MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ironstream_messages_published_total",
		Help: "Messages accepted on the webhook publish path",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ironstream_messages_sent_total",
		Help: "WebSocket text frames written to subscribers",
	})

	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ironstream_messages_dropped_total",
		Help: "Messages dropped at per-subscriber ring overflow",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ironstream_rate_limited_total",
		Help: "Upgrade attempts denied by rate limiting",
	})

	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ironstream_auth_failures_total",
		Help: "Delegated auth outcomes other than success",
	}, []string{"reason"})

	HeartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ironstream_heartbeats_sent_total",
		Help: "Heartbeat frames written to subscribers",
	})
)

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
