// Package metrics exposes pubsubd's Prometheus counters and gauges and
// the /metrics HTTP handler that serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsubd_connections_total",
		Help: "Total WebSocket connections accepted",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pubsubd_connections_active",
		Help: "Currently open WebSocket connections",
	})

	TopicsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pubsubd_topics_active",
		Help: "Currently registered topics",
	})

	SubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pubsubd_subscriptions_active",
		Help: "Currently active subscriptions, counted with multiplicity across topics",
	})

	MessagesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsubd_messages_published_total",
		Help: "Total successful publishes",
	})

	MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsubd_messages_delivered_total",
		Help: "Total event frames enqueued to subscriber dispatchers by publish fan-out (history replay not counted)",
	})

	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsubd_frames_dropped_total",
		Help: "Frames dropped from a session's dispatcher queue (drop-oldest policy)",
	}, []string{"reason"})

	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsubd_errors_total",
		Help: "Protocol and control-plane errors by code",
	}, []string{"code"})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsubd_rate_limited_total",
		Help: "Inbound frames rejected by the per-session rate limiter",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		TopicsActive,
		SubscriptionsActive,
		MessagesPublished,
		MessagesDelivered,
		FramesDropped,
		ErrorsTotal,
		RateLimited,
	)
}

// Handler returns the http.Handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
