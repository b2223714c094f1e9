// Package metrics provides the ambient Prometheus metrics exposed alongside
// the HTTP host: active session count, action outcomes by reason code,
// action duration, and screencast subscriber count.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process's Prometheus collectors.
type Metrics struct {
	// ActiveSessions is registered as gaiabrowser_active_sessions; nothing in
	// the host sets or increments it, so it reads 0.
	ActiveSessions prometheus.Gauge

	// ActionsTotal counts executor actions by reason code.
	// Labels: kind, reason_code
	ActionsTotal *prometheus.CounterVec

	// ActionDuration measures how long Execute took, end to end.
	// Labels: kind
	ActionDuration *prometheus.HistogramVec

	// ScreencastSubscribers tracks the number of connected /ws/screencast clients.
	ScreencastSubscribers prometheus.Gauge
}

// New constructs and registers the metrics with the default registry. Call
// once at startup.
func New() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gaiabrowser_active_sessions",
			Help: "Number of currently open browser sessions.",
		}),
		ActionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gaiabrowser_actions_total",
			Help: "Total executor actions by kind and outcome reason code.",
		}, []string{"kind", "reason_code"}),
		ActionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gaiabrowser_action_duration_seconds",
			Help:    "Time spent in Executor.Execute, including retries.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45},
		}, []string{"kind"}),
		ScreencastSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gaiabrowser_screencast_subscribers",
			Help: "Number of WebSocket clients currently subscribed to /ws/screencast.",
		}),
	}
}

// ObserveAction records one completed Execute call.
func (m *Metrics) ObserveAction(kind, reasonCode string, duration time.Duration) {
	m.ActionsTotal.WithLabelValues(kind, reasonCode).Inc()
	m.ActionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
