package client

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors the transport reports to.
// A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
}

// NewMetrics registers the transport collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quickbase_requests_total",
				Help: "Total number of QuickBase API attempts by method, path and status",
			},
			[]string{"method", "path", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quickbase_request_duration_seconds",
				Help:    "Latency of QuickBase API attempts",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quickbase_retries_total",
				Help: "Total number of retried QuickBase API attempts by reason",
			},
			[]string{"method", "path", "reason"},
		),
	}
}

// observe records one attempt. status 0 means the request never got a response.
func (m *Metrics) observe(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(method, path, label).Inc()
	m.duration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) retry(method, path, reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(method, path, reason).Inc()
}
