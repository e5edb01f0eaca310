// monitor/monitor.go
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	SquadsCreated   *prometheus.CounterVec
	QueueExpired    prometheus.Counter
	ProfilesSynced  prometheus.Counter
	StreamsInFlight prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matchmaking_requests_total",
			Help:      "Matchmaking requests by handler and result",
		}, []string{"handler", "result"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matchmaking_request_seconds",
			Help:      "Matchmaking request latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"handler"}),
		SquadsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "squads_created_total",
			Help:      "Squads created by match type",
		}, []string{"match_type"}),
		QueueExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_queue_expired_total",
			Help:      "Waiting queue entries expired by the sweeper",
		}),
		ProfilesSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_synced_total",
			Help:      "Profiles upserted by sync workers",
		}),
		StreamsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_streams_in_flight",
			Help:      "Open server-sent event streams",
		}),
	}

	m.registry.MustRegister(
		m.Requests,
		m.RequestLatency,
		m.SquadsCreated,
		m.QueueExpired,
		m.ProfilesSynced,
		m.StreamsInFlight,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(handler, result string, started time.Time) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, result).Inc()
	m.RequestLatency.WithLabelValues(handler).Observe(time.Since(started).Seconds())
}

func (m *Metrics) IncSquadsCreated(matchType string, n int) {
	if m == nil {
		return
	}
	m.SquadsCreated.WithLabelValues(matchType).Add(float64(n))
}

func (m *Metrics) AddQueueExpired(n int64) {
	if m == nil {
		return
	}
	m.QueueExpired.Add(float64(n))
}

func (m *Metrics) AddProfilesSynced(n int) {
	if m == nil {
		return
	}
	m.ProfilesSynced.Add(float64(n))
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.StreamsInFlight.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.StreamsInFlight.Dec()
}
