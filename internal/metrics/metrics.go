// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "edisco"

// Metrics is the server's collector set. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	streamClients    prometheus.Gauge
	streamEvents     prometheus.Counter
	streamDropped    prometheus.Counter
	relayReconnects  prometheus.Counter
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2.5, 9), // 5ms .. ~7.6s
		}, []string{"route"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Requests to Wikimedia APIs, by endpoint and result (ok, error).",
		}, []string{"endpoint", "result"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Wikimedia API latency by endpoint.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 9),
		}, []string{"endpoint"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Response cache lookups by result (hit, miss).",
		}, []string{"result"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Connected /ws/live clients.",
		}),
		streamEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Edit events relayed from EventStreams.",
		}),
		streamDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "clients_dropped_total",
			Help:      "Clients disconnected for falling behind.",
		}),
		relayReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "relay_reconnects_total",
			Help:      "Upstream EventStreams reconnects.",
		}),
	}
	m.reg.MustRegister(
		m.httpRequests, m.httpLatency,
		m.upstreamRequests, m.upstreamLatency,
		m.cacheLookups,
		m.streamClients, m.streamEvents, m.streamDropped, m.relayReconnects,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveUpstream records one Wikimedia request.
func (m *Metrics) ObserveUpstream(endpoint string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.upstreamRequests.WithLabelValues(endpoint, result).Inc()
	m.upstreamLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// CacheLookup records a hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// ClientJoined and ClientLeft track /ws/live connections.
func (m *Metrics) ClientJoined() {
	if m != nil {
		m.streamClients.Inc()
	}
}

func (m *Metrics) ClientLeft(dropped bool) {
	if m == nil {
		return
	}
	m.streamClients.Dec()
	if dropped {
		m.streamDropped.Inc()
	}
}

// EventRelayed counts one broadcast edit.
func (m *Metrics) EventRelayed() {
	if m != nil {
		m.streamEvents.Inc()
	}
}

// RelayReconnected counts one upstream reconnect.
func (m *Metrics) RelayReconnected() {
	if m != nil {
		m.relayReconnects.Inc()
	}
}
