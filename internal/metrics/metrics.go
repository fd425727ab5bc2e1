// Package metrics holds the relay's Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics is the process-wide registry. All methods are nil-safe so
// leaf packages can run without wiring in tests.
type Metrics struct {
	registry *prometheus.Registry

	Connections    prometheus.Gauge
	Frames         *prometheus.CounterVec
	EventsAccepted prometheus.Counter
	EventsRejected *prometheus.CounterVec
	Fetches        *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	Requests       *prometheus.CounterVec
	Coalesced      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quoterelay_ws_connections",
			Help: "Open WebSocket connections",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoterelay_frames_total",
			Help: "Inbound frames by verb",
		}, []string{"verb"}),
		EventsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quoterelay_events_accepted_total",
			Help: "Events accepted into the store",
		}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoterelay_events_rejected_total",
			Help: "Events rejected by reason",
		}, []string{"reason"}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoterelay_upstream_fetches_total",
			Help: "Upstream ticker fetches by source and outcome",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quoterelay_upstream_fetch_seconds",
			Help:    "Upstream fetch duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"source"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quoterelay_price_cache_hits_total",
			Help: "Price cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quoterelay_price_cache_misses_total",
			Help: "Price cache misses",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoterelay_price_requests_total",
			Help: "Price requests by terminal outcome",
		}, []string{"outcome"}),
		Coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quoterelay_fanout_coalesced_total",
			Help: "Requests that joined an in-flight upstream fan-out",
		}),
	}
	m.registry.MustRegister(
		m.Connections, m.Frames, m.EventsAccepted, m.EventsRejected,
		m.Fetches, m.FetchDuration, m.CacheHits, m.CacheMisses,
		m.Requests, m.Coalesced,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Snapshot flattens gathered counter and gauge values by metric name,
// summing across label sets. Used by the health payload and tests.
func (m *Metrics) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	families, err := m.registry.Gather()
	if err != nil {
		return out
	}
	for _, fam := range families {
		var total float64
		for _, metric := range fam.GetMetric() {
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				total += metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				total += metric.GetGauge().GetValue()
			}
		}
		out[fam.GetName()] = total
	}
	return out
}

func (m *Metrics) IncFrame(verb string) {
	if m != nil {
		m.Frames.WithLabelValues(verb).Inc()
	}
}

func (m *Metrics) IncRejected(reason string) {
	if m != nil {
		m.EventsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncFetch(source, outcome string) {
	if m != nil {
		m.Fetches.WithLabelValues(source, outcome).Inc()
	}
}

func (m *Metrics) ObserveFetch(source string, seconds float64) {
	if m != nil {
		m.FetchDuration.WithLabelValues(source).Observe(seconds)
	}
}

func (m *Metrics) IncRequest(outcome string) {
	if m != nil {
		m.Requests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncCacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) IncCacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) IncCoalesced() {
	if m != nil {
		m.Coalesced.Inc()
	}
}

func (m *Metrics) IncAccepted() {
	if m != nil {
		m.EventsAccepted.Inc()
	}
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}
