package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyberlens/cyber-lens/internal/engine"
)

// Metrics holds the lookup service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	Lookups          *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// New registers the collectors plus Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ProviderRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyberlens_provider_requests_total",
				Help: "Provider calls by settlement status",
			},
			[]string{"provider", "status"},
		),
		ProviderLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cyberlens_provider_latency_seconds",
				Help:    "Wall-clock time from dispatch to settlement per provider",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
			},
			[]string{"provider"},
		),
		Lookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyberlens_lookups_total",
				Help: "Completed lookups by final verdict",
			},
			[]string{"verdict"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyberlens_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}
}

// ObserveProvider records one engine settlement. It matches engine.Options.Observer.
func (m *Metrics) ObserveProvider(r engine.Result) {
	m.ProviderRequests.WithLabelValues(r.Provider, string(r.Status)).Inc()
	m.ProviderLatency.WithLabelValues(r.Provider).Observe((time.Duration(r.LatencyMs) * time.Millisecond).Seconds())
}

// ObserveLookup counts a finished lookup.
func (m *Metrics) ObserveLookup(verdict string) {
	if verdict == "" {
		verdict = "none"
	}
	m.Lookups.WithLabelValues(verdict).Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
