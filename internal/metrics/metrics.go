package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the gateway exports. Collectors are
// registered on the registry passed to New so tests can use their own.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Gateway outcomes: stage is where the request terminated
	// (auth, ratelimit, tiergate, handler), code is the error kind or "ok".
	Decisions *prometheus.CounterVec

	StoreErrors       *prometheus.CounterVec
	SweptRecords      prometheus.Counter
	BreakerState      *prometheus.GaugeVec
	RequestLogDropped prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "The total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "The latency of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_decisions_total",
			Help: "Gateway pipeline outcomes by terminating stage, code and tier",
		}, []string{"stage", "code", "tier"}),

		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ratelimit_store_errors_total",
			Help: "Rate limit store failures",
		}, []string{"op"}),

		SweptRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ratelimit_swept_records_total",
			Help: "Stale rate limit records removed by the sweeper",
		}),

		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"name"}),

		RequestLogDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_request_log_dropped_total",
			Help: "Request log entries dropped because the buffer was full",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
