package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every prometheus collector the engine exports. It is
// created once during bootstrap and shared process-wide.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestErrorsTotal *prometheus.CounterVec
	BreakerTransitions *prometheus.CounterVec
	RoutingDecisions   *prometheus.CounterVec
	FallbackEvents     *prometheus.CounterVec

	ProviderHealth        *prometheus.GaugeVec
	ProviderResponseTime  *prometheus.GaugeVec
	ProviderActiveConns   *prometheus.GaugeVec
	ProviderSuccessRate   *prometheus.GaugeVec
	CircuitBreakerState   *prometheus.GaugeVec

	RequestDuration *prometheus.HistogramVec
}

// New creates and registers all engine collectors
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compute_requests_total",
			Help: "Total compute requests by provider, job type and status.",
		}, []string{"provider", "type", "status"}),

		RequestErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compute_request_errors_total",
			Help: "Total compute request errors by provider, job type and error type.",
		}, []string{"provider", "type", "error_type"}),

		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compute_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"provider", "from", "to"}),

		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compute_routing_decisions_total",
			Help: "Provider selections by strategy and reason.",
		}, []string{"provider", "strategy", "reason"}),

		FallbackEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compute_fallback_events_total",
			Help: "Failover transitions between providers.",
		}, []string{"from", "to", "reason"}),

		ProviderHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "compute_provider_health",
			Help: "Provider health: 1 healthy, 0.5 degraded, 0 unhealthy.",
		}, []string{"provider"}),

		ProviderResponseTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "compute_provider_response_time_ms",
			Help: "Exponentially smoothed provider response time in milliseconds.",
		}, []string{"provider"}),

		ProviderActiveConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "compute_provider_active_connections",
			Help: "In-flight requests per provider.",
		}, []string{"provider"}),

		ProviderSuccessRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "compute_provider_success_rate",
			Help: "Rolling success rate per provider.",
		}, []string{"provider"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "compute_circuit_breaker_state",
			Help: "Breaker state: 1 closed, 0.5 half-open, 0 open.",
		}, []string{"provider"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compute_request_duration_seconds",
			Help:    "End-to-end compute request duration.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "type"}),
	}

	r.reg.MustRegister(
		r.RequestsTotal,
		r.RequestErrorsTotal,
		r.BreakerTransitions,
		r.RoutingDecisions,
		r.FallbackEvents,
		r.ProviderHealth,
		r.ProviderResponseTime,
		r.ProviderActiveConns,
		r.ProviderSuccessRate,
		r.CircuitBreakerState,
		r.RequestDuration,
	)

	return r
}

// Handler returns the HTTP handler serving the registry
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
