// Package metrics exposes Prometheus collectors for the HTTP API and the
// calculation pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-clinical/riskcalc/internal/expr"
)

const namespace = "riskcalc"

// Calculation results recorded by ObserveCalculation.
const (
	ResultSuccess       = "success"
	ResultInvalidInput  = "invalid_input"
	ResultMissingValues = "missing_values"
	ResultError         = "error"
)

// Metrics holds the collectors registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	calculations        *prometheus.CounterVec
	calculationDuration *prometheus.HistogramVec
	probability         *prometheus.HistogramVec
	signatures          *prometheus.CounterVec
	catalogReloads      *prometheus.CounterVec
	quotaRejections     prometheus.Counter
}

// New creates the collectors and registers them, together with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calculations_total",
			Help:      "Calculations by specialty and result.",
		}, []string{"specialty", "result"}),
		calculationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calculation_duration_seconds",
			Help:      "Time to evaluate every model of a specialty.",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"specialty"}),
		probability: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_probability",
			Help:      "Distribution of calculated probabilities by model.",
			Buckets:   prometheus.LinearBuckets(0.05, 0.1, 10),
		}, []string{"model"}),
		signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signed_results_total",
			Help:      "Results signed into a patient record, by specialty.",
		}, []string{"specialty"}),
		catalogReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_reloads_total",
			Help:      "Catalog reloads by result.",
		}, []string{"result"}),
		quotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rejected_requests_total",
			Help:      "Requests rejected by the rate limiter or client quota.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.calculations,
		m.calculationDuration,
		m.probability,
		m.signatures,
		m.catalogReloads,
		m.quotaRejections,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "compiled_expressions",
			Help:      "Compiled expression programs held in the shared cache.",
		}, func() float64 {
			return float64(expr.Shared().CachedPrograms())
		}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveCalculation records a finished calculation attempt.
func (m *Metrics) ObserveCalculation(specialty, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.calculations.WithLabelValues(specialty, result).Inc()
	if result == ResultSuccess {
		m.calculationDuration.WithLabelValues(specialty).Observe(d.Seconds())
	}
}

// ObserveProbability records a model's calculated probability.
func (m *Metrics) ObserveProbability(model string, p float64) {
	if m == nil {
		return
	}
	m.probability.WithLabelValues(model).Observe(p)
}

// ObserveSignature records a signed result.
func (m *Metrics) ObserveSignature(specialty string) {
	if m == nil {
		return
	}
	m.signatures.WithLabelValues(specialty).Inc()
}

// ObserveCatalogReload records a catalog reload attempt.
func (m *Metrics) ObserveCatalogReload(err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.catalogReloads.WithLabelValues(result).Inc()
}

// ObserveRejection records a request rejected by rate limiting or quota.
func (m *Metrics) ObserveRejection() {
	if m == nil {
		return
	}
	m.quotaRejections.Inc()
}
