// Package obs holds the Prometheus metrics of the server.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a registry so tests can build independent instances. All
// recording methods accept a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	ceremoniesTotal      *prometheus.CounterVec
	cloneSuspectedTotal  prometheus.Counter
	rateLimitDeniedTotal *prometheus.CounterVec
	decryptFailuresTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		ceremoniesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webauthn_ceremonies_total",
			Help: "Finished WebAuthn ceremonies by kind and result.",
		}, []string{"kind", "result"}),
		cloneSuspectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webauthn_clone_suspected_total",
			Help: "Assertions rejected because the signature counter did not increase.",
		}),
		rateLimitDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_denied_total",
			Help: "Requests denied by the rate limiter.",
		}, []string{"purpose"}),
		decryptFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "field_decrypt_failures_total",
			Help: "Encrypted fields that failed to decrypt.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.ceremoniesTotal, m.cloneSuspectedTotal, m.rateLimitDeniedTotal, m.decryptFailuresTotal,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Ceremony(kind, result string) {
	if m == nil {
		return
	}
	m.ceremoniesTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) CloneSuspected() {
	if m == nil {
		return
	}
	m.cloneSuspectedTotal.Inc()
}

func (m *Metrics) RateLimitDenied(purpose string) {
	if m == nil {
		return
	}
	m.rateLimitDeniedTotal.WithLabelValues(purpose).Inc()
}

func (m *Metrics) DecryptFailure() {
	if m == nil {
		return
	}
	m.decryptFailuresTotal.Inc()
}

// Instrument records RPS, latency and in-flight requests. It must wrap the
// ServeMux directly: the path label is the matched route pattern, which the
// mux writes into the request it receives.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(sw.code)

		m.httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
