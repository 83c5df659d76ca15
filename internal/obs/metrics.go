// Package obs exposes Prometheus metrics for the HTTP surface and the
// admission controller.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	admissionInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "admission_in_flight",
		Help: "Requests holding or waiting for an admission permit.",
	})

	admissionRejectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_rejections_total",
			Help: "Requests rejected by the admission controller.",
		},
		[]string{"reason"},
	)

	authOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Session lifecycle operations by outcome.",
		},
		[]string{"op", "outcome"},
	)
)

// Init registers the metrics with the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		admissionInFlight, admissionRejectsTotal, authOperationsTotal,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetAdmissionInFlight records the controller's current active+queued count.
func SetAdmissionInFlight(n int64) {
	admissionInFlight.Set(float64(n))
}

// AdmissionRejected counts a rejection, reason "overloaded" or "queue_timeout".
func AdmissionRejected(reason string) {
	admissionRejectsTotal.WithLabelValues(reason).Inc()
}

// AuthOperation counts one lifecycle operation outcome.
func AuthOperation(op, outcome string) {
	authOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// Instrument wraps the handler with request count, latency, in-flight
// tracking, and a structured request log line.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration.Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpInFlight.Dec()

		LogRequest(r, sw.code, duration)
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
