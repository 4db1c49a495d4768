// Package metrics provides Prometheus instrumentation for the HTTP
// webhook listener and the escalation domain (scheduler ticks, adapter
// dispatches, acknowledgements).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics holds Prometheus metrics for HTTP requests.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestSize     *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
}

// NewHTTPMetrics creates an HTTPMetrics instance under the default
// namespace/subsystem.
func NewHTTPMetrics() *HTTPMetrics {
	return NewHTTPMetricsWithNamespace("ack_escalation", "http")
}

// NewHTTPMetricsWithNamespace creates an HTTPMetrics instance with a
// custom namespace and subsystem, registered against the default
// Prometheus registerer.
func NewHTTPMetricsWithNamespace(namespace, subsystem string) *HTTPMetrics {
	return NewHTTPMetricsWithRegisterer(prometheus.DefaultRegisterer, namespace, subsystem)
}

// NewHTTPMetricsWithRegisterer registers against reg instead of the
// global default, so tests that build more than one webhook handler in
// the same process can isolate their metrics with a fresh registry.
func NewHTTPMetricsWithRegisterer(reg prometheus.Registerer, namespace, subsystem string) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status_code"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "path", "status_code"},
		),
		requestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_size_bytes",
				Help:      "Size of HTTP requests in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		responseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "response_size_bytes",
				Help:      "Size of HTTP responses in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status_code"},
		),
		activeRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_requests",
				Help:      "Number of currently active HTTP requests",
			},
		),
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.responseSize += int64(size)
	return size, err
}

// Middleware returns an HTTP middleware that records request metrics.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.activeRequests.Inc()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		if requestSize := r.ContentLength; requestSize > 0 {
			m.requestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(requestSize))
		}

		defer func() {
			duration := time.Since(start)
			statusCode := strconv.Itoa(rw.statusCode)

			m.requestsTotal.WithLabelValues(r.Method, r.URL.Path, statusCode).Inc()
			m.requestDuration.WithLabelValues(r.Method, r.URL.Path, statusCode).Observe(duration.Seconds())
			if rw.responseSize > 0 {
				m.responseSize.WithLabelValues(r.Method, r.URL.Path, statusCode).Observe(float64(rw.responseSize))
			}
			m.activeRequests.Dec()
		}()

		next.ServeHTTP(rw, r)
	})
}

// Handler returns the Prometheus scrape handler.
func (m *HTTPMetrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Config holds configuration for metrics collection.
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
	Subsystem string `mapstructure:"subsystem"`
}

// DefaultConfig enables metrics on /metrics under the default namespace.
func DefaultConfig() Config {
	return Config{Enabled: true, Path: "/metrics", Namespace: "ack_escalation", Subsystem: "http"}
}

// SchedulerMetrics instruments the Escalation Scheduler's tick loop.
type SchedulerMetrics struct {
	ticksSkipped    prometheus.Counter
	tickDuration    prometheus.Histogram
	notifyTotal     *prometheus.CounterVec
	alertsAdvanced  prometheus.Counter
}

// NewSchedulerMetrics registers the scheduler's counters and histograms
// against the default Prometheus registerer.
func NewSchedulerMetrics() *SchedulerMetrics {
	return NewSchedulerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSchedulerMetricsWithRegisterer registers against reg instead of the
// global default, so tests that build more than one Scheduler in the
// same process can isolate their metrics with a fresh prometheus.Registry.
func NewSchedulerMetricsWithRegisterer(reg prometheus.Registerer) *SchedulerMetrics {
	factory := promauto.With(reg)
	return &SchedulerMetrics{
		ticksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ack_escalation",
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because the previous tick was still running",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ack_escalation",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Time spent dispatching one scheduler tick",
			Buckets:   prometheus.DefBuckets,
		}),
		notifyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ack_escalation",
			Subsystem: "scheduler",
			Name:      "adapter_notify_total",
			Help:      "Adapter notify attempts, by adapter and outcome",
		}, []string{"adapter", "outcome"}),
		alertsAdvanced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ack_escalation",
			Subsystem: "scheduler",
			Name:      "alerts_advanced_total",
			Help:      "Alerts whose tier was successfully advanced",
		}),
	}
}

func (m *SchedulerMetrics) TickSkipped()                   { m.ticksSkipped.Inc() }
func (m *SchedulerMetrics) TickDuration(d time.Duration)   { m.tickDuration.Observe(d.Seconds()) }
func (m *SchedulerMetrics) NotifySucceeded(adapterName string) {
	m.notifyTotal.WithLabelValues(adapterName, "success").Inc()
}
func (m *SchedulerMetrics) NotifyFailed(adapterName string) {
	m.notifyTotal.WithLabelValues(adapterName, "failure").Inc()
}
func (m *SchedulerMetrics) AlertAdvanced() { m.alertsAdvanced.Inc() }

// AckMetrics instruments the Acknowledgement Handler.
type AckMetrics struct {
	ackTotal          *prometheus.CounterVec
	retroNotifyFailed *prometheus.CounterVec
}

// NewAckMetrics registers the acknowledgement handler's counters against
// the default Prometheus registerer.
func NewAckMetrics() *AckMetrics {
	return NewAckMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewAckMetricsWithRegisterer registers against reg instead of the global
// default; see NewSchedulerMetricsWithRegisterer.
func NewAckMetricsWithRegisterer(reg prometheus.Registerer) *AckMetrics {
	factory := promauto.With(reg)
	return &AckMetrics{
		ackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ack_escalation",
			Subsystem: "ackhandler",
			Name:      "commands_total",
			Help:      "Commands processed, by kind and outcome",
		}, []string{"command", "outcome"}),
		retroNotifyFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ack_escalation",
			Subsystem: "ackhandler",
			Name:      "retro_notify_failed_total",
			Help:      "Retro-notifications that failed, by adapter",
		}, []string{"adapter"}),
	}
}

func (m *AckMetrics) Command(kind, outcome string) { m.ackTotal.WithLabelValues(kind, outcome).Inc() }
func (m *AckMetrics) RetroNotifyFailed(adapterName string) {
	m.retroNotifyFailed.WithLabelValues(adapterName).Inc()
}
