package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the streaming client and
// its control API.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
	activeSessions   prometheus.Gauge
	segmentsTotal    prometheus.Counter
	segmentBytes     prometheus.Counter
	timeoutsTotal    *prometheus.CounterVec
	failuresTotal    prometheus.Counter
	rejectedTotal    prometheus.Counter
	throughput       prometheus.Gauge
	resolution       prometheus.Gauge
	downloadDuration prometheus.Histogram
}

// New creates and registers the metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_requests_total",
			Help: "Total number of control API requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_errors_total",
			Help: "Total number of control API responses with error status (4xx or 5xx)",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "abr_active_sessions",
			Help: "Number of open playback sessions",
		}),
		segmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_segments_fetched_total",
			Help: "Total number of segments downloaded",
		}),
		segmentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_segment_bytes_total",
			Help: "Total number of segment bytes downloaded",
		}),
		timeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_fetch_timeouts_total",
			Help: "Segment requests aborted by the adaptive timeout",
		}, []string{"phase"}),
		failuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_fetch_failures_total",
			Help: "Segment requests that failed with a transport error or non-200 status",
		}),
		rejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_requests_rejected_total",
			Help: "Segment requests rejected locally for a zero-length range",
		}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "abr_throughput_bytes_per_second",
			Help: "Throughput observed on the most recent segment download",
		}),
		resolution: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "abr_selected_resolution",
			Help: "Resolution of the most recently selected tier",
		}),
		downloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "abr_segment_download_seconds",
			Help:    "Time spent reading segment bodies",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.activeSessions,
		m.segmentsTotal,
		m.segmentBytes,
		m.timeoutsTotal,
		m.failuresTotal,
		m.rejectedTotal,
		m.throughput,
		m.resolution,
		m.downloadDuration,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// ObserveSegment records one completed segment download.
func (m *Metrics) ObserveSegment(bytes int, downloadSeconds, bytesPerSecond float64) {
	m.segmentsTotal.Inc()
	m.segmentBytes.Add(float64(bytes))
	m.downloadDuration.Observe(downloadSeconds)
	m.throughput.Set(bytesPerSecond)
}

// SetResolution records the currently selected tier's resolution.
func (m *Metrics) SetResolution(resolution int) {
	m.resolution.Set(float64(resolution))
}

// IncTimeouts increments the timeout counter for phase ("request" or "download").
func (m *Metrics) IncTimeouts(phase string) {
	m.timeoutsTotal.WithLabelValues(phase).Inc()
}

// IncFailures increments the failed request counter.
func (m *Metrics) IncFailures() {
	m.failuresTotal.Inc()
}

// IncRejected increments the locally rejected request counter.
func (m *Metrics) IncRejected() {
	m.rejectedTotal.Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
