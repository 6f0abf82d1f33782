// Package metrics exposes Prometheus collectors for the thumbnail service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rendersTotal               *prometheus.CounterVec
	renderDurationSeconds      *prometheus.HistogramVec
	stageDurationSeconds       *prometheus.HistogramVec
	outputBytes                *prometheus.HistogramVec
	browserLaunchesTotal       *prometheus.CounterVec
	browserSessionsActive      prometheus.Gauge
	archiveFailuresTotal       *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		rendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webthumb_renders_total",
				Help: "Total number of thumbnail requests, labeled by output format and outcome category.",
			},
			[]string{"format", "outcome"},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webthumb_render_duration_seconds",
				Help:    "End-to-end thumbnail generation latency, labeled by outcome category.",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
			},
			[]string{"outcome"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webthumb_stage_duration_seconds",
				Help:    "Latency of individual pipeline stages (launch, navigate, screenshot, transform).",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"stage"},
		)

		outputBytes = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webthumb_output_bytes",
				Help:    "Size of encoded thumbnails, labeled by format.",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
			[]string{"format"},
		)

		browserLaunchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webthumb_browser_launches_total",
				Help: "Total number of browser process launches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		browserSessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webthumb_browser_sessions_active",
				Help: "Number of browser processes currently alive.",
			},
		)

		archiveFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webthumb_archive_failures_total",
				Help: "Total number of audit trail writes that failed, labeled by sink.",
			},
			[]string{"sink"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRender records one finished Generate call.
func ObserveRender(format, outcome string, duration time.Duration) {
	Init()
	rendersTotal.WithLabelValues(format, outcome).Inc()
	renderDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveStage records the latency of one pipeline stage.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveOutputBytes records the size of an encoded thumbnail.
func ObserveOutputBytes(format string, n int) {
	Init()
	outputBytes.WithLabelValues(format).Observe(float64(n))
}

// ObserveBrowserLaunch counts a launch attempt.
func ObserveBrowserLaunch(outcome string) {
	Init()
	browserLaunchesTotal.WithLabelValues(outcome).Inc()
}

// IncActiveSessions increments the live browser gauge.
func IncActiveSessions() {
	Init()
	browserSessionsActive.Inc()
}

// DecActiveSessions decrements the live browser gauge.
func DecActiveSessions() {
	Init()
	browserSessionsActive.Dec()
}

// ObserveArchiveFailure counts a failed audit write.
func ObserveArchiveFailure(sink string) {
	Init()
	archiveFailuresTotal.WithLabelValues(sink).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ArchiveFailures returns the failure counter of one sink.
func ArchiveFailures(sink string) prometheus.Counter {
	Init()
	return archiveFailuresTotal.WithLabelValues(sink)
}
