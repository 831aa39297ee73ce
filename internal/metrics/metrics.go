// Package metrics exposes Prometheus collectors for the policy crawler.
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
	crawlSessionsTotal         *prometheus.CounterVec
	crawlPagesTotal            prometheus.Counter
	crawlDocumentsTotal        *prometheus.CounterVec
	crawlDownloadBytesTotal    prometheus.Counter
	crawlActiveSessions        prometheus.Gauge
	crawlSessionSeconds        prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers all collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		crawlSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_sessions_total",
				Help: "Total crawl sessions finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		crawlPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_pages_total",
				Help: "Total HTML pages fetched across all sessions.",
			},
		)

		crawlDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_documents_total",
				Help: "Total candidate documents processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlDownloadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_download_bytes_total",
				Help: "Total bytes of PDF content written to storage.",
			},
		)

		crawlActiveSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawl_active_sessions",
				Help: "Number of crawl sessions currently running.",
			},
		)

		crawlSessionSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawl_session_duration_seconds",
				Help:    "Histogram of end-to-end crawl session durations.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSession records a finished session's terminal status and duration.
func ObserveSession(status string, duration time.Duration) {
	Init()
	crawlSessionsTotal.WithLabelValues(status).Inc()
	crawlSessionSeconds.Observe(duration.Seconds())
}

// AddPages adds fetched page count for one seed traversal.
func AddPages(n int) {
	Init()
	if n > 0 {
		crawlPagesTotal.Add(float64(n))
	}
}

// ObserveDocument counts one processed candidate. outcome is one of
// downloaded, refreshed, duplicate, filtered, error.
func ObserveDocument(outcome string) {
	Init()
	crawlDocumentsTotal.WithLabelValues(outcome).Inc()
}

// AddDownloadBytes records PDF bytes written to storage.
func AddDownloadBytes(n int64) {
	Init()
	if n > 0 {
		crawlDownloadBytesTotal.Add(float64(n))
	}
}

// IncActiveSessions increments the running-session gauge.
func IncActiveSessions() {
	Init()
	crawlActiveSessions.Inc()
}

// DecActiveSessions decrements the running-session gauge.
func DecActiveSessions() {
	Init()
	crawlActiveSessions.Dec()
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
