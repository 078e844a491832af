// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerDispatchesTotal        *prometheus.CounterVec
	crawlerOutcomesTotal          *prometheus.CounterVec
	crawlerRetriesTotal           prometheus.Counter
	crawlerDropsTotal             *prometheus.CounterVec
	crawlerSubmissionsTotal       *prometheus.CounterVec
	crawlerInFlight               prometheus.Gauge
	crawlerPermitsInUse           prometheus.Gauge
	crawlerPacingDelaySeconds     prometheus.Histogram
	crawlerHandlerErrorsTotal     *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	crawlerBytesTotal             *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	robotsFallbackTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerDispatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_dispatches_total",
				Help: "Total number of fetch attempts dispatched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_outcomes_total",
				Help: "Total number of fetch outcomes, labeled by kind.",
			},
			[]string{"kind"},
		)

		crawlerRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Total number of jobs re-queued after a recoverable failure.",
			},
		)

		crawlerDropsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_drops_total",
				Help: "Total number of jobs dropped, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerSubmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_submissions_total",
				Help: "Total number of jobs submitted, labeled by priority.",
			},
			[]string{"priority"},
		)

		crawlerInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_in_flight_jobs",
				Help: "Number of jobs currently dispatched and not yet classified.",
			},
		)

		crawlerPermitsInUse = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_permits_in_use",
				Help: "Number of concurrency permits currently held by outstanding fetches.",
			},
		)

		crawlerPacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_pacing_delay_seconds",
				Help:    "Histogram of pacing delays applied before a dispatch.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		crawlerHandlerErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_handler_errors_total",
				Help: "Total number of handler failures, labeled by kind (error or panic).",
			},
			[]string{"kind"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_robots_fallback_total",
				Help: "Fetches that treated robots.txt as allow-all after repeated probe timeouts.",
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDispatch counts one dispatched attempt for rawURL's site.
func ObserveDispatch(rawURL string) {
	crawlerDispatchesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveOutcome counts a fetch outcome (success, failure, stop, cancelled).
func ObserveOutcome(kind string) {
	crawlerOutcomesTotal.WithLabelValues(kind).Inc()
}

// ObserveRetry counts a job re-queued for another attempt.
func ObserveRetry() {
	crawlerRetriesTotal.Inc()
}

// ObserveDrop counts a job dropped for reason.
func ObserveDrop(reason string) {
	crawlerDropsTotal.WithLabelValues(reason).Inc()
}

// ObserveSubmission counts a job submitted at priority.
func ObserveSubmission(priority string) {
	crawlerSubmissionsTotal.WithLabelValues(priority).Inc()
}

// IncInFlight increments the in-flight jobs gauge.
func IncInFlight() {
	crawlerInFlight.Inc()
}

// DecInFlight decrements the in-flight jobs gauge.
func DecInFlight() {
	crawlerInFlight.Dec()
}

// IncPermits increments the permits-in-use gauge.
func IncPermits() {
	crawlerPermitsInUse.Inc()
}

// DecPermits decrements the permits-in-use gauge.
func DecPermits() {
	crawlerPermitsInUse.Dec()
}

// ObservePacingDelay records a pacing pause.
func ObservePacingDelay(d time.Duration) {
	crawlerPacingDelaySeconds.Observe(d.Seconds())
}

// ObserveHandlerError counts a handler failure; kind is "error" or "panic".
func ObserveHandlerError(kind string) {
	crawlerHandlerErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveBytes adds fetched body bytes for rawURL's site.
func ObserveBytes(rawURL string, n int) {
	if n > 0 {
		crawlerBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts robots.txt probes answered with the allow-all fallback.
func ObserveRobotsFallback() {
	robotsFallbackTotal.Inc()
}
