// Package metrics exposes Prometheus collectors for the snapshot service.
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
	snapshotsTotal             *prometheus.CounterVec
	snapshotDurationSeconds    *prometheus.HistogramVec
	robotsFetchesTotal         *prometheus.CounterVec
	robotsDecisionsTotal       *prometheus.CounterVec
	siteOutcomesTotal          *prometheus.CounterVec
	siteSuppressionsTotal      prometheus.Counter
	snapshotCacheTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crabo_snapshots_total",
				Help: "Snapshot requests, labeled by source and result kind.",
			},
			[]string{"source", "result"},
		)

		snapshotDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crabo_snapshot_duration_seconds",
				Help:    "Histogram of pipeline latencies, labeled by result kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"result"},
		)

		robotsFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crabo_robots_fetches_total",
				Help: "robots.txt fetches, labeled by result.",
			},
			[]string{"result"},
		)

		robotsDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crabo_robots_decisions_total",
				Help: "robots.txt evaluations, labeled by decision.",
			},
			[]string{"decision"},
		)

		siteOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crabo_site_outcomes_total",
				Help: "Outcomes recorded against the site health tracker.",
			},
			[]string{"outcome"},
		)

		siteSuppressionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crabo_site_suppressions_total",
				Help: "Times a host was suppressed after repeated connection errors.",
			},
		)

		snapshotCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crabo_snapshot_cache_total",
				Help: "Snapshot cache lookups, labeled by result.",
			},
			[]string{"result"},
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crabo_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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
	Init()
	return promhttp.Handler()
}

// ObserveSnapshot records one finished pipeline run.
func ObserveSnapshot(source, result string, duration time.Duration) {
	Init()
	if source == "" {
		source = "none"
	}
	snapshotsTotal.WithLabelValues(source, result).Inc()
	snapshotDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveRobotsFetch counts a robots.txt fetch by result.
func ObserveRobotsFetch(result string) {
	Init()
	robotsFetchesTotal.WithLabelValues(result).Inc()
}

// ObserveRobotsDecision counts a robots.txt evaluation.
func ObserveRobotsDecision(decision string) {
	Init()
	robotsDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveSiteOutcome counts an outcome recorded for site health.
func ObserveSiteOutcome(outcome string) {
	Init()
	siteOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSuppression counts a host entering suppression.
func ObserveSuppression() {
	Init()
	siteSuppressionsTotal.Inc()
}

// ObserveCacheLookup counts a snapshot cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	snapshotCacheTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
