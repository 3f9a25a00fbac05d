// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movies_scrape_runs_total",
			Help: "Total number of scrape runs, labeled by outcome.",
		},
		[]string{"status"},
	)

	moviesScrapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movies_scraped_total",
			Help: "Total number of movie records extracted from search results.",
		},
	)

	moviesUpsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movies_upserted_total",
			Help: "Total number of movie rows written, labeled by operation.",
		},
		[]string{"op"},
	)

	loadMoreClicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movies_load_more_clicks_total",
			Help: "Total number of load-more clicks performed while fetching.",
		},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "movies_fetch_duration_seconds",
			Help:    "Histogram of search-results fetch latencies, labeled by fetch mode.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		},
		[]string{"mode"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "movies_rate_limit_delay_seconds",
			Help:    "Histogram of time spent waiting on the per-host request limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"host"},
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
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun increments the run counter for the given outcome.
func ObserveRun(status string) {
	scrapeRunsTotal.WithLabelValues(status).Inc()
}

// ObserveScraped adds n extracted records.
func ObserveScraped(n int) {
	if n > 0 {
		moviesScrapedTotal.Add(float64(n))
	}
}

// ObserveUpsert records created and updated row counts.
func ObserveUpsert(created, updated int) {
	if created > 0 {
		moviesUpsertedTotal.WithLabelValues("created").Add(float64(created))
	}
	if updated > 0 {
		moviesUpsertedTotal.WithLabelValues("updated").Add(float64(updated))
	}
}

// ObserveFetch records fetch latency and load-more clicks.
func ObserveFetch(mode string, duration time.Duration, clicks int) {
	fetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
	if clicks > 0 {
		loadMoreClicksTotal.Add(float64(clicks))
	}
}

// ObserveRateLimitDelay records how long a request waited for its host's limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
