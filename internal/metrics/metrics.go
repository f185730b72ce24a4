// Package metrics exposes Prometheus collectors for the recall service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recallChecksTotal         *prometheus.CounterVec
	cacheLookupsTotal         *prometheus.CounterVec
	sourceFetchDurationSecs   *prometheus.HistogramVec
	newsFetchFailuresTotal    *prometheus.CounterVec
	eventsPublishedTotal      prometheus.Counter
	rateLimitDelaySeconds     *prometheus.HistogramVec
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDurationSecs   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		recallChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_checks_total",
				Help: "Total recall resolutions, labeled by maker and outcome (recall, clear, degraded).",
			},
			[]string{"maker", "outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_cache_lookups_total",
				Help: "Cache lookups, labeled by result (hit, miss, error).",
			},
			[]string{"result"},
		)

		sourceFetchDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recall_source_fetch_duration_seconds",
				Help:    "Duration of source-site fetches, labeled by host.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"host"},
		)

		newsFetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_news_fetch_failures_total",
				Help: "News index-page fetch failures, labeled by maker.",
			},
			[]string{"maker"},
		)

		eventsPublishedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "recall_events_published_total",
				Help: "Recall-found events published.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recall_rate_limit_delay_seconds",
				Help:    "Delay introduced by the per-host courtesy rate limiter.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "API request duration, labeled by method and route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// RecordCheck counts one resolution outcome.
func RecordCheck(maker, outcome string) {
	if recallChecksTotal != nil {
		recallChecksTotal.WithLabelValues(maker, outcome).Inc()
	}
}

// RecordCacheLookup counts one cache lookup result.
func RecordCacheLookup(result string) {
	if cacheLookupsTotal != nil {
		cacheLookupsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveSourceFetch records the duration of one source fetch.
func ObserveSourceFetch(host string, d time.Duration) {
	if sourceFetchDurationSecs != nil {
		sourceFetchDurationSecs.WithLabelValues(host).Observe(d.Seconds())
	}
}

// RecordNewsFailure counts one failed news index fetch.
func RecordNewsFailure(maker string) {
	if newsFetchFailuresTotal != nil {
		newsFetchFailuresTotal.WithLabelValues(maker).Inc()
	}
}

// RecordEventPublished counts one published recall-found event.
func RecordEventPublished() {
	if eventsPublishedTotal != nil {
		eventsPublishedTotal.Inc()
	}
}

// ObserveRateLimitDelay records time spent waiting on the courtesy limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	if rateLimitDelaySeconds != nil {
		rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
	}
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, statusText(code)).Inc()
	}
	if httpRequestDurationSecs != nil {
		httpRequestDurationSecs.WithLabelValues(method, route).Observe(d.Seconds())
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusText(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
