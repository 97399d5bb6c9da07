// Package metrics exposes Prometheus collectors for the shoe image service.
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
	resolutionsTotal           *prometheus.CounterVec
	resolutionDurationSeconds  *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	candidatesTotal            *prometheus.CounterVec
	semanticVerdictsTotal      *prometheus.CounterVec
	retriesTotal               *prometheus.CounterVec
	sourceSearchesTotal        *prometheus.CounterVec
	imageWorkersBusy           prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoeimg_resolutions_total",
				Help: "Resolve calls by terminal outcome and winning source.",
			},
			[]string{"outcome", "source"},
		)

		resolutionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shoeimg_resolution_duration_seconds",
				Help:    "End-to-end resolve latency by outcome.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoeimg_cache_lookups_total",
				Help: "Cache lookups by result (hit or miss).",
			},
			[]string{"result"},
		)

		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoeimg_candidates_total",
				Help: "Candidate URLs processed, labeled by source and the stage outcome that ended them.",
			},
			[]string{"source", "stage"},
		)

		semanticVerdictsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoeimg_semantic_verdicts_total",
				Help: "Semantic validation verdicts by status.",
			},
			[]string{"status"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoeimg_retries_total",
				Help: "Retried attempts by pipeline stage.",
			},
			[]string{"stage"},
		)

		sourceSearchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoeimg_source_searches_total",
				Help: "Image source searches by source and result.",
			},
			[]string{"source", "result"},
		)

		imageWorkersBusy = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shoeimg_image_workers_busy",
				Help: "Image decode/encode workers currently running.",
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResolution records a terminal resolve outcome.
func ObserveResolution(outcome, source string, duration time.Duration) {
	if source == "" {
		source = "none"
	}
	resolutionsTotal.WithLabelValues(outcome, source).Inc()
	resolutionDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCandidate records how one candidate URL ended.
func ObserveCandidate(source, stage string) {
	candidatesTotal.WithLabelValues(source, stage).Inc()
}

// ObserveSemanticVerdict records a semantic verdict status.
func ObserveSemanticVerdict(status string) {
	semanticVerdictsTotal.WithLabelValues(status).Inc()
}

// ObserveRetry records one retried attempt for stage.
func ObserveRetry(stage string) {
	retriesTotal.WithLabelValues(stage).Inc()
}

// ObserveSourceSearch records one source query result (ok, empty, error).
func ObserveSourceSearch(source, result string) {
	sourceSearchesTotal.WithLabelValues(source, result).Inc()
}

// IncImageWorkers increments the busy image worker gauge.
func IncImageWorkers() {
	imageWorkersBusy.Inc()
}

// DecImageWorkers decrements the busy image worker gauge.
func DecImageWorkers() {
	imageWorkersBusy.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
