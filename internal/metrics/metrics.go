// Package metrics exposes Prometheus collectors for the pipeline service.
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
	rowsTotal                 *prometheus.CounterVec
	runsTotal                 *prometheus.CounterVec
	collectionDurationSeconds *prometheus.HistogramVec
	upstreamRequestsTotal     *prometheus.CounterVec
	dedupCheckFailuresTotal   *prometheus.CounterVec
	sampleFallbacksTotal      *prometheus.CounterVec
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	activeWorkers             prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		rowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpipe_rows_total",
				Help: "Rows processed, labeled by source and disposition (loaded, deduped, sampled, failed).",
			},
			[]string{"source", "disposition"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpipe_runs_total",
				Help: "Completed collection runs, labeled by source and final status.",
			},
			[]string{"source", "status"},
		)

		collectionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpipe_collection_duration_seconds",
				Help:    "Wall time of a collection run, labeled by source.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"source"},
		)

		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpipe_upstream_requests_total",
				Help: "Requests issued to upstream dataset APIs, labeled by source and status code.",
			},
			[]string{"source", "code"},
		)

		dedupCheckFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpipe_dedup_check_failures_total",
				Help: "Duplicate-key lookups that errored and were skipped.",
			},
			[]string{"source"},
		)

		sampleFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpipe_sample_fallbacks_total",
				Help: "Runs that fell back to bundled sample rows.",
			},
			[]string{"source"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency, labeled by method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpipe_active_workers",
				Help: "Number of workers currently executing a run.",
			},
		)
	})
}

// CountRows records a row disposition for a source.
func CountRows(source, disposition string, n int) {
	if rowsTotal == nil || n <= 0 {
		return
	}
	rowsTotal.WithLabelValues(source, disposition).Add(float64(n))
}

// CountRun records a finished run.
func CountRun(source, status string) {
	if runsTotal == nil {
		return
	}
	runsTotal.WithLabelValues(source, status).Inc()
}

// ObserveCollection records the duration of a collection run.
func ObserveCollection(source string, d time.Duration) {
	if collectionDurationSeconds == nil {
		return
	}
	collectionDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// CountUpstreamRequest records one upstream API request.
func CountUpstreamRequest(source string, statusCode int) {
	if upstreamRequestsTotal == nil {
		return
	}
	upstreamRequestsTotal.WithLabelValues(source, strconv.Itoa(statusCode)).Inc()
}

// CountDedupCheckFailure records a skipped duplicate check.
func CountDedupCheckFailure(source string) {
	if dedupCheckFailuresTotal == nil {
		return
	}
	dedupCheckFailuresTotal.WithLabelValues(source).Inc()
}

// CountSampleFallback records a run that used bundled sample rows.
func CountSampleFallback(source string) {
	if sampleFallbacksTotal == nil {
		return
	}
	sampleFallbacksTotal.WithLabelValues(source).Inc()
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerFinished decrements the active worker gauge.
func WorkerFinished() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments HTTP handlers with request counters and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if httpRequestsTotal != nil {
			httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		}
		if httpRequestDuration != nil {
			httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
