// Package metrics exposes Prometheus collectors for the monitoring service.
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
	jobsEnqueuedTotal          *prometheus.CounterVec
	jobsProcessedTotal         *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	activeWorkers              *prometheus.GaugeVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	collectorRunsTotal         *prometheus.CounterVec
	collectorItemsTotal        *prometheus.CounterVec
	sourceFetchErrorsTotal     *prometheus.CounterVec
	articlesTotal              *prometheus.CounterVec
	mentionsTotal              *prometheus.CounterVec
	prefilterDecisionsTotal    *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	realtimeDroppedTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediawatch_jobs_enqueued_total",
				Help: "Jobs accepted by a queue, labeled by queue.",
			},
			[]string{"queue"},
		)

		jobsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediawatch_jobs_processed_total",
				Help: "Jobs handled by workers, labeled by queue and outcome.",
			},
			[]string{"queue", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediawatch_job_duration_seconds",
				Help:    "Histogram of handler durations, labeled by queue.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"queue"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mediawatch_active_workers",
				Help: "Number of workers currently processing a job.",
			},
			[]string{"queue"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediawatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"queue"},
		)

		collectorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediawatch_collector_runs_total",
				Help: "Collector executions, labeled by collector and status.",
			},
			[]string{"collector", "status"},
		)

		collectorItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediawatch_collector_items_total",
				Help: "Items produced by collectors, labeled by collector.",
			},
			[]string{"collector"},
		)

		sourceFetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediawatch_source_fetch_errors_total",
				Help: "Feed fetch failures, labeled by site and error type.",
			},
			[]string{"site", "type"},
		)

		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediawatch_articles_total",
				Help: "Ingestion outcomes, labeled by result.",
			},
			[]string{"result"},
		)

		mentionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediawatch_mentions_total",
				Help: "Mentions created, labeled by origin.",
			},
			[]string{"origin"},
		)

		prefilterDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediawatch_prefilter_decisions_total",
				Help: "Relevance gate verdicts, labeled by decision.",
			},
			[]string{"decision"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediawatch_alerts_total",
				Help: "Alerts delivered, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		realtimeDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mediawatch_realtime_dropped_total",
				Help: "Realtime events dropped because the hub buffer was full.",
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

// ObserveEnqueue counts a newly accepted job.
func ObserveEnqueue(queue string) {
	if jobsEnqueuedTotal == nil {
		return
	}
	jobsEnqueuedTotal.WithLabelValues(queue).Inc()
}

// ObserveJob records the outcome and duration of one handler run.
func ObserveJob(queue, status string, duration time.Duration) {
	if jobsProcessedTotal == nil {
		return
	}
	jobsProcessedTotal.WithLabelValues(queue, status).Inc()
	jobDurationSeconds.WithLabelValues(queue).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(queue string) {
	if activeWorkers == nil {
		return
	}
	activeWorkers.WithLabelValues(queue).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(queue string) {
	if activeWorkers == nil {
		return
	}
	activeWorkers.WithLabelValues(queue).Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(queue string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(queue).Observe(duration.Seconds())
}

// ObserveCollectorRun records one collector execution and the items it produced.
func ObserveCollectorRun(collector, status string, items int) {
	if collectorRunsTotal == nil {
		return
	}
	collectorRunsTotal.WithLabelValues(collector, status).Inc()
	if items > 0 {
		collectorItemsTotal.WithLabelValues(collector).Add(float64(items))
	}
}

// ObserveSourceError counts a failed feed fetch.
func ObserveSourceError(site, errType string) {
	if sourceFetchErrorsTotal == nil {
		return
	}
	sourceFetchErrorsTotal.WithLabelValues(SanitizeSite(site), errType).Inc()
}

// ObserveArticle counts an ingestion outcome such as "created" or "duplicate_url".
func ObserveArticle(result string) {
	if articlesTotal == nil {
		return
	}
	articlesTotal.WithLabelValues(result).Inc()
}

// ObserveMention counts a created mention.
func ObserveMention(origin string) {
	if mentionsTotal == nil {
		return
	}
	mentionsTotal.WithLabelValues(origin).Inc()
}

// ObservePrefilter counts a relevance gate verdict: "accepted", "rejected"
// or "error".
func ObservePrefilter(decision string) {
	if prefilterDecisionsTotal == nil {
		return
	}
	prefilterDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveAlert counts an alert delivery attempt.
func ObserveAlert(kind, status string) {
	if alertsTotal == nil {
		return
	}
	alertsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveRealtimeDrop counts an event dropped by the realtime hub.
func ObserveRealtimeDrop() {
	if realtimeDroppedTotal == nil {
		return
	}
	realtimeDroppedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
