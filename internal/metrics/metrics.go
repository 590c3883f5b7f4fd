// Package metrics exposes Prometheus collectors for the harvester service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	tasksTotal                 *prometheus.CounterVec
	taskDurationSeconds        *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	questionsScrapedTotal      *prometheus.CounterVec
	answersTotal               *prometheus.CounterVec
	rateLimitWaitSeconds       *prometheus.HistogramVec
	exportsTotal               *prometheus.CounterVec
	exportBytesTotal           prometheus.Counter

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Scrape jobs reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_tasks_total",
				Help: "Background tasks executed by workers, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_task_duration_seconds",
				Help:    "Background task run time, labeled by kind.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently running a task.",
			},
		)

		questionsScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_questions_scraped_total",
				Help: "Questions persisted by completed scrapes, labeled by scraper.",
			},
			[]string{"scraper"},
		)

		answersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_answers_total",
				Help: "Answer generation attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_wait_seconds",
				Help:    "Histogram of rate limiter wait durations, labeled by key.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
		)

		exportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_exports_total",
				Help: "Export requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		exportBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_export_bytes_total",
				Help: "Bytes of rendered export documents.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for a terminal status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveTask records one finished background task.
func ObserveTask(kind, outcome string, duration time.Duration) {
	Init()
	tasksTotal.WithLabelValues(kind, outcome).Inc()
	taskDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveQuestionsScraped adds n persisted questions for scraper.
func ObserveQuestionsScraped(scraper string, n int) {
	Init()
	questionsScrapedTotal.WithLabelValues(scraper).Add(float64(n))
}

// ObserveAnswer counts one generation attempt; outcome is "success" or "error".
func ObserveAnswer(outcome string) {
	Init()
	answersTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitWaitSeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveExport counts an export attempt and, on success, its size.
func ObserveExport(outcome string, size int) {
	Init()
	exportsTotal.WithLabelValues(outcome).Inc()
	if size > 0 {
		exportBytesTotal.Add(float64(size))
	}
}
