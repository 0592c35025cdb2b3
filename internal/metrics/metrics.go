// Package metrics exposes Prometheus instrumentation for reanalysis jobs,
// scoring analyzers, and version-store mutations.
//
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcome labels.
const (
	OutcomeStarted = "started"
	OutcomeDone    = "done"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeRetried = "retried"
	OutcomeResumed = "resumed"
	OutcomeDropped = "dropped"
)

// Metrics holds the reelforge collectors.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal              *prometheus.CounterVec
	jobDuration            *prometheus.HistogramVec
	jobsInFlight           prometheus.Gauge
	analyzerDuration       *prometheus.HistogramVec
	analyzerCache          *prometheus.CounterVec
	versionsCreated        *prometheus.CounterVec
	recommendationsApplied *prometheus.CounterVec
	httpRequests           *prometheus.CounterVec
	llmTokens              *prometheus.CounterVec

	collectors []prometheus.Collector
}

// New creates the collectors and registers them on registry. A nil registry
// gets a fresh one.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_reanalysis_jobs_total",
			Help: "Reanalysis job transitions by outcome",
		},
		[]string{"outcome"},
	)
	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelforge_reanalysis_job_duration_seconds",
			Help:    "Wall-clock time from job start to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
		[]string{"outcome"},
	)
	m.jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reelforge_reanalysis_jobs_in_flight",
			Help: "Reanalysis jobs currently executing in this process",
		},
	)
	m.analyzerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelforge_analyzer_duration_seconds",
			Help:    "Latency of individual scoring analyzers",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"analyzer", "status"},
	)
	m.analyzerCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_analyzer_cache_total",
			Help: "Analyzer result cache lookups",
		},
		[]string{"analyzer", "result"},
	)
	m.versionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_versions_created_total",
			Help: "Script versions created by provenance source",
		},
		[]string{"source"},
	)
	m.recommendationsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_recommendations_applied_total",
			Help: "Recommendations applied through the reconciler",
		},
		[]string{"mode"},
	)
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_http_requests_total",
			Help: "API requests by route and status code class",
		},
		[]string{"route", "code"},
	)

	m.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_llm_tokens_total",
			Help: "Tokens consumed by scoring completions",
		},
		[]string{"model", "kind"},
	)

	m.collectors = []prometheus.Collector{
		m.jobsTotal,
		m.jobDuration,
		m.jobsInFlight,
		m.analyzerDuration,
		m.analyzerCache,
		m.versionsCreated,
		m.recommendationsApplied,
		m.httpRequests,
		m.llmTokens,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.HTTPErrorOnError,
	})
}

// RecordJob counts a job transition.
func (m *Metrics) RecordJob(outcome string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveJobDuration records how long a job took to reach outcome.
func (m *Metrics) ObserveJobDuration(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// JobStarted increments the in-flight gauge.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

// JobFinished decrements the in-flight gauge.
func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
}

// ObserveAnalyzer records one analyzer call.
func (m *Metrics) ObserveAnalyzer(analyzer string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.analyzerDuration.WithLabelValues(analyzer, status).Observe(d.Seconds())
}

// RecordCacheLookup counts an analyzer cache hit or miss.
func (m *Metrics) RecordCacheLookup(analyzer string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.analyzerCache.WithLabelValues(analyzer, result).Inc()
}

// RecordVersion counts a created version.
func (m *Metrics) RecordVersion(source string) {
	if m == nil {
		return
	}
	m.versionsCreated.WithLabelValues(source).Inc()
}

// RecordApplied counts applied recommendations for mode ("one" or "all").
func (m *Metrics) RecordApplied(mode string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recommendationsApplied.WithLabelValues(mode).Add(float64(count))
}

// RecordRequest counts an API request.
func (m *Metrics) RecordRequest(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}

// RecordTokens counts prompt and completion tokens for model.
func (m *Metrics) RecordTokens(model string, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.llmTokens.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.llmTokens.WithLabelValues(model, "completion").Add(float64(completion))
	}
}
