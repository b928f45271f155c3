package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FeedOutcome classifies how a feed was produced.
type FeedOutcome string

const (
	// FeedOutcomeGenerated means a fresh document was rendered.
	FeedOutcomeGenerated FeedOutcome = "generated"
	// FeedOutcomeCached means the cached document was served within its TTL.
	FeedOutcomeCached FeedOutcome = "cached"
	// FeedOutcomeBackup means the persisted backup feed was recovered.
	FeedOutcomeBackup FeedOutcome = "backup"
	// FeedOutcomeError means a synthesized error feed was returned.
	FeedOutcomeError FeedOutcome = "error"
)

// Recorder publishes Prometheus metrics for serving-layer activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	feedRequests *prometheus.CounterVec
	feedLatency  *prometheus.HistogramVec

	rateLimited  *prometheus.CounterVec
	conditional  *prometheus.CounterVec
	cacheEntries prometheus.Gauge
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helparr",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed by the pipeline.",
	}, []string{"route", "method", "status_code"})

	httpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "helparr",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"route", "method"})

	feedRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helparr",
		Subsystem: "feed",
		Name:      "requests_total",
		Help:      "Feed generations grouped by production outcome.",
	}, []string{"outcome"})

	feedLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "helparr",
		Subsystem: "feed",
		Name:      "generation_duration_seconds",
		Help:      "Latency distribution for feed generation.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"outcome"})

	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helparr",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Requests rejected by the sliding-window rate limiter.",
	}, []string{"route"})

	conditional := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helparr",
		Subsystem: "cache",
		Name:      "conditional_total",
		Help:      "Conditional request evaluations by result.",
	}, []string{"result"})

	cacheEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "helparr",
		Subsystem: "feed",
		Name:      "cache_entries",
		Help:      "Current number of entries in the feed cache.",
	})

	reg.MustRegister(httpRequests, httpLatency, feedRequests, feedLatency, rateLimited, conditional, cacheEntries)

	return &Recorder{
		gatherer:     reg,
		handler:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		httpRequests: httpRequests,
		httpLatency:  httpLatency,
		feedRequests: feedRequests,
		feedLatency:  feedLatency,
		rateLimited:  rateLimited,
		conditional:  conditional,
		cacheEntries: cacheEntries,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer exposes the underlying registry for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return nil
	}
	return r.gatherer
}

// ObserveRequest records a completed HTTP request.
func (r *Recorder) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpLatency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveFeed records the outcome and latency of one feed generation call.
func (r *Recorder) ObserveFeed(outcome FeedOutcome, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.feedRequests.WithLabelValues(string(outcome)).Inc()
	r.feedLatency.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

// ObserveRateLimited counts a rejected request.
func (r *Recorder) ObserveRateLimited(route string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(route).Inc()
}

// ObserveConditional counts a conditional-request evaluation result
// ("not_modified" or "modified").
func (r *Recorder) ObserveConditional(result string) {
	if r == nil {
		return
	}
	r.conditional.WithLabelValues(result).Inc()
}

// SetCacheEntries publishes the current feed cache size.
func (r *Recorder) SetCacheEntries(n int) {
	if r == nil {
		return
	}
	r.cacheEntries.Set(float64(n))
}
