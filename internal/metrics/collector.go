// Package metrics exposes insightbot's Prometheus instrumentation.
// A nil *Collector is valid and records nothing, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Model call outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
	OutcomeEmpty       = "empty"
)

// Collector holds the metric vectors. Build one per process with New.
type Collector struct {
	gatherer prometheus.Gatherer

	modelCalls      *prometheus.CounterVec
	modelDuration   *prometheus.HistogramVec
	retrySleep      prometheus.Counter
	queries         *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	filterFallbacks *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	channelMessages *prometheus.CounterVec
	startTime       time.Time
}

// New registers the insightbot metrics on reg. Pass prometheus.NewRegistry()
// in tests to keep registrations isolated.
func New(reg *prometheus.Registry) *Collector {
	f := promauto.With(reg)
	return &Collector{
		gatherer: reg,
		modelCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insightbot_model_calls_total",
				Help: "Model call attempts by backend, model and outcome",
			},
			[]string{"backend", "model", "outcome"},
		),
		modelDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insightbot_model_call_duration_seconds",
				Help:    "Duration of single model call attempts",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "model"},
		),
		retrySleep: f.NewCounter(
			prometheus.CounterOpts{
				Name: "insightbot_model_backoff_seconds_total",
				Help: "Time spent sleeping between rate-limited model attempts",
			},
		),
		queries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insightbot_queries_total",
				Help: "Routed queries by intent and answering agent",
			},
			[]string{"intent", "agent"},
		),
		queryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insightbot_query_duration_seconds",
				Help:    "End-to-end routing duration by intent",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"intent"},
		),
		filterFallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insightbot_filter_fallbacks_total",
				Help: "Model-authored table filters that degraded to the first rows",
			},
			[]string{"reason"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insightbot_http_requests_total",
				Help: "HTTP requests by path and status code",
			},
			[]string{"path", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insightbot_http_request_duration_seconds",
				Help:    "HTTP request duration by path",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		channelMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insightbot_channel_messages_total",
				Help: "Inbound chat messages by channel",
			},
			[]string{"channel"},
		),
		startTime: time.Now(),
	}
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	if c == nil {
		return 0
	}
	return time.Since(c.startTime)
}

// ObserveModelCall records one model call attempt.
func (c *Collector) ObserveModelCall(backend, model, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.modelCalls.WithLabelValues(backend, model, outcome).Inc()
	c.modelDuration.WithLabelValues(backend, model).Observe(d.Seconds())
}

// AddBackoff records time spent waiting before a retry.
func (c *Collector) AddBackoff(d time.Duration) {
	if c == nil {
		return
	}
	c.retrySleep.Add(d.Seconds())
}

func (c *Collector) ObserveQuery(intent, agent string, d time.Duration) {
	if c == nil {
		return
	}
	c.queries.WithLabelValues(intent, agent).Inc()
	c.queryDuration.WithLabelValues(intent).Observe(d.Seconds())
}

func (c *Collector) IncFilterFallback(reason string) {
	if c == nil {
		return
	}
	c.filterFallbacks.WithLabelValues(reason).Inc()
}

func (c *Collector) ObserveHTTP(path string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(path, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(path).Observe(d.Seconds())
}

func (c *Collector) IncChannelMessage(channel string) {
	if c == nil {
		return
	}
	c.channelMessages.WithLabelValues(channel).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
