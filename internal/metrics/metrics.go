// Package metrics exports agent runtime metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns the registry and the runtime instruments.
type Exporter struct {
	registry *prometheus.Registry

	watchedDiscussions prometheus.Gauge
	activeResponses    prometheus.Gauge
	queueDepth         prometheus.Gauge

	invocations  *prometheus.CounterVec
	invokeTime   *prometheus.HistogramVec
	responses    *prometheus.CounterVec
	retries      prometheus.Counter
	evictions    prometheus.Counter
	circuitOpens prometheus.Counter
	appendErrors prometheus.Counter
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for the invocation latency histogram (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns the default exporter configuration. Invocations
// run external CLIs, so the buckets reach into the minutes.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 180, 300},
	}
}

// NewExporter creates an exporter and registers all instruments.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.watchedDiscussions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "discussion",
		Subsystem: "agent",
		Name:      "watched_discussions",
		Help:      "Number of discussions currently under a watcher timer",
	})
	e.activeResponses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "discussion",
		Subsystem: "agent",
		Name:      "active_responses",
		Help:      "In-flight response attempts",
	})
	e.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "discussion",
		Subsystem: "agent",
		Name:      "queue_depth",
		Help:      "Pending response attempts waiting for a slot",
	})

	e.invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discussion",
		Subsystem: "invoker",
		Name:      "invocations_total",
		Help:      "Child-process invocations by outcome",
	}, []string{"agent", "status"})

	e.invokeTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "discussion",
		Subsystem: "invoker",
		Name:      "duration_seconds",
		Help:      "Child-process invocation latency in seconds",
		Buckets:   cfg.LatencyBuckets,
	}, []string{"agent"})

	e.responses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discussion",
		Subsystem: "agent",
		Name:      "responses_total",
		Help:      "Appended responses by opinion",
	}, []string{"agent", "opinion"})

	e.retries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discussion",
		Subsystem: "agent",
		Name:      "retries_total",
		Help:      "Timeout retries scheduled",
	})
	e.evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discussion",
		Subsystem: "agent",
		Name:      "queue_evictions_total",
		Help:      "Pending items dropped because the queue was full",
	})
	e.circuitOpens = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discussion",
		Subsystem: "agent",
		Name:      "circuit_opens_total",
		Help:      "Local circuit breaker activations",
	})
	e.appendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discussion",
		Subsystem: "log",
		Name:      "append_errors_total",
		Help:      "Failed log appends (lock timeouts included)",
	})

	registry.MustRegister(
		e.watchedDiscussions,
		e.activeResponses,
		e.queueDepth,
		e.invocations,
		e.invokeTime,
		e.responses,
		e.retries,
		e.evictions,
		e.circuitOpens,
		e.appendErrors,
	)
	return e
}

// SetWatchedDiscussions sets the watcher-timer gauge.
func (e *Exporter) SetWatchedDiscussions(n int) { e.watchedDiscussions.Set(float64(n)) }

// SetActiveResponses sets the in-flight response gauge.
func (e *Exporter) SetActiveResponses(n int) { e.activeResponses.Set(float64(n)) }

// SetQueueDepth sets the pending-queue gauge.
func (e *Exporter) SetQueueDepth(n int) { e.queueDepth.Set(float64(n)) }

// RecordInvocation records one child-process run and its latency.
func (e *Exporter) RecordInvocation(agent, status string, d time.Duration) {
	e.invocations.WithLabelValues(agent, status).Inc()
	e.invokeTime.WithLabelValues(agent).Observe(d.Seconds())
}

// RecordResponse records an appended response by opinion.
func (e *Exporter) RecordResponse(agent, opinion string) {
	e.responses.WithLabelValues(agent, opinion).Inc()
}

// RecordRetry counts a scheduled timeout retry.
func (e *Exporter) RecordRetry() { e.retries.Inc() }

// RecordEviction counts a FIFO queue eviction.
func (e *Exporter) RecordEviction() { e.evictions.Inc() }

// RecordCircuitOpen counts a circuit-breaker activation.
func (e *Exporter) RecordCircuitOpen() { e.circuitOpens.Inc() }

// RecordAppendError counts a failed log append.
func (e *Exporter) RecordAppendError() { e.appendErrors.Inc() }

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }
