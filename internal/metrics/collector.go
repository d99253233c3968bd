// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// Collector
// =============================================================================

// Collector registers and records the coordination-layer Prometheus metrics.
// All vectors are registered at construction via promauto under a single
// namespace, so two collectors must never share one.
type Collector struct {
	// HTTP metrics for the ops API
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Task lifecycle
	tasksAssigned  *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	unknownResults prometheus.Counter

	// Voting and consensus
	voteRequests  prometheus.Counter
	votes         *prometheus.CounterVec
	consensusRuns *prometheus.CounterVec

	// Worker-side handler execution
	handlerExecutions *prometheus.CounterVec
	handlerDuration   *prometheus.HistogramVec

	// Broker traffic
	brokerPublishes  *prometheus.CounterVec
	brokerDeliveries *prometheus.CounterVec

	// Orchestrator view of the fleet
	agentsKnown prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector and registers its metric families under
// the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP metrics
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// Task metrics
	c.tasksAssigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_assigned_total",
			Help:      "Total number of tasks assigned to agents",
		},
		[]string{"task_type"},
	)

	c.tasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of task results recorded",
		},
		[]string{"status"},
	)

	c.unknownResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_results_total",
			Help:      "Total number of results dropped because no matching task was issued",
		},
	)

	// Voting metrics
	c.voteRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vote_requests_total",
			Help:      "Total number of vote rounds initiated",
		},
	)

	c.votes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Total number of ballots received",
		},
		[]string{"outcome"}, // outcome: recorded, duplicate, rejected, unknown_task
	)

	c.consensusRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_runs_total",
			Help:      "Total number of consensus resolutions",
		},
		[]string{"status"}, // status: success, tie, no_votes
	)

	// Handler metrics
	c.handlerExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_executions_total",
			Help:      "Total number of capability handler executions",
		},
		[]string{"capability", "status"},
	)

	c.handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_execution_duration_seconds",
			Help:      "Capability handler execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"capability"},
	)

	// Broker metrics
	c.brokerPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_publishes_total",
			Help:      "Total number of messages published to the broker",
		},
		[]string{"exchange"},
	)

	c.brokerDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_deliveries_total",
			Help:      "Total number of messages delivered from broker queues",
		},
		[]string{"queue"},
	)

	// Fleet metrics
	c.agentsKnown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_known",
			Help:      "Number of agents that have announced themselves",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// HTTP metrics
// =============================================================================

// RecordHTTPRequest records one ops API request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// Task metrics
// =============================================================================

// RecordTaskAssigned records a task handed to an agent.
func (c *Collector) RecordTaskAssigned(taskType string) {
	c.tasksAssigned.WithLabelValues(taskType).Inc()
}

// RecordTaskCompleted records a result applied to an issued task.
func (c *Collector) RecordTaskCompleted(status string) {
	c.tasksCompleted.WithLabelValues(status).Inc()
}

// RecordUnknownResult records a result that matched no issued task.
func (c *Collector) RecordUnknownResult() {
	c.unknownResults.Inc()
}

// =============================================================================
// Voting metrics
// =============================================================================

// RecordVoteRequest records an initiated vote round.
func (c *Collector) RecordVoteRequest() {
	c.voteRequests.Inc()
}

// RecordVote records a received ballot. Outcome is one of recorded,
// duplicate, rejected or unknown_task.
func (c *Collector) RecordVote(outcome string) {
	c.votes.WithLabelValues(outcome).Inc()
}

// RecordConsensus records a consensus resolution by its status.
func (c *Collector) RecordConsensus(status string) {
	c.consensusRuns.WithLabelValues(status).Inc()
}

// =============================================================================
// Handler metrics
// =============================================================================

// RecordHandlerExecution records one capability handler run.
func (c *Collector) RecordHandlerExecution(capability, status string, duration time.Duration) {
	c.handlerExecutions.WithLabelValues(capability, status).Inc()
	c.handlerDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// =============================================================================
// Broker metrics
// =============================================================================

// RecordPublish records a message published to an exchange.
func (c *Collector) RecordPublish(exchange string) {
	c.brokerPublishes.WithLabelValues(exchange).Inc()
}

// RecordDelivery records a message delivered from a queue.
func (c *Collector) RecordDelivery(queue string) {
	c.brokerDeliveries.WithLabelValues(queue).Inc()
}

// =============================================================================
// Fleet metrics
// =============================================================================

// SetAgentsKnown records the current size of the agent registry.
func (c *Collector) SetAgentsKnown(n int) {
	c.agentsKnown.Set(float64(n))
}

// =============================================================================
// Helpers
// =============================================================================

// statusCode buckets an HTTP status code into its class.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
