// Package metrics defines the Prometheus instruments exported by the daemon
// and thin helpers for updating them. Everything registers once at init; the
// daemon mounts Handler() under /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const subsystem = "gavel"

const (
	componentLabel = "component"
	circuitLabel   = "circuit"
	stateLabel     = "state"
	stageLabel     = "stage"
	outcomeLabel   = "outcome"
	causeLabel     = "cause"
	kindLabel      = "kind"
)

var healthComponentStatusMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "health_component_status",
		Help:      "per-component health level: 0 healthy, 1 degraded, 2 unhealthy",
	},
	[]string{componentLabel},
)

var healthCheckLatencyMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "health_check_latency_seconds",
		Help:      "duration of the most recent health probe per component",
	},
	[]string{componentLabel},
)

var healthAggregateMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "health_aggregate_status",
		Help:      "worst component health level: 0 healthy, 1 degraded, 2 unhealthy",
	},
)

var circuitStateMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "circuit_state",
		Help:      "circuit position per dependency: 0 closed, 1 half_open, 2 open",
	},
	[]string{circuitLabel},
)

var queueTasksMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "queue_tasks",
		Help:      "broker rows by dispatch state",
	},
	[]string{stateLabel},
)

var stageDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "stage_duration_seconds",
		Help:      "wall time per completed pipeline stage",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
	},
	[]string{stageLabel},
)

var tasksTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "pipeline_tasks_total",
		Help:      "tasks reaching a terminal status, by outcome",
	},
	[]string{outcomeLabel},
)

var requeuesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "task_requeues_total",
		Help:      "tasks released back to the queue with delay, by cause",
	},
	[]string{causeLabel},
)

var retentionTasksRemovedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "retention_tasks_removed_total",
		Help:      "terminal task records removed by retention sweeps",
	},
	[]string{kindLabel},
)

var retentionFilesRemovedMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "retention_files_removed_total",
		Help:      "workdir artifacts removed by retention sweeps",
	},
)

var retentionErrorsMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "retention_errors_total",
		Help:      "per-task failures encountered during retention sweeps",
	},
)

// SetComponentHealth records a component's health level.
func SetComponentHealth(component string, level int) {
	healthComponentStatusMetric.With(prometheus.Labels{componentLabel: component}).Set(float64(level))
}

// ObserveHealthLatency records how long a component's probe took.
func ObserveHealthLatency(component string, seconds float64) {
	healthCheckLatencyMetric.With(prometheus.Labels{componentLabel: component}).Set(seconds)
}

// SetAggregateHealth records the worst component level.
func SetAggregateHealth(level int) {
	healthAggregateMetric.Set(float64(level))
}

// SetCircuitState records a breaker's position.
func SetCircuitState(circuit string, level int) {
	circuitStateMetric.With(prometheus.Labels{circuitLabel: circuit}).Set(float64(level))
}

// SetQueueTasks records the broker row count for one dispatch state.
func SetQueueTasks(state string, count int) {
	queueTasksMetric.With(prometheus.Labels{stateLabel: state}).Set(float64(count))
}

// ObserveStageDuration records the wall time of a completed stage.
func ObserveStageDuration(stage string, seconds float64) {
	stageDurationMetric.With(prometheus.Labels{stageLabel: stage}).Observe(seconds)
}

// IncTaskOutcome counts a task reaching a terminal status.
func IncTaskOutcome(outcome string) {
	tasksTotalMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

// IncRequeue counts a delayed release back to the queue.
func IncRequeue(cause string) {
	requeuesTotalMetric.With(prometheus.Labels{causeLabel: cause}).Inc()
}

// AddRetentionTasksRemoved counts removed terminal records for a kind.
func AddRetentionTasksRemoved(kind string, count int) {
	retentionTasksRemovedMetric.With(prometheus.Labels{kindLabel: kind}).Add(float64(count))
}

// AddRetentionFilesRemoved counts removed workdir artifacts.
func AddRetentionFilesRemoved(count int) {
	retentionFilesRemovedMetric.Add(float64(count))
}

// IncRetentionError counts an isolated per-task sweep failure.
func IncRetentionError() {
	retentionErrorsMetric.Inc()
}

// Handler exposes the default registry for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(
		healthComponentStatusMetric,
		healthCheckLatencyMetric,
		healthAggregateMetric,
		circuitStateMetric,
		queueTasksMetric,
		stageDurationMetric,
		tasksTotalMetric,
		requeuesTotalMetric,
		retentionTasksRemovedMetric,
		retentionFilesRemovedMetric,
		retentionErrorsMetric,
	)
}
