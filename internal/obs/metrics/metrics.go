/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Build information
	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drsctl_build_info",
			Help: "Build information for drsctl",
		},
		[]string{"version", "git_sha", "go_version"},
	)

	reconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drsctl_reconcile_total",
			Help: "Total number of rule reconciliations by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	reconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drsctl_reconcile_duration_seconds",
			Help:    "Duration of rule reconciliations by action",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"action"},
	)

	ruleOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drsctl_rule_operations_total",
			Help: "Total number of cluster reconfigurations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drsctl_task_duration_seconds",
			Help:    "Time spent waiting for reconfiguration tasks by operation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"operation"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drsctl_errors_total",
			Help: "Total number of errors by kind and phase",
		},
		[]string{"kind", "phase"},
	)

	ruleConverged = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drsctl_rule_converged",
			Help: "Whether the last reconciliation of a rule ended converged (1) or not (0)",
		},
		[]string{"cluster", "rule"},
	)

	watchPassTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drsctl_watch_last_pass_timestamp_seconds",
			Help: "Unix time of the last completed watch pass",
		},
	)

	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drsctl_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"endpoint"},
	)

	circuitBreakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drsctl_circuit_breaker_failures_total",
			Help: "Total number of failures recorded by circuit breakers",
		},
		[]string{"endpoint"},
	)
)

// Outcomes
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeNoop    = "noop"
)

// Circuit breaker states
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerHalfOpen = 1
	CircuitBreakerOpen     = 2
)

// SetupMetrics initializes metrics with build information
func SetupMetrics(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA, runtime.Version()).Set(1)
}

// RecordReconcile records a reconciliation with its outcome and duration
func RecordReconcile(action, outcome string, duration time.Duration) {
	reconcileTotal.WithLabelValues(action, outcome).Inc()
	reconcileDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordRuleOperation records one cluster reconfiguration
func RecordRuleOperation(operation, outcome string) {
	ruleOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordTask records how long a reconfiguration task took to finish
func RecordTask(operation string, duration time.Duration) {
	taskDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError records an error with its kind and phase
func RecordError(kind, phase string) {
	errorsTotal.WithLabelValues(kind, phase).Inc()
}

// SetRuleConverged publishes the convergence state of a rule
func SetRuleConverged(cluster, rule string, converged bool) {
	v := 0.0
	if converged {
		v = 1
	}
	ruleConverged.WithLabelValues(cluster, rule).Set(v)
}

// MarkWatchPass records the completion time of a watch pass
func MarkWatchPass(t time.Time) {
	watchPassTimestamp.Set(float64(t.Unix()))
}

// CircuitBreakerMetrics provides metrics for one circuit breaker
type CircuitBreakerMetrics struct {
	endpoint string
}

// NewCircuitBreakerMetrics creates metrics for a circuit breaker guarding endpoint
func NewCircuitBreakerMetrics(endpoint string) *CircuitBreakerMetrics {
	return &CircuitBreakerMetrics{endpoint: endpoint}
}

// SetState sets the circuit breaker state
func (m *CircuitBreakerMetrics) SetState(state int) {
	circuitBreakerState.WithLabelValues(m.endpoint).Set(float64(state))
}

// RecordFailure records a circuit breaker failure
func (m *CircuitBreakerMetrics) RecordFailure() {
	circuitBreakerFailures.WithLabelValues(m.endpoint).Inc()
}

// Timer is a helper for measuring operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler serves the default Prometheus registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// GetRegistry returns the registry all drsctl metrics are registered with
func GetRegistry() prometheus.Gatherer {
	return prometheus.DefaultGatherer
}
