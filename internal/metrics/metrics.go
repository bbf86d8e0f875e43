// Package metrics exposes Prometheus instrumentation for scheduling and
// conversation turns.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the check-in engine.
type Metrics struct {
	// Scheduler
	TickRunsTotal        *prometheus.CounterVec
	SessionsCreatedTotal *prometheus.CounterVec
	SchedulingSkipsTotal *prometheus.CounterVec
	TickDuration         prometheus.Histogram

	// Turn engine
	TurnsTotal         *prometheus.CounterVec
	AgentCallDuration  *prometheus.HistogramVec
	SessionsCompleted  *prometheus.CounterVec
	ProfileMergesTotal *prometheus.CounterVec
}

// New creates and registers the engine metrics.
//
// Registration happens once per process; later calls return the same set.
//
// Metrics:
//   - dotcheck_tick_runs_total{result}
//   - dotcheck_sessions_created_total{agent,source}
//   - dotcheck_scheduling_skips_total{reason}
//   - dotcheck_tick_duration_seconds
//   - dotcheck_turns_total{agent,result}
//   - dotcheck_agent_call_duration_seconds{agent}
//   - dotcheck_sessions_completed_total{agent}
//   - dotcheck_profile_merges_total{schema,result}
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			TickRunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dotcheck_tick_runs_total",
					Help: "Total number of scheduling ticks",
				},
				[]string{"result"},
			),

			SessionsCreatedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dotcheck_sessions_created_total",
					Help: "Total number of check-in sessions created",
				},
				[]string{"agent", "source"},
			),

			SchedulingSkipsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dotcheck_scheduling_skips_total",
					Help: "Total number of employees skipped during a tick, by reason",
				},
				[]string{"reason"},
			),

			TickDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "dotcheck_tick_duration_seconds",
					Help:    "Duration of a scheduling tick in seconds",
					Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
				},
			),

			TurnsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dotcheck_turns_total",
					Help: "Total number of processed conversation turns",
				},
				[]string{"agent", "result"},
			),

			AgentCallDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dotcheck_agent_call_duration_seconds",
					Help:    "Duration of language-model calls in seconds",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
				},
				[]string{"agent"},
			),

			SessionsCompleted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dotcheck_sessions_completed_total",
					Help: "Total number of completed check-in sessions",
				},
				[]string{"agent"},
			),

			ProfileMergesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dotcheck_profile_merges_total",
					Help: "Total number of profile merges",
				},
				[]string{"schema", "result"},
			),
		}
	})

	return globalMetrics
}

// RecordTick records the outcome and duration of one tick.
func (m *Metrics) RecordTick(result string, durationSeconds float64) {
	m.TickRunsTotal.WithLabelValues(result).Inc()
	m.TickDuration.Observe(durationSeconds)
}

// RecordSessionCreated records a newly created session.
func (m *Metrics) RecordSessionCreated(agent, source string) {
	m.SessionsCreatedTotal.WithLabelValues(agent, source).Inc()
}

// RecordSkip records an employee skipped during a tick.
func (m *Metrics) RecordSkip(reason string) {
	m.SchedulingSkipsTotal.WithLabelValues(reason).Inc()
}

// RecordTurn records a processed turn.
func (m *Metrics) RecordTurn(agent, result string) {
	m.TurnsTotal.WithLabelValues(agent, result).Inc()
}

// ObserveAgentCall records the duration of a language-model call.
func (m *Metrics) ObserveAgentCall(agent string, durationSeconds float64) {
	m.AgentCallDuration.WithLabelValues(agent).Observe(durationSeconds)
}

// RecordCompletion records a completed session and its profile merge.
func (m *Metrics) RecordCompletion(agent, schema string, merged bool) {
	m.SessionsCompleted.WithLabelValues(agent).Inc()
	result := "merged"
	if !merged {
		result = "skipped"
	}
	m.ProfileMergesTotal.WithLabelValues(schema, result).Inc()
}
