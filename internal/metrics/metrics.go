package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_sessions_created_total",
			Help: "Total number of research sessions created",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "researchd_sessions_active",
			Help: "Number of research sessions currently running",
		},
	)

	SessionsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_sessions_finalized_total",
			Help: "Total number of sessions finalized, by terminal status",
		},
		[]string{"status"},
	)

	// Workflow metrics
	WorkflowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "researchd_workflow_duration_seconds",
			Help:    "End-to-end research workflow duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	WorkflowIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "researchd_workflow_iterations",
			Help:    "Revision iterations per completed workflow",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	// Stage metrics
	StageExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_stage_executions_total",
			Help: "Total number of agent stage executions",
		},
		[]string{"stage"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "researchd_stage_duration_seconds",
			Help:    "Agent stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_stage_failures_total",
			Help: "Total number of fatal stage failures",
		},
		[]string{"stage"},
	)

	// Tool gateway metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_tool_calls_total",
			Help: "Total number of tool gateway calls, by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "researchd_tool_call_duration_seconds",
			Help:    "Tool gateway call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	DegradedResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_degraded_results_total",
			Help: "Total number of tool calls that fell back to degraded content",
		},
		[]string{"provider"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "researchd_breaker_state",
			Help: "Provider circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	// Streaming metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_events_published_total",
			Help: "Total number of stream events published, by type",
		},
		[]string{"type"},
	)
)
