// Package observability exposes the engine's Prometheus metrics and
// OpenTelemetry tracer. Collectors are registered once on a dedicated
// registry so tests can create isolated instances.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Span names used across the engine.
const (
	SpanPlanGeneration = "bunkerplan.plan.generate"
	SpanPlanExecution  = "bunkerplan.plan.execute"
	SpanStageExecution = "bunkerplan.stage.execute"
	SpanToolInvocation = "bunkerplan.tool.invoke"
	SpanCheckpointPut  = "bunkerplan.checkpoint.put"
	SpanCheckpointGet  = "bunkerplan.checkpoint.get"
)

// Attribute keys used on spans.
const (
	AttrToolID  = "tool.id"
	AttrAgentID = "agent.id"
	AttrStageID = "stage.id"
	AttrPlanID  = "plan.id"
)

// Metrics aggregates the engine's Prometheus collectors.
type Metrics struct {
	ToolInvocations      *prometheus.CounterVec
	ToolDuration         *prometheus.HistogramVec
	AgentExecutions      *prometheus.CounterVec
	AgentDuration        *prometheus.HistogramVec
	PlansExecuted        *prometheus.CounterVec
	PlanDuration         prometheus.Histogram
	CheckpointPuts       *prometheus.CounterVec
	CheckpointSizeBytes  prometheus.Gauge
	CheckpointSaveFails  prometheus.Counter
	CompressionSavedPct  prometheus.Gauge
	ReferencesCreated    prometheus.Counter
	RateLimitedTotal     *prometheus.CounterVec
	CircuitBreakerTrips  *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bunkerplan_tool_invocations_total",
			Help: "Tool invocations by tool id and outcome.",
		}, []string{"tool_id", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bunkerplan_tool_duration_seconds",
			Help:    "Tool invocation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool_id"}),
		AgentExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bunkerplan_agent_executions_total",
			Help: "Agent executions by agent id and outcome.",
		}, []string{"agent_id", "outcome"}),
		AgentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bunkerplan_agent_duration_seconds",
			Help:    "Agent execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent_id"}),
		PlansExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bunkerplan_plans_executed_total",
			Help: "Plans executed by outcome.",
		}, []string{"outcome"}),
		PlanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bunkerplan_plan_duration_seconds",
			Help:    "End-to-end plan execution latency.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		CheckpointPuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bunkerplan_checkpoint_puts_total",
			Help: "Checkpoint writes by outcome.",
		}, []string{"outcome"}),
		CheckpointSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bunkerplan_checkpoint_size_bytes",
			Help: "Serialized size of the most recent checkpoint.",
		}),
		CheckpointSaveFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bunkerplan_checkpoint_save_failures_total",
			Help: "Checkpoint writes that exhausted all retries.",
		}),
		CompressionSavedPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bunkerplan_compression_saved_percent",
			Help: "Savings percent of the most recent state compression.",
		}),
		ReferencesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bunkerplan_references_created_total",
			Help: "Large fields externalized to the reference store.",
		}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bunkerplan_rate_limited_total",
			Help: "Tool invocations rejected by rate limits.",
		}, []string{"tool_id"}),
		CircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bunkerplan_circuit_breaker_trips_total",
			Help: "Circuit breaker transitions to open, by agent id.",
		}, []string{"agent_id"}),
	}

	reg.MustRegister(
		m.ToolInvocations, m.ToolDuration,
		m.AgentExecutions, m.AgentDuration,
		m.PlansExecuted, m.PlanDuration,
		m.CheckpointPuts, m.CheckpointSizeBytes, m.CheckpointSaveFails,
		m.CompressionSavedPct, m.ReferencesCreated,
		m.RateLimitedTotal, m.CircuitBreakerTrips,
	)
	return m
}

var (
	globalMu      sync.RWMutex
	globalMetrics *Metrics
)

// SetGlobalMetrics installs the process-wide metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics instance, or nil when
// metrics are not configured.
func GetGlobalMetrics() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// GetTracer returns a tracer for the named component.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
