package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus collectors for scheduler activity: runs
// in-flight, per-node duration, tool-call volume, and repetition-control
// triggers. Adapted from the teacher's PrometheusMetrics.
type Metrics struct {
	activeRuns     prometheus.Gauge
	nodeLatency    *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
	repetitionHits *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
}

// NewMetrics registers every collector with registry (prometheus.DefaultRegisterer
// when nil) under the "workflow_run_engine" namespace.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "workflow_run_engine",
			Name:      "active_runs",
			Help:      "Number of runs currently executing.",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflow_run_engine",
			Name:      "node_duration_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{50, 100, 500, 1000, 5000, 15000, 30000, 60000},
		}, []string{"node_id", "status"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_run_engine",
			Name:      "tool_calls_total",
			Help:      "Tool dispatches made by the agent decision loop.",
		}, []string{"tool", "outcome"}),
		repetitionHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_run_engine",
			Name:      "repetition_control_total",
			Help:      "Repetition-warning and circuit-breaker triggers.",
		}, []string{"kind"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_run_engine",
			Name:      "runs_total",
			Help:      "Completed runs by terminal status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Metrics) runFinished(status string) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) nodeCompleted(nodeID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeLatency.WithLabelValues(nodeID, status).Observe(float64(d.Milliseconds()))
}

// ToolCall implements agentloop.LoopMetrics, recording one tool dispatch by
// outcome ("success" or "error").
func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// RepetitionEvent implements agentloop.LoopMetrics, recording a repetition
// warning or circuit-breaker trip by kind ("repetition_warning" or
// "circuit_breaker").
func (m *Metrics) RepetitionEvent(kind string) {
	if m == nil {
		return
	}
	m.repetitionHits.WithLabelValues(kind).Inc()
}
