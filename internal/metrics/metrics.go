package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Session outcomes.
const (
	OutcomeAnalysed = "analysed"
	OutcomeEmpty    = "empty"
	OutcomeFailed   = "failed"
)

// Metrics holds all Prometheus metrics for analysis sessions.
type Metrics struct {
	Sessions             *prometheus.CounterVec
	UnsupportedOperators *prometheus.CounterVec
	ClampedNodes         prometheus.Counter
	PlanNodes            prometheus.Histogram
	AnalysisDuration     prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planwise_sessions_total",
		Help: "Total plans analysed, by outcome",
	}, []string{"outcome"})

	unsupported := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planwise_unsupported_operators_total",
		Help: "Operators narrated by the generic explanation",
	}, []string{"node_type"})

	clamped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planwise_sanitized_nodes_total",
		Help: "Plan nodes whose actual times were clamped to their parent",
	})

	planNodes := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "planwise_plan_nodes",
		Help:    "Number of operators per analysed plan",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "planwise_analysis_duration_seconds",
		Help:    "Time spent parsing, attributing and narrating a plan",
		Buckets: prometheus.DefBuckets,
	})

	reg.MustRegister(sessions, unsupported, clamped, planNodes, duration)

	return &Metrics{
		Sessions:             sessions,
		UnsupportedOperators: unsupported,
		ClampedNodes:         clamped,
		PlanNodes:            planNodes,
		AnalysisDuration:     duration,
	}
}
