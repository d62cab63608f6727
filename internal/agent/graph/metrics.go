package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

type runMetrics struct {
	queries  *prometheus.CounterVec
	attempts prometheus.Histogram
	cost     prometheus.Counter
	duration prometheus.Histogram
}

// newRunMetrics registers the per-query collectors on reg; nil skips registration.
func newRunMetrics(reg prometheus.Registerer) *runMetrics {
	f := promauto.With(reg)
	return &runMetrics{
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advisor",
			Subsystem: "graph",
			Name:      "queries_total",
			Help:      "Answered queries by final loop state.",
		}, []string{"final_state", "validated"}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "advisor",
			Subsystem: "graph",
			Name:      "synthesis_attempts",
			Help:      "Synthesis attempts per on-topic query.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		cost: f.NewCounter(prometheus.CounterOpts{
			Namespace: "advisor",
			Subsystem: "graph",
			Name:      "cost_usd_total",
			Help:      "Accumulated LLM cost across all queries.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "advisor",
			Subsystem: "graph",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *runMetrics) observe(res *model.QueryResult) {
	validated := "false"
	if res.Validated {
		validated = "true"
	}
	m.queries.WithLabelValues(string(res.FinalState), validated).Inc()
	if res.FinalState != model.StateDeclined {
		m.attempts.Observe(float64(res.Attempts))
	}
	m.cost.Add(res.TotalCostUSD)
	m.duration.Observe(res.DurationS)
}
