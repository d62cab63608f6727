package classifier

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

// Snapshot is a point-in-time copy of the classifier counters.
type Snapshot struct {
	Total          int64                                `json:"total"`
	ByMethod       map[model.ClassificationMethod]int64 `json:"by_method"`
	CacheHits      int64                                `json:"cache_hits"`
	CacheEntries   int                                  `json:"cache_entries"`
	TotalCostUSD   float64                              `json:"total_cost_usd"`
	TotalLatencyMs float64                              `json:"total_latency_ms"`
	AvgLatencyMs   float64                              `json:"avg_latency_ms"`
}

type metrics struct {
	mu        sync.Mutex
	total     int64
	byMethod  map[model.ClassificationMethod]int64
	cacheHits int64
	costUSD   float64
	latencyMs float64

	promRequests  *prometheus.CounterVec
	promCacheHits prometheus.Counter
	promCost      prometheus.Counter
	promLatency   *prometheus.HistogramVec
}

// newMetrics registers Prometheus collectors on reg; a nil reg keeps the
// counters in-process only.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		byMethod: map[model.ClassificationMethod]int64{},
		promRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advisor",
			Subsystem: "classifier",
			Name:      "classifications_total",
			Help:      "Classifications by cascade stage and topicality.",
		}, []string{"method", "on_topic"}),
		promCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "advisor",
			Subsystem: "classifier",
			Name:      "cache_hits_total",
			Help:      "Classifications served from cache.",
		}),
		promCost: f.NewCounter(prometheus.CounterOpts{
			Namespace: "advisor",
			Subsystem: "classifier",
			Name:      "cost_usd_total",
			Help:      "Accumulated embedding and LLM cost of classification.",
		}),
		promLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "advisor",
			Subsystem: "classifier",
			Name:      "latency_ms",
			Help:      "Classification latency by cascade stage.",
			Buckets:   []float64{1, 5, 25, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method"}),
	}
}

func (m *metrics) observe(res model.ClassificationResult) {
	m.mu.Lock()
	m.total++
	m.byMethod[res.Method]++
	m.costUSD += res.CostUSD
	m.latencyMs += res.LatencyMs
	m.mu.Unlock()

	onTopic := "false"
	if res.IsOnTopic {
		onTopic = "true"
	}
	m.promRequests.WithLabelValues(string(res.Method), onTopic).Inc()
	m.promCost.Add(res.CostUSD)
	m.promLatency.WithLabelValues(string(res.Method)).Observe(res.LatencyMs)
}

// observeHit counts a cached answer; it adds no cost or latency.
func (m *metrics) observeHit() {
	m.mu.Lock()
	m.total++
	m.cacheHits++
	m.mu.Unlock()
	m.promCacheHits.Inc()
}

func (m *metrics) snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Total:          m.total,
		ByMethod:       make(map[model.ClassificationMethod]int64, len(m.byMethod)),
		CacheHits:      m.cacheHits,
		TotalCostUSD:   m.costUSD,
		TotalLatencyMs: m.latencyMs,
	}
	for k, v := range m.byMethod {
		s.ByMethod[k] = v
	}
	if computed := m.total - m.cacheHits; computed > 0 {
		s.AvgLatencyMs = m.latencyMs / float64(computed)
	}
	return s
}
