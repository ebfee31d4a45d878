package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the memory service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	SearchResults     prometheus.Histogram
	EmbeddingCache    *prometheus.CounterVec
	TouchFailures     prometheus.Counter
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hamem_operations_total",
				Help: "Total memory operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hamem_operation_duration_seconds",
				Help:    "Duration of memory operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		SearchResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hamem_search_results",
				Help:    "Number of results returned per search",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
			},
		),
		EmbeddingCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hamem_embedding_cache_total",
				Help: "Embedding cache lookups by result",
			},
			[]string{"result"},
		),
		TouchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hamem_touch_failures_total",
				Help: "Failed last_used_at updates for returned search results",
			},
		),
	}

	registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.SearchResults,
		m.EmbeddingCache,
		m.TouchFailures,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records the outcome and latency of one service operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveSearchResults(n int) {
	if m == nil {
		return
	}
	m.SearchResults.Observe(float64(n))
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.EmbeddingCache.WithLabelValues(result).Inc()
}

func (m *Metrics) TouchFailed() {
	if m == nil {
		return
	}
	m.TouchFailures.Inc()
}
