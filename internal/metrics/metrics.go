// Package metrics provides Prometheus metrics for vectune.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for one vectune instance.
type Registry struct {
	// Call metrics: recorded by Engine.Call, which every engine RPC method
	// except StatusCode and BatchPoolLen routes through.
	CallsTotal       *prometheus.CounterVec
	CallDuration     *prometheus.HistogramVec
	CallsInFlight    prometheus.Gauge
	CallsTrappedTotal *prometheus.CounterVec

	// Graph metrics
	GraphNodesTotal  prometheus.Gauge
	GraphSizeBytes   prometheus.Gauge
	SearchQueriesTotal prometheus.Counter
	SearchResultsTotal prometheus.Counter

	// Batch pool metrics
	BatchStepsTotal      prometheus.Counter
	BatchAppliedTotal    prometheus.Counter
	BatchExhaustedTotal  prometheus.Counter
	BatchPoolPending     prometheus.Gauge

	// Chunk loader metrics
	ChunksUploadedTotal *prometheus.CounterVec

	// Instance metrics
	InstanceUptimeSeconds prometheus.Gauge
	InstanceStartTime     time.Time
}

// NewRegistry creates and registers all Prometheus metrics.
func NewRegistry() *Registry {
	m := &Registry{
		InstanceStartTime: time.Now(),
	}

	m.CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vectune_calls_total",
			Help: "Total number of engine calls",
		},
		[]string{"call", "status"},
	)

	m.CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vectune_call_duration_seconds",
			Help:    "Duration of engine calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call"},
	)

	m.CallsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vectune_calls_in_flight",
			Help: "Number of engine calls currently executing",
		},
	)

	m.CallsTrappedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vectune_calls_trapped_total",
			Help: "Total number of engine calls that trapped and rolled back",
		},
		[]string{"call"},
	)

	m.GraphNodesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vectune_graph_nodes_total",
			Help: "Total number of allocated nodes in the graph",
		},
	)

	m.GraphSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vectune_graph_size_bytes",
			Help: "Current size of the graph segment in bytes",
		},
	)

	m.SearchQueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vectune_search_queries_total",
			Help: "Total number of search queries",
		},
	)

	m.SearchResultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vectune_search_results_total",
			Help: "Total number of search results returned",
		},
	)

	m.BatchStepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vectune_batch_steps_total",
			Help: "Total number of next_batch_step calls",
		},
	)

	m.BatchAppliedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vectune_batch_applied_total",
			Help: "Total number of mutations applied across all batch steps",
		},
	)

	m.BatchExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vectune_batch_exhausted_total",
			Help: "Total number of batch steps that ran out of budget before draining",
		},
	)

	m.BatchPoolPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vectune_batch_pool_pending",
			Help: "Current number of mutations queued in the batch pool",
		},
	)

	m.ChunksUploadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vectune_chunks_uploaded_total",
			Help: "Total number of chunk uploads, by stream",
		},
		[]string{"stream"},
	)

	m.InstanceUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vectune_instance_uptime_seconds",
			Help: "Instance uptime in seconds",
		},
	)

	go m.updateUptime()

	return m
}

func (m *Registry) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.InstanceUptimeSeconds.Set(time.Since(m.InstanceStartTime).Seconds())
	}
}

// RecordCall records one completed engine call.
func (m *Registry) RecordCall(name string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.CallsTotal.WithLabelValues(name, status).Inc()
}

// RecordTrap records one trapped (rolled back) engine call.
func (m *Registry) RecordTrap(name string) {
	m.CallsTrappedTotal.WithLabelValues(name).Inc()
}

// RecordSearch records one completed search call and its result count.
func (m *Registry) RecordSearch(numResults int) {
	m.SearchQueriesTotal.Inc()
	m.SearchResultsTotal.Add(float64(numResults))
}

// RecordBatchStep records one next_batch_step drain.
func (m *Registry) RecordBatchStep(applied, remaining int) {
	m.BatchStepsTotal.Inc()
	m.BatchAppliedTotal.Add(float64(applied))
	m.BatchPoolPending.Set(float64(remaining))
}

// RecordChunkUpload records one chunk upload for stream.
func (m *Registry) RecordChunkUpload(stream string) {
	m.ChunksUploadedTotal.WithLabelValues(stream).Inc()
}

// UpdateGraphStats updates graph size gauges.
func (m *Registry) UpdateGraphStats(sizeBytes int64, nodeCount int64) {
	m.GraphSizeBytes.Set(float64(sizeBytes))
	m.GraphNodesTotal.Set(float64(nodeCount))
}
