package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	enqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskrelay",
			Name:      "operations_enqueued_total",
			Help:      "Operations accepted into the offline queue, by type.",
		},
		[]string{"type"},
	)

	processedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskrelay",
			Name:      "operations_processed_total",
			Help:      "Replay outcomes, by result (completed, failed, conflict, skipped).",
		},
		[]string{"result"},
	)

	conflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskrelay",
			Name:      "conflicts_resolved_total",
			Help:      "Version conflicts resolved, by strategy decision.",
		},
		[]string{"decision"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskrelay",
			Name:      "queue_depth",
			Help:      "Items currently held in the offline queue.",
		},
	)

	pendingChanges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskrelay",
			Name:      "pending_changes",
			Help:      "Non-terminal items awaiting replay.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskrelay",
			Name:      "http_requests_total",
			Help:      "Admin API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			enqueuedTotal,
			processedTotal,
			conflictsTotal,
			queueDepth,
			pendingChanges,
			httpRequests,
		)
	})
}

// IncEnqueued increments the enqueue counter for an operation type.
func IncEnqueued(opType string) {
	enqueuedTotal.WithLabelValues(opType).Inc()
}

// IncProcessed increments the replay outcome counter.
func IncProcessed(result string) {
	processedTotal.WithLabelValues(result).Inc()
}

// IncConflict increments the conflict decision counter.
func IncConflict(decision string) {
	conflictsTotal.WithLabelValues(decision).Inc()
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// SetPendingChanges records the current non-terminal item count.
func SetPendingChanges(n int) {
	pendingChanges.Set(float64(n))
}

// IncHTTP increments the counter for an admin endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
