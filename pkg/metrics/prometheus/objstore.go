package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/docket-io/docket/pkg/metrics"
	"github.com/docket-io/docket/pkg/objstore"
)

// objstoreMetrics is the Prometheus implementation of objstore.Metrics.
type objstoreMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
}

// NewObjstoreMetrics creates a Prometheus-backed objstore.Metrics.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewObjstoreMetrics() objstore.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &objstoreMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_objstore_operations_total",
				Help: "Total number of object storage operations by backend, operation, and outcome",
			},
			[]string{"backend", "operation", "outcome"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "docket_objstore_operation_duration_milliseconds",
				Help: "Duration of object storage operations in milliseconds",
				Buckets: []float64{
					1,     // 1ms - local filesystem
					10,    // 10ms
					50,    // 50ms - remote metadata operations
					100,   // 100ms
					500,   // 500ms - small payloads
					1000,  // 1s
					5000,  // 5s - large payloads
					30000, // 30s
				},
			},
			[]string{"backend", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_objstore_bytes_transferred_total",
				Help: "Total payload bytes moved through object storage",
			},
			[]string{"backend", "direction"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_objstore_retries_total",
				Help: "Total retries of transient object storage failures",
			},
			[]string{"backend", "operation"},
		),
	}
}

func (m *objstoreMetrics) ObserveOperation(backend, op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}

	m.operationsTotal.WithLabelValues(backend, op, outcome).Inc()
	m.operationDuration.WithLabelValues(backend, op).Observe(duration.Seconds() * 1000)
}

func (m *objstoreMetrics) RecordBytes(backend, direction string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(backend, direction).Add(float64(bytes))
}

func (m *objstoreMetrics) RecordRetry(backend, op string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(backend, op).Inc()
}
