package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/docket-io/docket/pkg/ingest"
	"github.com/docket-io/docket/pkg/metrics"
)

// ingestMetrics is the Prometheus implementation of ingest.Metrics.
type ingestMetrics struct {
	submitsTotal *prometheus.CounterVec
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	retriesTotal prometheus.Counter
	queueDepth   prometheus.Gauge
	workers      prometheus.Gauge
}

// NewIngestMetrics creates a Prometheus-backed ingest.Metrics.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewIngestMetrics() ingest.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &ingestMetrics{
		submitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_ingest_submits_total",
				Help: "Upload task submissions by admission outcome",
			},
			[]string{"outcome"},
		),
		tasksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_ingest_tasks_total",
				Help: "Terminal upload tasks by outcome",
			},
			[]string{"outcome"},
		),
		taskDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "docket_ingest_task_duration_milliseconds",
				Help: "Time from task submission to terminal state in milliseconds",
				Buckets: []float64{
					10,    // 10ms - small payloads, local backend
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s - remote payload writes
					5000,  // 5s
					30000, // 30s - large payloads
				},
			},
			[]string{"outcome"},
		),
		retriesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docket_ingest_retries_total",
				Help: "Total retries scheduled for transient task failures",
			},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "docket_ingest_queue_depth",
				Help: "Tasks waiting in the ingestion queue",
			},
		),
		workers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "docket_ingest_workers",
				Help: "Current size of the worker pool",
			},
		),
	}
}

func (m *ingestMetrics) RecordSubmit(accepted bool) {
	if m == nil {
		return
	}

	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.submitsTotal.WithLabelValues(outcome).Inc()
}

func (m *ingestMetrics) ObserveTask(outcome string, duration time.Duration) {
	if m == nil {
		return
	}

	m.tasksTotal.WithLabelValues(outcome).Inc()
	m.taskDuration.WithLabelValues(outcome).Observe(duration.Seconds() * 1000)
}

func (m *ingestMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

func (m *ingestMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *ingestMetrics) SetWorkers(count int) {
	if m == nil {
		return
	}
	m.workers.Set(float64(count))
}
