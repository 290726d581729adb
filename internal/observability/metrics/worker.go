package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics tracks queue-driven pipeline work: indexing jobs, graph
// updates, and queued asks.
type WorkerMetrics struct {
	registry        *prometheus.Registry
	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobsInFlight    prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	mergeConflicts  *prometheus.CounterVec
	passagesIndexed *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "precedent",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total queue messages processed by subject and status.",
		},
		[]string{"service", "subject", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "precedent",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Queue message processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "subject", "status"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "precedent",
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Number of queue messages currently being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "precedent",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Time between message enqueue and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	mergeConflicts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "precedent",
			Subsystem: "worker",
			Name:      "merge_conflicts_total",
			Help:      "Total graph merges retried after losing a version race.",
		},
		[]string{"service"},
	)
	passagesIndexed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "precedent",
			Subsystem: "worker",
			Name:      "passages_indexed_total",
			Help:      "Total passages written to the search indexes.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		jobsTotal,
		jobDuration,
		jobsInFlight,
		queueLag,
		mergeConflicts,
		passagesIndexed,
	)

	return &WorkerMetrics{
		registry:        registry,
		jobsTotal:       jobsTotal,
		jobDuration:     jobDuration,
		jobsInFlight:    jobsInFlight,
		queueLag:        queueLag,
		mergeConflicts:  mergeConflicts,
		passagesIndexed: passagesIndexed,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(service, subject string, duration time.Duration, err error) {
	m.jobsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.jobsTotal.WithLabelValues(service, subject, status).Inc()
	m.jobDuration.WithLabelValues(service, subject, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) MergeConflict(service string) {
	m.mergeConflicts.WithLabelValues(service).Inc()
}

func (m *WorkerMetrics) PassagesIndexed(service string, count int) {
	if count <= 0 {
		return
	}
	m.passagesIndexed.WithLabelValues(service).Add(float64(count))
}
