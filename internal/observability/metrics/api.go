package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

// APIMetrics is the front-end registry: HTTP traffic plus question-answering
// and graph pipeline outcomes observed at the handlers.
type APIMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	asksTotal       *prometheus.CounterVec
	refusalsTotal   *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	answerCitations *prometheus.HistogramVec

	graphMergesTotal *prometheus.CounterVec
	graphMergeEdges  *prometheus.HistogramVec
	passagesAccepted *prometheus.CounterVec
}

func NewAPIMetrics(service string) *APIMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "precedent",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "precedent",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "precedent",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	asksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "precedent",
			Subsystem: "qa",
			Name:      "asks_total",
			Help:      "Total completed ask requests by outcome.",
		},
		[]string{"service", "outcome"},
	)
	refusalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "precedent",
			Subsystem: "qa",
			Name:      "refusals_total",
			Help:      "Total refused answers by reason.",
		},
		[]string{"service", "reason"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "precedent",
			Subsystem: "qa",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each synthesis stage.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	answerCitations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "precedent",
			Subsystem: "qa",
			Name:      "answer_citations",
			Help:      "Distribution of citations per grounded answer.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 8},
		},
		[]string{"service"},
	)
	graphMergesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "precedent",
			Subsystem: "graph",
			Name:      "merges_total",
			Help:      "Total graph merge and rebuild requests by status.",
		},
		[]string{"service", "operation", "status"},
	)
	graphMergeEdges := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "precedent",
			Subsystem: "graph",
			Name:      "merge_edges",
			Help:      "Distribution of edges added per merge.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"service", "operation"},
	)
	passagesAccepted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "precedent",
			Subsystem: "index",
			Name:      "passages_accepted_total",
			Help:      "Total passages accepted for indexing.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		asksTotal,
		refusalsTotal,
		stageDuration,
		answerCitations,
		graphMergesTotal,
		graphMergeEdges,
		passagesAccepted,
	)

	return &APIMetrics{
		registry:         registry,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestInFlight:  requestInFlight,
		asksTotal:        asksTotal,
		refusalsTotal:    refusalsTotal,
		stageDuration:    stageDuration,
		answerCitations:  answerCitations,
		graphMergesTotal: graphMergesTotal,
		graphMergeEdges:  graphMergeEdges,
		passagesAccepted: passagesAccepted,
	}
}

func (m *APIMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *APIMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses identifier segments so label cardinality stays
// bounded.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/graph/"):
		rest := strings.TrimPrefix(path, "/v1/graph/")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/v1/graph/{workspace}" + rest[i:]
		}
		return "/v1/graph/{workspace}"
	case strings.HasPrefix(path, "/v1/sessions/"):
		return "/v1/sessions/{session_id}"
	default:
		return path
	}
}

// RecordAsk observes one completed ask. Outcome is grounded, refused,
// overloaded, or error.
func (m *APIMetrics) RecordAsk(service string, answer *domain.Answer, err error) {
	outcome := "error"
	switch {
	case err == nil && answer != nil && answer.Grounded:
		outcome = "grounded"
	case err == nil && answer != nil:
		outcome = "refused"
	case domain.IsKind(err, domain.ErrOverloaded):
		outcome = "overloaded"
	}
	m.asksTotal.WithLabelValues(service, outcome).Inc()

	if answer == nil {
		return
	}
	if answer.Grounded {
		m.answerCitations.WithLabelValues(service).Observe(float64(len(answer.Citations)))
		return
	}
	reason := answer.RefusalReason
	if reason == "" {
		reason = "unknown"
	}
	m.refusalsTotal.WithLabelValues(service, reason).Inc()
}

func (m *APIMetrics) ObserveStage(service string, stage domain.SynthesisState, duration time.Duration) {
	if duration < 0 {
		return
	}
	m.stageDuration.WithLabelValues(service, string(stage)).Observe(duration.Seconds())
}

func (m *APIMetrics) RecordGraphMerge(service, operation string, result *domain.MergeResult, err error) {
	status := "ok"
	switch {
	case domain.IsKind(err, domain.ErrMergeConflict):
		status = "conflict"
	case err != nil:
		status = "error"
	}
	m.graphMergesTotal.WithLabelValues(service, operation, status).Inc()
	if result != nil {
		m.graphMergeEdges.WithLabelValues(service, operation).Observe(float64(result.EdgesAdded))
	}
}

func (m *APIMetrics) RecordPassagesAccepted(service string, count int) {
	if count <= 0 {
		return
	}
	m.passagesAccepted.WithLabelValues(service).Add(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Flush must pass through so stage and delta events reach streaming clients
// as they happen.
func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
