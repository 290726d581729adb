package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/caselex/precedent-engine/internal/config"
	"github.com/caselex/precedent-engine/internal/core/domain"
	"github.com/caselex/precedent-engine/internal/core/ports"
	"github.com/caselex/precedent-engine/internal/observability/metrics"
)

type askService interface {
	Ask(ctx context.Context, req domain.AskRequest, sink func(domain.AskEvent)) (*domain.Answer, error)
	GetSession(ctx context.Context, sessionID string) (*domain.QASession, []domain.Answer, error)
}

type indexService interface {
	UpsertPassages(ctx context.Context, workspaceID string, passages []domain.Passage) ([]string, error)
}

type graphService interface {
	Merge(ctx context.Context, workspaceID string, edges []domain.Edge) (*domain.MergeResult, error)
	Rebuild(ctx context.Context, workspaceID string, edges []domain.Edge) (*domain.MergeResult, error)
	Metrics(ctx context.Context, workspaceID string, topN int) (*domain.GraphMetrics, error)
}

type Router struct {
	cfg         config.Config
	asks        askService
	indexer     indexService
	graphs      graphService
	queue       ports.MessageQueue
	httpMetrics *metrics.APIMetrics
	logger      *slog.Logger
}

// NewRouter wires the HTTP surface. queue may be nil; queued asks then
// return 503.
func NewRouter(
	cfg config.Config,
	asks askService,
	indexer indexService,
	graphs graphService,
	queue ports.MessageQueue,
	httpMetrics *metrics.APIMetrics,
	logger *slog.Logger,
) *Router {
	if httpMetrics == nil {
		httpMetrics = metrics.NewAPIMetrics("api")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:         cfg,
		asks:        asks,
		indexer:     indexer,
		graphs:      graphs,
		queue:       queue,
		httpMetrics: httpMetrics,
		logger:      logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/ask", rt.ask)
	mux.HandleFunc("/v1/passages", rt.upsertPassages)
	mux.HandleFunc("/v1/graph/", rt.graph)
	mux.HandleFunc("/v1/sessions/", rt.getSession)
	mux.Handle("/metrics", rt.httpMetrics.Handler())

	var handler http.Handler = mux
	handler = validationMiddleware(handler, rt.logger)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxConcurrent, backpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = rt.httpMetrics.Middleware("api", handler)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

const backpressureWait = 200 * time.Millisecond
