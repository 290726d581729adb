package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caselex/precedent-engine/internal/bootstrap"
	"github.com/caselex/precedent-engine/internal/config"
	"github.com/caselex/precedent-engine/internal/core/domain"
	"github.com/caselex/precedent-engine/internal/infrastructure/queue/nats"
	"github.com/caselex/precedent-engine/internal/observability/logging"
	"github.com/caselex/precedent-engine/internal/observability/metrics"
)

const (
	serviceName = "worker"
	jobTimeout  = 5 * time.Minute
	// A lost version race means another writer landed first; the update is
	// re-extracted against the new version rather than replayed blindly.
	mergeRetries = 3
)

type worker struct {
	app     *bootstrap.App
	metrics *metrics.WorkerMetrics
	logger  *slog.Logger
}

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	w := &worker{
		app:     app,
		metrics: metrics.NewWorkerMetrics(serviceName),
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", w.metrics.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(`{"status":"ok"}`))
	})
	metricsServer := &http.Server{
		Addr:        ":" + cfg.WorkerMetricsPort,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	group.Go(func() error { return app.Queue.SubscribeIndexUpsert(groupCtx, w.handleIndexUpsert) })
	group.Go(func() error { return app.Queue.SubscribeGraphUpdate(groupCtx, w.handleGraphUpdate) })
	group.Go(func() error { return app.Queue.SubscribeAskQueued(groupCtx, w.handleAskQueued) })

	logger.Info("worker_subscribed", "subjects", []string{
		nats.SubjectIndexUpsert, nats.SubjectGraphUpdate, nats.SubjectAskQueued,
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_failed", "error", err)
		os.Exit(1)
	}
}

func (w *worker) handleIndexUpsert(ctx context.Context, event domain.IndexUpsertEvent) error {
	w.metrics.StartJob()
	if !event.EnqueuedAt.IsZero() {
		w.metrics.ObserveQueueLag(serviceName, time.Since(event.EnqueuedAt))
	}
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	indexed, err := w.app.IndexUC.IndexPassages(jobCtx, event.WorkspaceID, event.PassageIDs)
	w.metrics.FinishJob(serviceName, nats.SubjectIndexUpsert, time.Since(start), err)
	if err != nil {
		w.logger.Error("index_upsert_failed",
			"workspace_id", event.WorkspaceID,
			"passages", len(event.PassageIDs),
			"error", err,
		)
		return err
	}

	w.metrics.PassagesIndexed(serviceName, indexed)
	w.logger.Info("passages_indexed", "workspace_id", event.WorkspaceID, "indexed", indexed)
	return nil
}

func (w *worker) handleGraphUpdate(ctx context.Context, event domain.GraphUpdateEvent) error {
	w.metrics.StartJob()
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	result, err := w.updateGraphWithRetry(jobCtx, event)
	w.metrics.FinishJob(serviceName, nats.SubjectGraphUpdate, time.Since(start), err)
	if err != nil {
		w.logger.Error("graph_update_failed", "workspace_id", event.WorkspaceID, "error", err)
		return err
	}

	if err := w.app.Queue.PublishGraphUpdated(jobCtx, domain.GraphUpdatedEvent{
		WorkspaceID: event.WorkspaceID,
		Version:     result.Version,
		EdgesAdded:  result.EdgesAdded,
	}); err != nil {
		w.logger.Warn("graph_updated_publish_failed", "workspace_id", event.WorkspaceID, "error", err)
	}

	w.logger.Info("graph_updated",
		"workspace_id", event.WorkspaceID,
		"version", result.Version,
		"edges_added", result.EdgesAdded,
	)
	return nil
}

func (w *worker) updateGraphWithRetry(ctx context.Context, event domain.GraphUpdateEvent) (*domain.MergeResult, error) {
	var lastErr error
	for attempt := 1; attempt <= mergeRetries; attempt++ {
		result, err := w.app.GraphUC.UpdateFromPassages(ctx, event.WorkspaceID, event.PassageIDs)
		if err == nil {
			return result, nil
		}
		if !domain.IsKind(err, domain.ErrMergeConflict) {
			return nil, err
		}
		lastErr = err
		w.metrics.MergeConflict(serviceName)
		w.logger.Warn("graph_merge_conflict",
			"workspace_id", event.WorkspaceID,
			"attempt", attempt,
			"retries", mergeRetries,
		)
	}
	return nil, lastErr
}

func (w *worker) handleAskQueued(ctx context.Context, event domain.AskQueuedEvent) error {
	w.metrics.StartJob()
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	answer, err := w.app.AskUC.Ask(jobCtx, domain.AskRequest{
		WorkspaceID: event.WorkspaceID,
		SessionID:   event.SessionID,
		Question:    event.Question,
	}, nil)
	w.metrics.FinishJob(serviceName, nats.SubjectAskQueued, time.Since(start), err)
	if err != nil {
		w.logger.Error("queued_ask_failed", "session_id", event.SessionID, "error", err)
		return err
	}

	if err := w.app.Queue.PublishAnswerReady(jobCtx, domain.AnswerReadyEvent{
		SessionID: event.SessionID,
		AnswerID:  answer.ID,
		Grounded:  answer.Grounded,
	}); err != nil {
		w.logger.Warn("answer_ready_publish_failed", "session_id", event.SessionID, "error", err)
	}

	w.logger.Info("queued_ask_answered",
		"session_id", event.SessionID,
		"answer_id", answer.ID,
		"grounded", answer.Grounded,
	)
	return nil
}
