package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"github.com/caselex/precedent-engine/internal/core/domain"
	"github.com/caselex/precedent-engine/internal/observability/metrics"
)

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	var async bool
	if err := runtime.BindQueryParameter("form", true, false, "async", r.URL.Query(), &async); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid async parameter"})
		return
	}
	if async {
		rt.enqueueAsk(w, r, req)
		return
	}

	stages := &stageTimer{metrics: rt.httpMetrics}

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		answer, err := rt.asks.Ask(r.Context(), req, stages.observe)
		rt.httpMetrics.RecordAsk("api", answer, err)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, answer)
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	answer, err := rt.asks.Ask(r.Context(), req, func(event domain.AskEvent) {
		stages.observe(event)
		stream.send(event)
	})
	rt.httpMetrics.RecordAsk("api", answer, err)
	if err != nil {
		if !stream.started {
			writeError(w, err)
			return
		}
		stream.sendError(err)
	}
	stream.close()

	if writeErr := stream.err(); writeErr != nil {
		rt.logger.Warn("ask_stream_interrupted",
			"request_id", requestIDFromContext(r.Context()),
			"error", writeErr.Error(),
		)
	}
}

// enqueueAsk hands the question to the worker pool and returns immediately
// with the session id the answer will land under.
func (rt *Router) enqueueAsk(w http.ResponseWriter, r *http.Request, req domain.AskRequest) {
	if rt.queue == nil {
		writeError(w, domain.WrapError(domain.ErrTemporary, "queue ask", fmt.Errorf("queue not configured")))
		return
	}
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.Question = strings.TrimSpace(req.Question)
	if req.WorkspaceID == "" || req.Question == "" {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "queue ask", fmt.Errorf("workspace and question are required")))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
	}

	err := rt.queue.PublishAskQueued(r.Context(), domain.AskQueuedEvent{
		SessionID:   req.SessionID,
		WorkspaceID: req.WorkspaceID,
		Question:    req.Question,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": req.SessionID,
		"status":     "queued",
	})
}

// stageTimer turns the stream of stage events into per-stage durations.
type stageTimer struct {
	metrics *metrics.APIMetrics
	last    domain.SynthesisState
	lastAt  time.Time
}

func (t *stageTimer) observe(event domain.AskEvent) {
	if event.Type != domain.AskEventStage {
		return
	}
	now := time.Now()
	if t.last != "" {
		t.metrics.ObserveStage("api", t.last, now.Sub(t.lastAt))
	}
	t.last = event.Stage
	t.lastAt = now
}
