package httpadapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caselex/precedent-engine/internal/config"
)

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	asks := &askFake{answer: groundedAnswer()}
	handler := newTestRouter(config.Config{APIRateLimitRPS: 1, APIRateLimitBurst: 1}, asks, nil, nil, nil)

	body := map[string]any{"workspace_id": "ws-main", "question": "Is the duty owed?"}
	first := postJSON(t, handler, "/v1/ask", body, "")
	if first.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d: %s", first.Code, first.Body.String())
	}

	second := postJSON(t, handler, "/v1/ask", body, "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on 429")
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	firstRes := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(firstRes, httptest.NewRequest(http.MethodGet, "/v1/ask", nil))
		close(done)
	}()
	<-started

	secondRes := httptest.NewRecorder()
	handler.ServeHTTP(secondRes, httptest.NewRequest(http.MethodGet, "/v1/ask", nil))
	if secondRes.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when saturated, got %d", secondRes.Code)
	}
	if secondRes.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on 503")
	}
	var payload map[string]string
	if err := json.Unmarshal(secondRes.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode overload body: %v", err)
	}
	if payload["error"] == "" {
		t.Fatalf("expected error message in overload body, got %s", secondRes.Body.String())
	}

	close(release)
	<-done
	if firstRes.Code != http.StatusOK {
		t.Fatalf("in-flight request expected 200 after release, got %d", firstRes.Code)
	}
}

func TestBackpressureMiddlewareSkipsProbePaths(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/ask" {
			close(started)
			<-release
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ask", nil))
		close(done)
	}()
	<-started

	probe := httptest.NewRecorder()
	handler.ServeHTTP(probe, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if probe.Code != http.StatusOK {
		t.Fatalf("probe expected 200 while saturated, got %d", probe.Code)
	}

	close(release)
	<-done
}
