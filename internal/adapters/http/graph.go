package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/oapi-codegen/runtime"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

type graphEdgesRequest struct {
	Edges []domain.Edge `json:"edges"`
}

// graph dispatches /v1/graph/{workspace}/{merge|rebuild|metrics}.
func (rt *Router) graph(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/graph/")
	workspaceID, action, ok := strings.Cut(rest, "/")
	if !ok || workspaceID == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown graph route"})
		return
	}

	switch action {
	case "merge":
		rt.graphMerge(w, r, workspaceID)
	case "rebuild":
		rt.graphRebuild(w, r, workspaceID)
	case "metrics":
		rt.graphMetrics(w, r, workspaceID)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown graph route"})
	}
}

func (rt *Router) graphMerge(w http.ResponseWriter, r *http.Request, workspaceID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	req, err := decodeEdges(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	result, err := rt.graphs.Merge(r.Context(), workspaceID, req.Edges)
	rt.httpMetrics.RecordGraphMerge("api", "merge", result, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// graphRebuild replaces the workspace edge set. A request without an edges
// field re-extracts edges from the whole corpus; an explicit empty array
// clears the graph.
func (rt *Router) graphRebuild(w http.ResponseWriter, r *http.Request, workspaceID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	req, err := decodeEdges(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	result, err := rt.graphs.Rebuild(r.Context(), workspaceID, req.Edges)
	rt.httpMetrics.RecordGraphMerge("api", "rebuild", result, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) graphMetrics(w http.ResponseWriter, r *http.Request, workspaceID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var top int
	if err := runtime.BindQueryParameter("form", true, false, "top", r.URL.Query(), &top); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid top parameter"})
		return
	}

	graphMetrics, err := rt.graphs.Metrics(r.Context(), workspaceID, top)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, graphMetrics)
}

// decodeEdges tolerates an empty body: merging nothing is a legal version
// bump and rebuild without edges re-extracts from the corpus.
func decodeEdges(body io.Reader) (graphEdgesRequest, error) {
	var req graphEdgesRequest
	err := json.NewDecoder(body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return graphEdgesRequest{}, err
	}
	return req, nil
}
